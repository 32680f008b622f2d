// Package audit implements the Audit Log (C7): structured, append-only
// JSON-per-line records of every validation decision, with escalating
// failure handling when the log itself cannot be written. See
// spec.md §4.6.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegish-sh/aegish/internal/aegerr"
	"github.com/aegish-sh/aegish/internal/config"
	"github.com/aegish-sh/aegish/internal/obs"
)

// maxConsecutiveFailures is the escalation threshold: after this many
// back-to-back write failures, production mode blocks further command
// execution until the log recovers (spec.md §4.6).
const maxConsecutiveFailures = 3

// Record is one audit entry. Override is set on the separate record
// spec.md §4.6 requires for a WARN-then-confirm execute decision — the
// base WARN verdict record and the operator's override are always two
// distinct lines, never merged into one (see SPEC_FULL.md Open Question
// decision 2).
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	CWD        string    `json:"cwd"`
	Canonical  string    `json:"canonical"`
	Resolved   string    `json:"resolved,omitempty"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason,omitempty"`
	Source     string    `json:"source,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Override   bool      `json:"override,omitempty"`
}

// Log is the append-only audit writer. One instance is shared across a
// session, serialized by mu exactly like the teacher's HistoryManager is
// used from a single REPL goroutine plus occasional signal-driven saves.
type Log struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	mode     config.Mode
	logger   *zap.Logger
	failures int
	blocked  bool
	metrics  *obs.DecisionMetrics
}

// SetMetrics wires the process's decision metrics into the log so
// consecutive-write-failure escalation is observable, not just logged.
// Optional: a Log with no metrics attached behaves exactly as before.
func (l *Log) SetMetrics(m *obs.DecisionMetrics) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// Open creates or appends to the audit log at path. In production, a
// failure to open is fatal (spec.md §4.6: "Initialization failure in
// production is fatal"); in development it is a soft warning so local
// iteration is not blocked by an unwritable path.
func Open(path string, mode config.Mode, logger *zap.Logger) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		if mode == config.ModeProduction {
			return nil, aegerr.New(aegerr.AuditWriteFailure, "audit.Open", err)
		}
		logger.Warn("audit log unavailable in development mode; continuing without persistence", zap.Error(err), zap.String("path", path))
		return &Log{path: path, mode: mode, logger: logger}, nil
	}
	return &Log{f: f, path: path, mode: mode, logger: logger}, nil
}

// Write appends one record as a single JSON line. A failure is handled
// per spec.md §4.6's escalation: the first N-1 failures are logged at
// debug, the Nth logs a visible warning and, in production, trips
// IsBlocked so the shell refuses further execution until the log
// recovers.
func (l *Log) Write(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil // development mode, no file opened
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.f.Write(line); err != nil {
		l.failures++
		if l.metrics != nil {
			l.metrics.AuditFailures.Inc()
		}
		if l.failures >= maxConsecutiveFailures {
			l.logger.Warn("audit log write failing repeatedly; blocking further execution until it recovers",
				zap.Int("consecutive_failures", l.failures), zap.Error(err))
			if l.mode == config.ModeProduction {
				l.blocked = true
			}
		} else {
			l.logger.Debug("audit log write failed", zap.Int("consecutive_failures", l.failures), zap.Error(err))
		}
		return aegerr.New(aegerr.AuditWriteFailure, "audit.Write", err)
	}

	l.failures = 0
	l.blocked = false
	return nil
}

// WriteOverride writes the separate override record for a WARN verdict
// the operator chose to execute anyway.
func (l *Log) WriteOverride(rec Record) error {
	rec.Override = true
	return l.Write(rec)
}

// IsBlocked reports whether repeated write failures have tripped the
// production fail-closed state.
func (l *Log) IsBlocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocked
}

// Close closes the underlying file, if one was opened.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.f.Close()
}
