// Package history implements aegish's consumed history-file persistence
// interface (spec.md §1 lists history file I/O as "consumed as an opaque
// persistence interface") plus the one behavior spec.md does constrain
// directly: "any history-replay execution MUST re-run the full validation
// pipeline" (spec.md §6). Grounded on
// diillson-chatcli/cli/history_manager.go's HistoryManager: same
// load/append/size-triggered-backup shape, adapted to 0600 permissions
// and to forbid any replay path that doesn't go back through the shell's
// own Submit entry point.
package history

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxSize mirrors the teacher's config.DefaultMaxHistorySize
// constant shape: a byte ceiling past which the next append triggers a
// timestamped backup rotation rather than unbounded growth.
const DefaultMaxSize int64 = 50 * 1024 * 1024 // 50MB

// historyPerm is stricter than the teacher's 0644: spec.md §6 requires
// 0600 because history lines may contain command text the static
// validator or LLM client judged WARN/BLOCK-worthy.
const historyPerm = 0o600

// Pipeline is the full validation+execution entry point history replay is
// required to go back through — normally the interactive shell (C11)
// itself. A history line is never executed directly by this package; it
// is only ever handed to Submit, exactly as if the user had just typed it
// at the prompt.
type Pipeline interface {
	Submit(ctx context.Context, line string) error
}

// Manager persists and replays the REPL's line history.
type Manager struct {
	path    string
	logger  *zap.Logger
	maxSize int64
}

// New builds a Manager backed by path, rotating once the file reaches
// maxSize bytes. maxSize <= 0 selects DefaultMaxSize.
func New(path string, logger *zap.Logger, maxSize int64) *Manager {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Manager{path: path, logger: logger, maxSize: maxSize}
}

// Load reads every line currently in the history file. A missing file is
// not an error — it means there is no history yet.
func (m *Manager) Load() ([]string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		if m.logger != nil {
			m.logger.Warn("could not load command history", zap.Error(err), zap.String("path", m.path))
		}
		return nil, err
	}

	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines, nil
}

// Append writes a single line to the history file, rotating the existing
// file to a timestamped backup first if it has reached maxSize. The file
// is created with historyPerm if it does not exist; an existing file's
// mode is never widened.
func (m *Manager) Append(line string) error {
	if info, err := os.Stat(m.path); err == nil && info.Size() >= m.maxSize {
		backup := fmt.Sprintf("%s.bak-%d", m.path, time.Now().Unix())
		if err := os.Rename(m.path, backup); err != nil {
			if m.logger != nil {
				m.logger.Warn("could not rotate command history", zap.Error(err))
			}
			return err
		}
		if m.logger != nil {
			m.logger.Info("rotated command history", zap.String("backup", backup))
		}
	}

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, historyPerm)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("could not open command history for append", zap.Error(err))
		}
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = fmt.Fprintln(f, line)
	return err
}

// Replay re-submits a previously recorded line through pipeline, never
// executing it directly. This is the only sanctioned way to re-run a
// history entry: there is deliberately no "exec history[i]" path anywhere
// in this package (spec.md §6).
func (m *Manager) Replay(ctx context.Context, line string, pipeline Pipeline) error {
	return pipeline.Submit(ctx, line)
}
