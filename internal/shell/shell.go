// Package shell implements the Interactive Shell (C11): the REPL state
// machine that reads a line, runs it through CANONICALIZE → RESOLVE →
// STATIC → LLM, and either executes, prompts to confirm, or blocks,
// auditing every decision. See spec.md §4.10.
//
// Grounded on diillson-chatcli/cli/cli.go's Start loop (liner.NewLiner,
// SetCtrlCAborts(true), Prompt/ErrPromptAborted handling, history
// load-and-replay into the liner instance) and cli/policy_adapter.go's
// CheckAndPrompt switch (the Allow/Ask/Deny shape WARN's confirm prompt
// and the "unknown action defaults to deny" fallback are adapted from).
package shell

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/aegish-sh/aegish/internal/action"
	"github.com/aegish-sh/aegish/internal/audit"
	"github.com/aegish-sh/aegish/internal/canon"
	"github.com/aegish-sh/aegish/internal/config"
	execpkg "github.com/aegish-sh/aegish/internal/exec"
	"github.com/aegish-sh/aegish/internal/history"
	"github.com/aegish-sh/aegish/internal/llmclient"
	"github.com/aegish-sh/aegish/internal/obs"
	"github.com/aegish-sh/aegish/internal/resolve"
	"github.com/aegish-sh/aegish/internal/validate"
)

// exitCommands quits the REPL, matching the teacher's '/exit'/'exit' set
// (collapsed here, since aegish has no slash-command surface of its own).
var exitCommands = map[string]bool{"exit": true, "quit": true}

// cdPattern recognizes the strict single-token `cd` form spec.md §4.10
// fast-paths. Anything else containing "cd" — compound commands, cd with
// flags, cd with a quoted/escaped argument — falls through to the full
// pipeline like any other input.
var cdPattern = regexp.MustCompile(`^cd(?:\s+(\S+))?$`)

// cdMetacharacters disqualifies a `cd` argument from the fast path: its
// presence means the token is not a single inert path.
const cdMetacharacters = "$`\\;&|()<>\n\"'*?[]{}~!#"

// Shell is the REPL. One instance per session; it owns the session's
// mutable state (last exit code, liner instance) and holds the
// components built once at startup.
type Shell struct {
	cfg       config.Snapshot
	logger    *zap.Logger
	validator *validate.Validator
	resolver  *resolve.Resolver
	llm       *llmclient.Manager
	auditLog  *audit.Log
	executor  *execpkg.Executor
	hist      *history.Manager

	line         *liner.State
	lastExitCode int
	metrics      *obs.DecisionMetrics
}

// SetMetrics wires the process's decision metrics into the shell.
// Optional: a Shell with no metrics attached behaves exactly as before.
func (s *Shell) SetMetrics(metrics *obs.DecisionMetrics) {
	s.metrics = metrics
}

// New builds a Shell from its already-constructed components.
func New(
	cfg config.Snapshot,
	logger *zap.Logger,
	validator *validate.Validator,
	resolver *resolve.Resolver,
	llm *llmclient.Manager,
	auditLog *audit.Log,
	executor *execpkg.Executor,
	hist *history.Manager,
) *Shell {
	return &Shell{
		cfg:       cfg,
		logger:    logger,
		validator: validator,
		resolver:  resolver,
		llm:       llm,
		auditLog:  auditLog,
		executor:  executor,
		hist:      hist,
	}
}

// Run starts the interactive REPL loop. It blocks until the user exits or
// ctx is canceled.
func (s *Shell) Run(ctx context.Context) error {
	s.line = liner.NewLiner()
	defer func() { _ = s.line.Close() }()
	s.line.SetCtrlCAborts(true)

	if s.hist != nil {
		if loaded, err := s.hist.Load(); err != nil {
			s.logger.Warn("could not load command history", zap.Error(err))
		} else {
			for _, cmd := range loaded {
				s.line.AppendHistory(cmd)
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	fmt.Println("aegish — type 'exit' to quit.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		input, err := s.line.Prompt("aegish> ")
		if err != nil {
			if err == liner.ErrPromptAborted {
				// SIGINT during READ: cancel this line only, never escape
				// validation or fall through to execution (spec.md §5).
				continue
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		s.line.AppendHistory(input)
		if s.hist != nil {
			if err := s.hist.Append(input); err != nil {
				s.logger.Warn("could not append to command history", zap.Error(err))
			}
		}

		if exitCommands[input] {
			return nil
		}

		// SIGINT during an in-flight command (e.g. a blocking LLM call)
		// cancels the submission's context; Submit's fail-mode path then
		// resolves to a synthetic BLOCK/WARN, never to execution.
		cmdCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-cmdCtx.Done():
			}
		}()

		if err := s.Submit(cmdCtx, input); err != nil {
			fmt.Fprintln(os.Stderr, "aegish:", err)
		}
		cancel()
	}
}

// Submit runs one line through the full validation pipeline and, on an
// ALLOW/confirmed-WARN verdict, executes it. It satisfies
// internal/history.Pipeline so history replay re-enters exactly this path
// rather than executing a recorded line directly (spec.md §6).
func (s *Shell) Submit(ctx context.Context, input string) error {
	if path, ok, fastPath := matchCDFastPath(input); fastPath && ok {
		return s.runCDFastPath(ctx, input, path, ok)
	}

	canonical := canon.Canonicalize(input)

	resolved := s.resolver.Resolve(ctx, canonical)
	if resolved.Blocked {
		s.printAndAudit(canonical, resolved.ResolvedText, action.Block, resolved.Reason, action.SourceBlocklist, 0)
		return nil
	}

	staticResult := s.validator.ValidateStatic(resolved.ResolvedText)
	verdict := staticResult

	switch staticResult.Action {
	case action.Block:
		s.printAndAudit(canonical, resolved.ResolvedText, action.Block, staticResult.Reason, staticResult.Source, staticResult.Confidence)
		return nil
	case action.Allow, action.Warn:
		verdict = s.llm.ValidateViaLLM(ctx, canonical, resolved.ResolvedText, resolved.Annotations)
	default:
		// UNKNOWN (or any value outside {Allow, Warn, Block}) is a hard
		// BLOCK with no LLM consultation (spec.md §4.10).
		s.printAndAudit(canonical, resolved.ResolvedText, action.Block, "unresolved static verdict", staticResult.Source, 0)
		return nil
	}

	final := action.Resolve(verdict.Action)

	if s.auditLog != nil && s.auditLog.IsBlocked() && s.cfg.Mode == config.ModeProduction {
		// The audit log itself is failing to write in production: fail
		// closed rather than execute un-audited commands (spec.md §4.6).
		fmt.Fprintln(os.Stderr, "aegish: audit log unavailable, refusing to execute")
		return nil
	}

	switch final {
	case action.Allow:
		s.audit(canonical, resolved.ResolvedText, action.Allow, verdict.Reason, verdict.Source, verdict.Confidence, false)
		return s.execute(ctx, resolved.ResolvedText)
	case action.Warn:
		// The WARN verdict itself is always its own audit line, whether
		// or not the operator goes on to override it.
		s.audit(canonical, resolved.ResolvedText, action.Warn, verdict.Reason, verdict.Source, verdict.Confidence, false)
		if s.confirm(verdict.Reason) {
			s.auditOverride(canonical, resolved.ResolvedText, verdict.Source, verdict.Confidence)
			return s.execute(ctx, resolved.ResolvedText)
		}
		fmt.Println("declined.")
		return nil
	default: // Block
		s.printAndAudit(canonical, resolved.ResolvedText, action.Block, verdict.Reason, verdict.Source, verdict.Confidence)
		return nil
	}
}

// matchCDFastPath reports whether input is a strict single-token `cd`
// invocation. fastPath is false for anything else, including compound
// commands containing "cd". When fastPath is true, ok reports whether the
// single token (if any) is free of shell metacharacters; path is that
// token (empty for a bare `cd`).
func matchCDFastPath(input string) (path string, ok bool, fastPath bool) {
	m := cdPattern.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return "", false, false
	}
	path = m[1]
	if path == "" {
		return "", true, true
	}
	if strings.ContainsAny(path, cdMetacharacters) {
		return "", false, true
	}
	return path, true, true
}

func (s *Shell) runCDFastPath(ctx context.Context, input, path string, ok bool) error {
	if !ok {
		// Not actually a clean fast-path token (contains metacharacters
		// despite matching the outer shape) — fall through to the full
		// pipeline instead of special-casing it.
		return s.submitThroughPipeline(ctx, input)
	}
	if err := s.executor.Chdir(path); err != nil {
		fmt.Fprintln(os.Stderr, "cd:", err)
		s.audit(input, input, action.Block, "cd target invalid: "+err.Error(), "cd-fastpath", 0, false)
		return nil
	}
	s.audit(input, input, action.Allow, "cd fast path", "cd-fastpath", 0, false)
	return nil
}

// submitThroughPipeline re-enters Submit's non-fast-path logic for input
// that superficially matched the cd pattern but failed the metacharacter
// check. Submit takes the fast path only when that check passes, so this
// call cannot loop back into runCDFastPath.
func (s *Shell) submitThroughPipeline(ctx context.Context, input string) error {
	return s.Submit(ctx, input)
}

// confirm prompts the operator for a WARN verdict's y/N override,
// defaulting to "no" on any input other than an explicit "y"/"yes"
// (case-insensitive), matching spec.md §4.10's CONFIRM(y/N).
func (s *Shell) confirm(reason string) bool {
	fmt.Printf("WARN: %s\n", reason)
	if s.line == nil {
		// No interactive prompt available (e.g. history replay, or a
		// test driving Submit directly): default to "no", never to
		// silent execution.
		return false
	}
	answer, err := s.line.Prompt("Execute anyway? [y/N] ")
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// execute runs the resolved command through the Executor and prints its
// output. The decision itself must already be audited by the caller
// before execute runs, so the audit line records the decision even if
// execution then fails or is interrupted.
func (s *Shell) execute(ctx context.Context, resolved string) error {
	out, exitCode, err := s.executor.RunWithExitCode(ctx, resolved, s.lastExitCode)
	s.lastExitCode = exitCode
	fmt.Print(out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "aegish: execution error:", err)
	}
	return nil
}

// printAndAudit prints a user-facing BLOCK message and writes the audit
// record in one step — the common shape for every short-circuit path.
func (s *Shell) printAndAudit(canonical, resolved string, act action.Action, reason string, source action.Source, confidence float64) {
	fmt.Printf("blocked: %s\n", reason)
	s.audit(canonical, resolved, act, reason, source, confidence, false)
}

func (s *Shell) audit(canonical, resolved string, act action.Action, reason string, source action.Source, confidence float64, override bool) {
	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(act.String(), string(source)).Inc()
	}
	if s.auditLog == nil {
		return
	}
	cwd := ""
	if s.executor != nil {
		cwd = s.executor.State().CWD
	}
	rec := audit.Record{
		Timestamp:  time.Now(),
		CWD:        cwd,
		Canonical:  canonical,
		Resolved:   resolved,
		Action:     act.String(),
		Reason:     reason,
		Source:     string(source),
		Confidence: confidence,
		Override:   override,
	}
	if err := s.auditLog.Write(rec); err != nil {
		s.logger.Warn("audit write failed", zap.Error(err))
	}
}

// auditOverride writes the dedicated override record for a WARN verdict
// the operator chose to execute anyway — always a second, distinct line
// from the WARN verdict's own record (spec.md §4.6).
func (s *Shell) auditOverride(canonical, resolved string, source action.Source, confidence float64) {
	if s.auditLog == nil {
		return
	}
	cwd := ""
	if s.executor != nil {
		cwd = s.executor.State().CWD
	}
	rec := audit.Record{
		Timestamp:  time.Now(),
		CWD:        cwd,
		Canonical:  canonical,
		Resolved:   resolved,
		Action:     action.Warn.String(),
		Reason:     "operator override: executed despite WARN",
		Source:     string(source),
		Confidence: confidence,
	}
	if err := s.auditLog.WriteOverride(rec); err != nil {
		s.logger.Warn("audit override write failed", zap.Error(err))
	}
}
