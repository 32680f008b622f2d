// Package exec implements the Executor (C9): it wraps a resolved, already
// validated command in a last-exit-code-clamped shell invocation, spawns it
// under a Landlock-sandboxed child with a sanitized environment, and
// captures post-execution session state. See spec.md §4.8.
package exec

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/aegish-sh/aegish/internal/aegerr"
	"github.com/aegish-sh/aegish/internal/config"
	"github.com/aegish-sh/aegish/internal/sandbox"
	"github.com/aegish-sh/aegish/internal/sandboxer"
)

// canaryEnvVar is the variable the sandboxer library (C10) sets, via its
// constructor's setenv call inside the bash process it's preloaded into,
// once it has successfully applied NO_NEW_PRIVS + Landlock. The wrapped
// script echoes the child's environment back to the parent over a private
// fd (see wrapWithCapture); the parent looks for canaryEnvVar there to
// confirm the sudo path was actually sandboxed (spec.md §4.8). Shared with
// internal/sandboxer so the two ends of the check can never drift apart.
const canaryEnvVar = sandboxer.CanaryEnvVar

// stateCaptureSeparator splits the pwd line from the env dump in the
// state-capture fd payload.
const stateCaptureSeparator = "\x00"

// SessionState is the subset of child process state the REPL (C11) carries
// forward between commands: the resulting working directory and any
// allowlisted environment changes. No AEGISH_ security-critical key is
// ever captured here (spec.md §4.8).
type SessionState struct {
	CWD string
	Env map[string]string
}

// Executor runs resolved commands inside the Landlock sandbox. It is
// grounded on diillson-chatcli/cli/command_executor.go's
// exec.Command(shellPath, "-c", command) + CombinedOutput shape, extended
// with sandboxing, env sanitization, and exit-code wrapping per spec.md.
type Executor struct {
	cfg    config.Snapshot
	logger *zap.Logger

	// cwd and env are the mutable session state carried between
	// invocations; Run reads them to build the child's environment and
	// updates them from the child's post-execution state.
	cwd string
	env map[string]string
}

// New builds an Executor. startCWD seeds the initial working directory
// (normally os.Getwd() at shell startup).
func New(cfg config.Snapshot, logger *zap.Logger, startCWD string) *Executor {
	return &Executor{
		cfg:    cfg,
		logger: logger,
		cwd:    startCWD,
		env:    sanitizeEnv(os.Environ()),
	}
}

// State returns a snapshot of the executor's current session state.
func (e *Executor) State() SessionState {
	env := make(map[string]string, len(e.env))
	for k, v := range e.env {
		env[k] = v
	}
	return SessionState{CWD: e.cwd, Env: env}
}

// Chdir updates the executor's tracked working directory for the REPL's
// `cd` fast path (spec.md §4.10): a bare `cd` never goes through the
// Resolver/Validator/LLM pipeline, so it must update session state
// directly rather than by spawning a child whose own cwd change would be
// invisible to the parent. path is resolved relative to the current cwd
// if not already absolute; "" (bare `cd`) resolves to $HOME.
func (e *Executor) Chdir(path string) error {
	target := path
	if target == "" {
		target = e.env["HOME"]
		if target == "" {
			return aegerr.New(aegerr.ExecutionFailure, "exec.Chdir", fmt.Errorf("HOME not set in sanitized environment"))
		}
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(e.cwd, target)
	}
	info, err := os.Stat(target)
	if err != nil {
		return aegerr.New(aegerr.ExecutionFailure, "exec.Chdir", err)
	}
	if !info.IsDir() {
		return aegerr.New(aegerr.ExecutionFailure, "exec.Chdir", fmt.Errorf("%s is not a directory", target))
	}
	e.cwd = target
	return nil
}

// clampExitCode forces an out-of-range exit code into [0, 255] per
// spec.md §4.8's wrapping rule.
func clampExitCode(code int) int {
	if code < 0 || code > 255 {
		return 255
	}
	return code
}

// wrapWithCapture composes the inner bash script: spec.md §4.8's
// "(exit <last_exit_code>); <resolved_command>", followed by a trailer
// that dumps the resulting cwd and environment to fd 3 (wired to a private
// temp file via Cmd.ExtraFiles, never to the user-visible stdout/stderr)
// without disturbing the wrapped command's own exit status.
func wrapWithCapture(lastExitCode int, resolvedCommand string) string {
	return fmt.Sprintf(
		"(exit %d); %s\n__aegish_rc__=$?\n{ pwd; printf '\\0'; env; } >&3 2>/dev/null\nexit \"$__aegish_rc__\"",
		clampExitCode(lastExitCode), resolvedCommand,
	)
}

// Run executes a fully resolved and validated command and returns its
// combined stdout, exit code, and any execution-layer error. It satisfies
// internal/resolve.Runner so the Resolver can use the same sandboxed path
// to execute inner command substitutions it needs output from.
func (e *Executor) Run(ctx context.Context, command string) (string, int, error) {
	return e.RunWithExitCode(ctx, command, 0)
}

// RunWithExitCode is Run plus an explicit lastExitCode to seed the wrapper,
// used by the REPL (C11) which tracks $? across the session. Run always
// passes 0, which is appropriate for the Resolver's isolated inner-command
// executions (they have no prior $? of their own).
func (e *Executor) RunWithExitCode(ctx context.Context, command string, lastExitCode int) (string, int, error) {
	trimmed := strings.TrimSpace(command)
	useSudo := trimmed == "sudo" || strings.HasPrefix(trimmed, "sudo ")

	wrapped := wrapWithCapture(lastExitCode, command)

	bashPath, err := e.verifiedBashPath()
	if err != nil {
		return "", 0, err
	}

	stateFile, err := os.CreateTemp("", "aegish-state-*")
	if err != nil {
		return "", 0, aegerr.New(aegerr.ExecutionFailure, "exec.Run", err)
	}
	defer os.Remove(stateFile.Name())
	defer stateFile.Close()

	var cmd *osexec.Cmd
	if useSudo {
		cmd, err = e.buildSudoCmd(ctx, bashPath, wrapped)
	} else {
		cmd, err = e.buildDirectCmd(ctx, bashPath, wrapped)
	}
	if err != nil {
		return "", 0, err
	}
	cmd.Dir = e.cwd
	cmd.ExtraFiles = []*os.File{stateFile}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*osexec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return out.String(), 0, aegerr.New(aegerr.ExecutionFailure, "exec.Run", runErr)
		}
	}

	newCWD, newEnvLines := parseStateCapture(stateFile.Name())

	if useSudo && e.cfg.Mode == config.ModeProduction {
		if !envLinesContainKey(newEnvLines, canaryEnvVar) {
			return "", 0, aegerr.New(aegerr.ExecutionFailure, "exec.Run",
				fmt.Errorf("sandboxer canary %s not observed on sudo path; blocked, not retried unsandboxed", canaryEnvVar))
		}
	}

	e.captureState(newCWD, newEnvLines)

	return out.String(), clampExitCode(exitCode), nil
}

// buildDirectCmd builds the non-sudo spawn path: NO_NEW_PRIVS + a Landlock
// ruleset are applied to the calling OS thread before Start forks the
// child, per spec.md §4.8 ("Spawning (non-sudo path)"). Landlock
// restrictions apply to the issuing thread and are inherited by every
// descendant it subsequently forks, so restricting this goroutine's locked
// thread immediately before Start is sufficient — no separate
// pre-exec-in-child hook is needed or available through os/exec.
func (e *Executor) buildDirectCmd(ctx context.Context, bashPath, wrapped string) (*osexec.Cmd, error) {
	cmd := osexec.CommandContext(ctx, bashPath, "--norc", "--noprofile", "-c", wrapped)
	cmd.Env = envSlice(e.env)

	ruleset, err := sandbox.Build()
	if err != nil {
		return nil, aegerr.New(aegerr.LandlockUnavailable, "exec.buildDirectCmd", err)
	}

	// Locked deliberately and never unlocked: once this thread is
	// Landlock-restricted there is no syscall to widen it again, so it
	// must never be returned to the general goroutine scheduling pool.
	runtime.LockOSThread()
	if err := ruleset.Activate(); err != nil {
		return nil, aegerr.New(aegerr.LandlockUnavailable, "exec.buildDirectCmd", err)
	}

	return cmd, nil
}

// buildSudoCmd builds the sudo spawn path: "sudo env
// LD_PRELOAD=<sandboxer path> /bin/bash --norc --noprofile -c <wrapped>".
// Because sudo may strip LD_PRELOAD, the sandboxer's own constructor is
// responsible for applying NO_NEW_PRIVS + Landlock in the child; Run
// verifies the canary afterward (spec.md §4.8).
func (e *Executor) buildSudoCmd(ctx context.Context, bashPath, wrapped string) (*osexec.Cmd, error) {
	if e.cfg.Mode == config.ModeProduction && e.cfg.SandboxerPath == "" {
		return nil, aegerr.New(aegerr.IntegrityViolation, "exec.buildSudoCmd", fmt.Errorf("sandboxer_path not configured"))
	}

	args := []string{"env"}
	if e.cfg.SandboxerPath != "" {
		args = append(args, "LD_PRELOAD="+e.cfg.SandboxerPath)
	}
	args = append(args, bashPath, "--norc", "--noprofile", "-c", wrapped)

	cmd := osexec.CommandContext(ctx, "sudo", args...)
	cmd.Env = envSlice(e.env)
	return cmd, nil
}

// verifiedBashPath returns the bash binary path to exec. In production the
// path must be absolute and its SHA-256 must match the config snapshot's
// pinned hash (spec.md §4.8); in development the check is skipped so a
// plain devbox bash works without a hash pin.
func (e *Executor) verifiedBashPath() (string, error) {
	path := e.cfg.RunnerBashPath
	if path == "" {
		path = "/bin/bash"
	}
	if e.cfg.Mode != config.ModeProduction {
		return path, nil
	}
	if !strings.HasPrefix(path, "/") {
		return "", aegerr.New(aegerr.IntegrityViolation, "exec.verifiedBashPath", fmt.Errorf("runner bash path %q is not absolute", path))
	}
	sum, err := sha256File(path)
	if err != nil {
		return "", aegerr.New(aegerr.IntegrityViolation, "exec.verifiedBashPath", err)
	}
	if !strings.EqualFold(sum, e.cfg.RunnerBashSHA256) {
		return "", aegerr.New(aegerr.IntegrityViolation, "exec.verifiedBashPath",
			fmt.Errorf("runner bash at %s does not match pinned sha256", path))
	}
	return path, nil
}

// VerifyIntegrity checks, in production, that the pinned bash and
// sandboxer binaries exist on disk and match their configured SHA-256
// hashes. It is meant to be called once at process startup so a tampered
// or missing binary is a fatal boot error (spec.md §4.1 "Hash mismatch for
// bash or sandboxer -> fatal"), rather than surfacing lazily on the first
// command that happens to take the sudo path. In development it is a
// no-op, matching verifiedBashPath's own skip.
func (e *Executor) VerifyIntegrity() error {
	if e.cfg.Mode != config.ModeProduction {
		return nil
	}
	if _, err := e.verifiedBashPath(); err != nil {
		return err
	}
	if e.cfg.SandboxerPath == "" {
		return aegerr.New(aegerr.IntegrityViolation, "exec.VerifyIntegrity", fmt.Errorf("sandboxer_path not configured"))
	}
	sum, err := sha256File(e.cfg.SandboxerPath)
	if err != nil {
		return aegerr.New(aegerr.IntegrityViolation, "exec.VerifyIntegrity", err)
	}
	if !strings.EqualFold(sum, e.cfg.SandboxerSHA256) {
		return aegerr.New(aegerr.IntegrityViolation, "exec.VerifyIntegrity",
			fmt.Errorf("sandboxer at %s does not match pinned sha256", e.cfg.SandboxerPath))
	}
	return nil
}

func sha256File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// parseStateCapture reads the fd-3 payload written by wrapWithCapture's
// trailer and splits it into the resulting cwd and raw "KEY=VALUE" env
// lines. Errors reading the file (e.g. the child never reached the
// trailer because it was killed) yield a zero-value result, which
// captureState treats as "no change".
func parseStateCapture(path string) (string, []string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil
	}
	parts := strings.SplitN(string(data), stateCaptureSeparator, 2)
	if len(parts) != 2 {
		return "", nil
	}
	cwd := strings.TrimRight(parts[0], "\n")
	lines := strings.Split(strings.TrimRight(parts[1], "\n"), "\n")
	return cwd, lines
}

// envLinesContainKey reports whether raw "KEY=VALUE" lines contain key,
// regardless of its value.
func envLinesContainKey(lines []string, key string) bool {
	prefix := key + "="
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// captureState updates the executor's session state from the child's
// post-execution cwd and raw env dump, re-applying the same
// allowlist/strip rules sanitizeEnv applies to the initial environment —
// no AEGISH_ security-critical key can enter session state this way
// (spec.md §4.8).
func (e *Executor) captureState(cwd string, rawEnvLines []string) {
	if cwd != "" {
		e.cwd = cwd
	}
	if rawEnvLines == nil {
		return
	}
	e.env = sanitizeEnv(rawEnvLines)
}
