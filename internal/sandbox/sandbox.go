// Package sandbox implements the Sandbox Ruleset Builder (C8): a Landlock
// v1 ruleset that permits EXECUTE on every regular executable reachable
// via PATH except a closed set of shell binaries. See spec.md §4.7.
package sandbox

import "path/filepath"

// DeniedShells is the closed set of shell/interpreter binaries excluded
// from the EXECUTE allowlist regardless of where PATH resolves them —
// executing one defeats the purpose of constraining what a sandboxed
// command can spawn next. Names are matched against the realpath-resolved
// base name, so symlink aliases (e.g. `sh` -> `dash`) still resolve to
// their real target before the check.
var DeniedShells = map[string]bool{
	"bash": true, "sh": true, "dash": true, "zsh": true, "ksh": true,
	"fish": true, "csh": true, "tcsh": true, "ash": true, "busybox": true,
	"mksh": true, "rbash": true, "nu": true, "pwsh": true, "xonsh": true,
	"elvish": true,
}

// isDeniedShell reports whether the realpath-resolved executable at path
// is one of the shells no sandboxed command may spawn.
func isDeniedShell(resolvedPath string) bool {
	return DeniedShells[filepath.Base(resolvedPath)]
}

// Ruleset is the built sandbox policy, ready to be activated in the
// child process before exec. Implementations are platform-specific —
// see landlock_linux.go and landlock_other.go.
type Ruleset interface {
	// Activate installs NO_NEW_PRIVS and restricts the calling thread to
	// this ruleset; every process that thread forks afterwards inherits the
	// restriction. It must be called before the child is started, in the
	// thread that will start it (the Executor locks that OS thread first).
	// On any failure the caller must abort rather than exec unsandboxed
	// (spec.md §4.7/§4.9).
	Activate() error

	// ABI reports the negotiated Landlock ABI version, or 0 if Landlock
	// is unavailable on this platform/kernel.
	ABI() int
}
