// Package sandboxer holds the platform-independent logic behind the
// Sandboxer Library (C10): the shared object aegish preloads into the
// sudo-invoked bash so the Landlock restriction still applies even when
// sudo has stripped the executor's own LD_PRELOAD before forking. The
// actual cgo constructor entry point lives in cmd/sandboxer, which is
// just a thin `buildmode=c-shared` shell around Apply. Keeping the logic
// here, free of cgo, makes it unit-testable without a C toolchain and
// lets the Executor (internal/exec) reference CanaryEnvVar without
// depending on a cgo package. See spec.md §4.9.
package sandboxer

import "github.com/aegish-sh/aegish/internal/sandbox"

// CanaryEnvVar is the variable the cmd/sandboxer constructor sets in the
// host process's real libc environ (not just the Go runtime's view of it)
// once Apply has successfully applied the sandbox. internal/exec checks for its presence after a
// sudo-path spawn to confirm the preload actually ran, since sudo may
// have stripped LD_PRELOAD before the dynamic linker ever got to load
// this library.
const CanaryEnvVar = "AEGISH_SANDBOXED"

// Apply builds and activates a Landlock ruleset identical in shape to the
// one the Executor installs on the non-sudo path (internal/sandbox),
// reused here so the two enforcement points can never drift apart.
// Apply does not set CanaryEnvVar itself — that requires touching the
// real C environ via cgo, which only the cmd/sandboxer constructor can do
// — it only builds and activates the ruleset. Any error is the caller's
// signal to abort the process per spec.md §4.9 step 5.
func Apply() error {
	ruleset, err := sandbox.Build()
	if err != nil {
		return err
	}
	return ruleset.Activate()
}
