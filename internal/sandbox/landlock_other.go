//go:build !linux

package sandbox

import (
	"fmt"

	"github.com/aegish-sh/aegish/internal/aegerr"
)

// Build always fails on non-Linux platforms: Landlock is a Linux LSM
// with no analog elsewhere. aegish has no sandboxed-execution fallback —
// spec.md's security model depends on it, so the caller must refuse to
// run sandboxed commands rather than degrade silently.
func Build() (Ruleset, error) {
	return nil, aegerr.New(aegerr.LandlockUnavailable, "sandbox.Build", fmt.Errorf("Landlock is only available on Linux"))
}
