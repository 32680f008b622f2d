//go:build linux

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/aegish-sh/aegish/internal/aegerr"
)

// Landlock constants and wire structs, grounded on
// priuatus-fence/internal/sandbox/linux_features.go's LANDLOCK_* const
// block and landlockRulesetAttr/landlockPathBeneathAttr shapes (there
// used only for ABI detection; aegish builds a real EXECUTE-only ruleset
// from the same constants).
const (
	landlockCreateRulesetVersion = 1 << 0

	landlockAccessFSExecute = 1 << 0

	landlockRulePathBeneath = 1
)

type rulesetAttr struct {
	handledAccessFS  uint64
	handledAccessNet uint64
}

type pathBeneathAttr struct {
	allowedAccess uint64
	parentFd      int32
	_             [4]byte
}

// linuxRuleset holds the open ruleset file descriptor until Activate
// consumes it.
type linuxRuleset struct {
	fd  int
	abi int
}

func (r *linuxRuleset) ABI() int { return r.abi }

// Activate applies NO_NEW_PRIVS and then landlock_restrict_self, per
// spec.md §4.9 steps 1 and 4. Any failure here must never fall back to
// unsandboxed execution — the caller is expected to abort the process.
func (r *linuxRuleset) Activate() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return aegerr.New(aegerr.LandlockUnavailable, "sandbox.Activate", fmt.Errorf("PR_SET_NO_NEW_PRIVS: %w", err))
	}

	ret, _, errno := unix.Syscall(unix.SYS_LANDLOCK_RESTRICT_SELF, uintptr(r.fd), 0, 0)
	_ = unix.Close(r.fd)
	if errno != 0 || ret != 0 {
		return aegerr.New(aegerr.LandlockUnavailable, "sandbox.Activate", fmt.Errorf("landlock_restrict_self: errno %d", errno))
	}
	return nil
}

// Build enumerates PATH, realpath-resolves every entry, skips directories,
// non-executable files, and denied shells, and constructs a Landlock
// ruleset granting EXECUTE on everything that survives (spec.md §4.7).
// Entries that fail to open are silently omitted — fail-closed, they get
// no EXECUTE rule rather than aborting the whole build.
func Build() (Ruleset, error) {
	abi, err := detectABI()
	if err != nil {
		return nil, aegerr.New(aegerr.LandlockUnavailable, "sandbox.Build", err)
	}

	attr := rulesetAttr{handledAccessFS: landlockAccessFSExecute}
	fdVal, _, errno := unix.Syscall(
		unix.SYS_LANDLOCK_CREATE_RULESET,
		uintptr(unsafe.Pointer(&attr)),
		unsafe.Sizeof(attr),
		0,
	)
	if errno != 0 {
		return nil, aegerr.New(aegerr.LandlockUnavailable, "sandbox.Build", fmt.Errorf("landlock_create_ruleset: errno %d", errno))
	}
	rulesetFd := int(fdVal)

	for _, exe := range resolveExecutablesOnPath(os.Getenv("PATH")) {
		if isDeniedShell(exe) {
			continue
		}
		if err := addExecuteRule(rulesetFd, exe); err != nil {
			// Fail-closed: omit the rule, do not abort the whole build.
			continue
		}
	}

	return &linuxRuleset{fd: rulesetFd, abi: abi}, nil
}

func addExecuteRule(rulesetFd int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return fmt.Errorf("not a regular executable")
	}

	ruleAttr := pathBeneathAttr{
		allowedAccess: landlockAccessFSExecute,
		parentFd:      int32(f.Fd()),
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_LANDLOCK_ADD_RULE,
		uintptr(rulesetFd),
		uintptr(landlockRulePathBeneath),
		uintptr(unsafe.Pointer(&ruleAttr)),
		0, 0, 0,
	)
	if errno != 0 {
		return fmt.Errorf("landlock_add_rule: errno %d", errno)
	}
	return nil
}

// detectABI queries the highest Landlock ABI version the running kernel
// supports, grounded on linux_features.go's detectLandlock probe (a NULL-
// attr landlock_create_ruleset call with the VERSION flag).
func detectABI() (int, error) {
	ret, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, 0, 0, uintptr(landlockCreateRulesetVersion))
	if errno != 0 {
		return 0, fmt.Errorf("landlock unavailable: errno %d", errno)
	}
	return int(ret), nil
}

// resolveExecutablesOnPath enumerates every PATH directory and returns
// the realpath of each entry found, deduplicated; directories and
// non-executable files are filtered out later by addExecuteRule. Resolution is
// by realpath so that a symlinked shell cannot evade the denylist
// (spec.md §4.7: "denylist entries are themselves realpath-resolved").
func resolveExecutablesOnPath(pathEnv string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, dir := range strings.Split(pathEnv, ":") {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			full := filepath.Join(dir, e.Name())
			resolved, err := filepath.EvalSymlinks(full)
			if err != nil {
				continue
			}
			if seen[resolved] {
				continue
			}
			seen[resolved] = true
			out = append(out, resolved)
		}
	}
	return out
}
