package exec

import "testing"

func TestIsAlwaysStrippedCoreKeys(t *testing.T) {
	for _, key := range []string{"LD_PRELOAD", "BASH_ENV", "IFS", "HISTFILE", "ld_preload"} {
		if !isAlwaysStripped(key) {
			t.Errorf("expected %q to be stripped", key)
		}
	}
	if isAlwaysStripped("PATH") {
		t.Error("PATH must not be stripped")
	}
}

func TestIsAlwaysStrippedBashFuncPattern(t *testing.T) {
	if !isAlwaysStripped("BASH_FUNC_mal%%") {
		t.Error("expected BASH_FUNC_*%% to be stripped")
	}
	if !isAlwaysStripped("bash_func_mal%%") {
		t.Error("expected case-insensitive match on BASH_FUNC_*%%")
	}
	if isAlwaysStripped("BASH_FUNC_mal") {
		t.Error("did not expect a key missing the %% suffix to match")
	}
}

func TestIsAllowedExactAndPrefixes(t *testing.T) {
	for _, key := range []string{"PATH", "HOME", "LC_ALL", "LC_TIME", "TMPDIR"} {
		if !isAllowed(key) {
			t.Errorf("expected %q to be allowed", key)
		}
	}
	if isAllowed("RANDOM_VAR") {
		t.Error("did not expect an unrelated var to be allowed")
	}
	if isAllowed("AEGISH_FAIL_MODE") {
		t.Error("security-critical AEGISH_ keys must not be allowed through the env")
	}
	if !isAllowed("AEGISH_SESSION_ID") {
		t.Error("expected the narrow AEGISH_SESSION_ID key to be allowed")
	}
}

func TestSanitizeEnvStripWinsOverAllow(t *testing.T) {
	// IFS is never in the allowlist, but this asserts the strip-wins
	// invariant even if a future allowlist edit accidentally covers it.
	out := sanitizeEnv([]string{"PATH=/usr/bin", "IFS= ", "LD_PRELOAD=/evil.so", "HOME=/home/u"})
	if _, ok := out["IFS"]; ok {
		t.Error("IFS must never survive sanitizeEnv")
	}
	if _, ok := out["LD_PRELOAD"]; ok {
		t.Error("LD_PRELOAD must never survive sanitizeEnv")
	}
	if out["PATH"] != "/usr/bin" {
		t.Errorf("expected PATH to survive, got %q", out["PATH"])
	}
	if out["HOME"] != "/home/u" {
		t.Errorf("expected HOME to survive, got %q", out["HOME"])
	}
}

func TestSanitizeEnvDropsMalformedEntries(t *testing.T) {
	out := sanitizeEnv([]string{"NOEQUALSSIGN", "PATH=/bin"})
	if len(out) != 1 {
		t.Errorf("expected only the well-formed entry to survive, got %v", out)
	}
}

func TestEnvSliceRoundTrips(t *testing.T) {
	m := map[string]string{"PATH": "/bin", "HOME": "/home/u"}
	slice := envSlice(m)
	if len(slice) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(slice))
	}
	back := sanitizeEnv(slice)
	if back["PATH"] != "/bin" || back["HOME"] != "/home/u" {
		t.Errorf("round trip mismatch: %v", back)
	}
}
