package exec

import (
	"regexp"
	"sort"
	"strings"
)

// envAllowPrefixes and envAllowExact are spec.md §4.8's safe-environment
// allowlist: the sanitized child environment starts empty and copies only
// entries matching one of these, plus the narrow AEGISH_ prefix set in
// envAllowAegishKeys. Grounded on gartnera-lite-sandbox-mcp's
// blockedEnvVars map, inverted into an allowlist because spec.md calls for
// "start empty, copy in" rather than "start full, strip out".
var envAllowExact = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "LOGNAME": true,
	"SHELL": true, "LANG": true, "TERM": true, "PWD": true,
	"OLDPWD": true, "TZ": true, "COLUMNS": true, "LINES": true,
	"HOSTNAME": true, "DISPLAY": true, "XDG_RUNTIME_DIR": true,
	"TMPDIR": true,
}

// envAllowAegishKeys is the strictly limited AEGISH_ prefix set: only
// non-security-critical operational hints. Anything that could affect a
// security decision (fail mode, role, thresholds, paths, hashes) is read
// exclusively from the config snapshot, never re-derived from the child's
// environment.
var envAllowAegishKeys = map[string]bool{
	"AEGISH_SESSION_ID": true,
	"AEGISH_LOCALE":      true,
}

// envStripExact always strips these, even if they happen to also match an
// allow rule above (none do, but the check is explicit for clarity and to
// guard against future additions to the allowlist).
var envStripExact = map[string]bool{
	"BASH_ENV": true, "ENV": true, "PROMPT_COMMAND": true,
	"LD_PRELOAD": true, "LD_LIBRARY_PATH": true, "LD_AUDIT": true,
	"BASH_LOADABLES_PATH": true, "SHELLOPTS": true, "BASHOPTS": true,
	"IFS": true, "CDPATH": true, "GLOBIGNORE": true, "EXECIGNORE": true,
	"PS0": true, "PS4": true, "PYTHONSTARTUP": true, "PYTHONPATH": true,
	"PERL5OPT": true, "PERL5LIB": true, "RUBYLIB": true, "NODE_OPTIONS": true,
	"GIT_SSH": true, "GIT_SSH_COMMAND": true, "GIT_EXEC_PATH": true,
	"GIT_TEMPLATE_DIR": true, "GIT_CONFIG_GLOBAL": true,
	"LESSOPEN": true, "LESSCLOSE": true, "INPUTRC": true,
	"SSH_ASKPASS": true, "SSH_ASKPASS_REQUIRE": true, "BROWSER": true,
	"ZDOTDIR": true, "FPATH": true, "HISTFILE": true, "HISTCONTROL": true,
	"TERMCAP": true, "TERMINFO": true,
}

var bashFuncPattern = regexp.MustCompile(`(?i)^BASH_FUNC_.*%%$`)

// isAlwaysStripped reports whether key is on the always-strip list,
// including the BASH_FUNC_*%% exported-function-definition pattern bash
// itself uses to smuggle function bodies through the environment.
func isAlwaysStripped(key string) bool {
	if envStripExact[strings.ToUpper(key)] {
		return true
	}
	return bashFuncPattern.MatchString(key)
}

// isAllowed reports whether key may be copied into the sanitized
// environment, independent of isAlwaysStripped (callers must check both;
// strip always wins).
func isAllowed(key string) bool {
	if envAllowExact[key] {
		return true
	}
	if strings.HasPrefix(key, "LC_") {
		return true
	}
	if strings.HasPrefix(key, "AEGISH_") {
		return envAllowAegishKeys[key]
	}
	return false
}

// sanitizeEnv builds the child environment from source ("KEY=VALUE" pairs,
// e.g. os.Environ()) per spec.md §4.8: start empty, copy only allowed
// entries, strip always-stripped entries even if they'd otherwise match.
func sanitizeEnv(source []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range source {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if isAlwaysStripped(key) {
			continue
		}
		if isAllowed(key) {
			out[key] = val
		}
	}
	return out
}

// envSlice renders a sanitized env map as "KEY=VALUE" pairs for
// exec.Cmd.Env, in sorted key order for determinism (and testability).
func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
