package validate

import "regexp"

// blockPattern is one high-confidence, case-sensitive regex from spec.md
// §4.4 step 2. The set intentionally stays small: these are the patterns
// that are BLOCK under every fail-mode and every LLM verdict (P4), so each
// one must have a very low false-positive rate.
type blockPattern struct {
	name string
	re   *regexp.Regexp
}

// defaultBlocklist is grounded on isseis-go-safe-cmd-runner's
// DangerousPrivilegedCommands/ShellCommands enumeration and
// AI-Agentic-Shield's rm/dd/chmod structural checks, expressed here as the
// flat regex layer spec.md calls for (the AST-aware layer lives in
// ast.go). Patterns cover both short-flag-order variants
// and long-option equivalents, per spec.md's explicit requirement.
func defaultBlocklist() []blockPattern {
	return []blockPattern{
		{"reverse-shell-dev-tcp", regexp.MustCompile(`/dev/(tcp|udp)/[^\s]+`)},
		{"nc-exec-flag", regexp.MustCompile(`\bnc(\.(traditional|openbsd))?\b[^\n]*\s(-e\b|--exec\b)`)},
		{"rm-rf-root", regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+(--\s+)?/(\s|$)`)},
		{"rm-rf-root-longopt", regexp.MustCompile(`\brm\b[^\n]*--recursive[^\n]*--force[^\n]*\s/(\s|$)`)},
		{"mkfs", regexp.MustCompile(`\bmkfs(\.[a-zA-Z0-9]+)?\s`)},
		{"fork-bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	}
}

// matches reports whether text matches any blocklist pattern, and if so
// which one. Used both by validate_static step 2 and by the resolver's
// mandatory post-substitution re-check (spec.md §4.3 step 6).
func matches(patterns []blockPattern, text string) (string, bool) {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return p.name, true
		}
	}
	return "", false
}
