// Package canon implements the deterministic, pure textual normalization
// described in spec.md §4.2. It has no I/O and no dependency on the bash
// AST parser: canonicalization must run before resolution and must be
// idempotent on its own output (P7).
package canon

import "strings"

// inhibitChars are the bytes that, when present anywhere in the command,
// disable quote-stripping entirely so source fidelity is preserved for the
// LLM. Taken verbatim from spec.md §4.2 — see SPEC_FULL.md Open Question
// decision 3 for why this set is neither widened nor narrowed.
const inhibitChars = "$`\\;&|()<>\n"

// Canonicalize applies the four ordered rules from spec.md §4.2 and
// returns the canonical text.
func Canonicalize(raw string) string {
	s := trimAndCollapse(raw)
	s = mergeShortFlags(s)
	if !containsAny(raw, inhibitChars) {
		s = stripLiteralQuotes(s)
	}
	return s
}

// trimAndCollapse trims leading/trailing whitespace and collapses runs of
// ASCII spaces/tabs outside quoted regions to a single space.
func trimAndCollapse(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inSingle, inDouble := false, false
	lastWasSpace := false
	started := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
		case c == '"' && !inSingle:
			inDouble = !inDouble
		}

		isBlank := (c == ' ' || c == '\t') && !inSingle && !inDouble
		if isBlank {
			if !started || lastWasSpace {
				continue
			}
			lastWasSpace = true
			b.WriteByte(' ')
			continue
		}
		lastWasSpace = false
		started = true
		b.WriteByte(c)
	}

	return strings.TrimRight(b.String(), " \t")
}

// mergeShortFlags merges split short flags like "-r -f" into "-rf" only
// when every token is a bare short-flag token: begins with a single '-',
// contains no '=', no digits, and every byte after the dash is alphabetic.
func mergeShortFlags(s string) string {
	tokens := splitPreservingQuotes(s)
	var out []string

	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		if !isMergeableShortFlag(tok) {
			out = append(out, tok)
			i++
			continue
		}
		merged := tok[1:]
		j := i + 1
		for j < len(tokens) && isMergeableShortFlag(tokens[j]) {
			merged += tokens[j][1:]
			j++
		}
		if j > i+1 {
			out = append(out, "-"+merged)
		} else {
			out = append(out, tok)
		}
		i = j
	}

	return strings.Join(out, " ")
}

func isMergeableShortFlag(tok string) bool {
	if len(tok) < 2 || tok[0] != '-' || tok[1] == '-' {
		return false
	}
	if strings.Contains(tok, "=") {
		return false
	}
	for i := 1; i < len(tok); i++ {
		c := tok[i]
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}

// splitPreservingQuotes splits on unquoted whitespace without altering
// quote characters themselves — canonicalization must not decide quoting
// semantics, only tokenize for flag-merge detection.
func splitPreservingQuotes(s string) []string {
	var tokens []string
	var cur strings.Builder
	inSingle, inDouble := false, false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			cur.WriteByte(c)
		case c == '"' && !inSingle:
			inDouble = !inDouble
			cur.WriteByte(c)
		case c == ' ' && !inSingle && !inDouble:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return tokens
}

// stripLiteralQuotes removes quotes from tokens that are pure literals:
// a token fully wrapped in one quote style with no interior quote of the
// other style, no whitespace, and no embedded metacharacters beyond plain
// text. A quoted token containing whitespace keeps its quotes, since
// unquoting it would split one argument into several.
func stripLiteralQuotes(s string) string {
	tokens := splitPreservingQuotes(s)
	for i, tok := range tokens {
		if stripped, ok := pureLiteral(tok); ok {
			tokens[i] = stripped
		}
	}
	return strings.Join(tokens, " ")
}

func pureLiteral(tok string) (string, bool) {
	if len(tok) >= 2 && tok[0] == '\'' && tok[len(tok)-1] == '\'' {
		inner := tok[1 : len(tok)-1]
		if !strings.ContainsAny(inner, "'\" \t") {
			return inner, true
		}
	}
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		inner := tok[1 : len(tok)-1]
		if !strings.ContainsAny(inner, "'\" \t") {
			return inner, true
		}
	}
	return tok, false
}

func containsAny(s, chars string) bool {
	return strings.ContainsAny(s, chars)
}
