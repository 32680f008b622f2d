package resolve

import "strings"

// span is one $(...) / `...` occurrence found by the fallback scanner,
// paired with its full source text (for substitution) and its inner
// command text (for recursive resolution).
type span struct {
	source string
	inner  string
}

// findSubstitutionSpansFallback extracts command substitutions by a
// quote- and escape-aware balanced scan, used only when the bash AST
// parser rejects the text outright (spec.md §4.3 step 1's fallback
// path). It tracks single-quote and double-quote regions (content inside
// single quotes is never special; `$(` inside double quotes still
// substitutes, matching bash's own quoting rules) and skips
// `$((...))` arithmetic expansions, which are not command substitutions.
func findSubstitutionSpansFallback(text string) []span {
	var out []span
	inSingle, inDouble := false, false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}

		switch {
		case c == '\\' && !inSingle:
			escaped = true
			continue
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			continue
		case c == '"' && !inSingle:
			inDouble = !inDouble
			continue
		}

		if inSingle {
			continue
		}

		if c == '`' {
			end := findMatchingBacktick(text, i+1)
			if end < 0 {
				continue
			}
			out = append(out, span{source: text[i : end+1], inner: text[i+1 : end]})
			i = end
			continue
		}

		if c == '$' && i+1 < len(text) && text[i+1] == '(' {
			if i+2 < len(text) && text[i+2] == '(' {
				// $((...)) arithmetic expansion: skip, not a command
				// substitution.
				end := findMatchingParen(text, i+1, "((", "))")
				if end >= 0 {
					i = end
				}
				continue
			}
			end := findMatchingParen(text, i+1, "(", ")")
			if end < 0 {
				continue
			}
			out = append(out, span{source: text[i : end+1], inner: text[i+2 : end]})
			i = end
			continue
		}
	}

	return out
}

func findMatchingBacktick(text string, from int) int {
	for i := from; i < len(text); i++ {
		if text[i] == '\\' {
			i++
			continue
		}
		if text[i] == '`' {
			return i
		}
	}
	return -1
}

// findMatchingParen finds the index of the close marker matching the
// open marker that begins at openStart, honoring nested parens and
// quoted regions within.
func findMatchingParen(text string, openStart int, open, closeMark string) int {
	depth := 0
	inSingle, inDouble := false, false
	i := openStart
	for i < len(text) {
		if !inSingle && strings.HasPrefix(text[i:], open) {
			depth++
			i += len(open)
			continue
		}
		if !inSingle && strings.HasPrefix(text[i:], closeMark) {
			depth--
			if depth == 0 {
				return i + len(closeMark) - 1
			}
			i += len(closeMark)
			continue
		}
		switch {
		case text[i] == '\\':
			i += 2
			continue
		case text[i] == '\'' && !inDouble:
			inSingle = !inSingle
		case text[i] == '"' && !inSingle:
			inDouble = !inDouble
		}
		i++
	}
	return -1
}
