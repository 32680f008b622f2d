package resolve

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// cmdSubst pairs a $(...) / `...` node with its rendered source text (so
// it can be located for textual substitution) and its inner statement
// list (so the inner command can be recursively resolved).
type cmdSubst struct {
	source string
	inner  syntax.StmtList
}

// findCmdSubsts walks the parsed file collecting every command
// substitution node, regardless of position (spec.md §4.3 does not
// restrict pre-expansion to executable position — that restriction is
// C5 step 4's concern).
func findCmdSubsts(file *syntax.File) []cmdSubst {
	var out []cmdSubst
	printer := syntax.NewPrinter()
	syntax.Walk(file, func(node syntax.Node) bool {
		cs, ok := node.(*syntax.CmdSubst)
		if !ok {
			return true
		}
		var b strings.Builder
		_ = printer.Print(&b, cs)
		out = append(out, cmdSubst{source: b.String(), inner: cs.StmtList})
		return false // do not descend into the substitution; it is resolved recursively on its own rendered text
	})
	return out
}

// findHereStrings collects the target Word of every <<< redirect.
func findHereStrings(file *syntax.File) []*syntax.Word {
	var out []*syntax.Word
	syntax.Walk(file, func(node syntax.Node) bool {
		redir, ok := node.(*syntax.Redirect)
		if !ok {
			return true
		}
		if redir.Op == syntax.WordHdoc && redir.Word != nil {
			out = append(out, redir.Word)
		}
		return true
	})
	return out
}

// findScriptFileRefs looks for `bash <file>` / `sh <file>` style
// invocations — a call whose first argument is a known shell and whose
// second argument is a literal (non-flag, non-dynamic) word — and
// returns the referenced file paths.
func findScriptFileRefs(file *syntax.File) []string {
	var out []string
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) < 2 {
			return true
		}
		exe := renderWord(call.Args[0])
		if !isShellInvocation(exe) {
			return true
		}
		arg := renderWord(call.Args[1])
		if arg == "" || strings.HasPrefix(arg, "-") {
			return true
		}
		out = append(out, arg)
		return true
	})
	return out
}

func isShellInvocation(exe string) bool {
	switch exe {
	case "bash", "sh", "/bin/bash", "/bin/sh", "/usr/bin/bash", "/usr/bin/sh":
		return true
	default:
		return false
	}
}

func renderWord(w *syntax.Word) string {
	if w == nil {
		return ""
	}
	printer := syntax.NewPrinter()
	var b strings.Builder
	_ = printer.Print(&b, w)
	return b.String()
}

func renderStmtList(sl syntax.StmtList) string {
	printer := syntax.NewPrinter()
	var b strings.Builder
	for i, stmt := range sl.Stmts {
		if i > 0 {
			b.WriteString("; ")
		}
		_ = printer.Print(&b, stmt)
	}
	return b.String()
}
