package validate

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// varInCommandPosition walks the parsed command tree looking for a simple
// command whose first word is (or is assembled from) a parameter
// expansion rather than a literal executable name — e.g. `$cmd`, `${x}`,
// or a word with a command-substitution part positioned as the command
// name. It recurses into every compound node kind spec.md §4.4 step 3
// names explicitly; any node kind it does not recognize falls through to
// the generic syntax.Walk callback so unhandled shapes are still visited
// (the "unhandled node kinds MUST recurse via a generic children walk"
// requirement), rather than being silently skipped.
//
// Grounded on AI-Agentic-Shield's walkStmt switch over
// *syntax.CallExpr/*syntax.BinaryCmd/*syntax.Subshell and
// gartnera-lite-sandbox-mcp's validate() walk over
// *syntax.DeclClause/*syntax.ProcSubst/*syntax.CoprocClause.
func varInCommandPosition(file *syntax.File) bool {
	found := false
	syntax.Walk(file, func(node syntax.Node) bool {
		if found {
			return false
		}
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		if wordIsDynamic(call.Args[0]) {
			found = true
			return false
		}
		return true
	})
	return found
}

// wordIsDynamic reports whether a Word's first part is a parameter
// expansion, command substitution, arithmetic expansion, or extended glob
// — i.e. the executable name is not a compile-time-known literal.
func wordIsDynamic(w *syntax.Word) bool {
	if w == nil || len(w.Parts) == 0 {
		return false
	}
	switch w.Parts[0].(type) {
	case *syntax.ParamExp, *syntax.CmdSubst, *syntax.ArithmExp, *syntax.ExtGlob:
		return true
	}
	return false
}

// cmdSubstInExecPosition reports whether a $(...) / `...` result sits
// where the shell would use it as the command name — i.e. the same
// dynamic-word check as above, narrowed to command substitution parts
// specifically (spec.md §4.4 step 4 is a special case of step 3 but is
// kept as its own check so the resolver can call it standalone when it
// has already evaluated a substitution and wants to confirm it is not
// re-used in executable position elsewhere in the composite text).
func cmdSubstInExecPosition(file *syntax.File) bool {
	found := false
	syntax.Walk(file, func(node syntax.Node) bool {
		if found {
			return false
		}
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		w := call.Args[0]
		if len(w.Parts) > 0 {
			if _, ok := w.Parts[0].(*syntax.CmdSubst); ok {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// topLevelSegments splits the parsed file into its top-level simple-command
// segments for compound decomposition (spec.md §4.4 step 5): every
// CallExpr reachable without crossing into a nested Subshell/FuncDecl body
// becomes its own segment, re-rendered back to text via syntax.Printer so
// each can be run back through validate_static independently.
//
// Grounded on AI-Agentic-Shield's ParsedCommand{Segments} /
// callExprToSegment decomposition and its allSegments helper that
// recurses into Subcommands.
func topLevelSegments(file *syntax.File) []string {
	var segs []string
	printer := syntax.NewPrinter()

	var walk func(syntax.Node)
	walk = func(node syntax.Node) {
		switch n := node.(type) {
		case *syntax.CallExpr:
			var b strings.Builder
			_ = printer.Print(&b, n)
			segs = append(segs, b.String())
		case *syntax.Stmt:
			if n.Cmd != nil {
				walk(n.Cmd)
			}
		case *syntax.BinaryCmd:
			walk(n.X)
			walk(n.Y)
		case *syntax.Subshell:
			for _, s := range n.Stmts {
				walk(s)
			}
		case *syntax.Block:
			for _, s := range n.Stmts {
				walk(s)
			}
		}
	}

	for _, stmt := range file.Stmts {
		walk(stmt)
	}
	return segs
}

// parse parses text into a *syntax.File. A non-nil error means the
// structural analysis must fall back to the parse-unreliable path.
func parse(text string) (*syntax.File, error) {
	return syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(text), "")
}
