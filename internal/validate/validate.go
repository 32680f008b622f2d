// Package validate implements the Static Validator (C5): the non-LLM
// decision layer composed of a length gate, a pattern blocklist, a
// var-in-command-position AST walk, a command-substitution-in-exec-position
// check, and compound decomposition. See spec.md §4.4.
package validate

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/aegish-sh/aegish/internal/action"
	"github.com/aegish-sh/aegish/internal/config"
)

// Validator runs validate_static. It is stateless aside from the
// (immutable) config snapshot and compiled blocklist, so one instance is
// safely reused across the whole session — exactly like the teacher's
// *coder.PolicyManager is reused across calls to Check.
type Validator struct {
	cfg        config.Snapshot
	blocklist  []blockPattern
	maxSegDive int // recursion guard for compound decomposition
}

// New builds a Validator bound to the given immutable snapshot.
func New(cfg config.Snapshot) *Validator {
	return &Validator{cfg: cfg, blocklist: defaultBlocklist(), maxSegDive: 1}
}

// MatchesBlocklist exposes step 2 standalone so the Resolver (C4) can run
// the mandatory post-substitution re-check (spec.md §4.3 step 6) without
// re-running the whole static pipeline.
func (v *Validator) MatchesBlocklist(text string) (string, bool) {
	return matches(v.blocklist, text)
}

// ValidateStatic is validate_static(text) -> ValidationResult, spec.md
// §4.4. Operations apply in order and short-circuit on the first BLOCK.
func (v *Validator) ValidateStatic(text string) action.Result {
	return v.validateStatic(text, true)
}

func (v *Validator) validateStatic(text string, allowDecompose bool) action.Result {
	// Step 1: length gate.
	if len(text) > v.cfg.MaxCommandLength {
		return action.Result{
			Action:          action.Block,
			Reason:          "oversized",
			ResolvedCommand: text,
			Source:          action.SourceBlocklist,
		}
	}

	// Step 2: pattern blocklist.
	if name, ok := v.MatchesBlocklist(text); ok {
		return action.Result{
			Action:          action.Block,
			Reason:          fmt.Sprintf("matched blocklist pattern %q", name),
			ResolvedCommand: text,
			Source:          action.SourceBlocklist,
		}
	}

	file, perr := parse(text)
	if perr != nil {
		if containsDangerousToken(text) {
			return action.Result{
				Action:          action.Block,
				Reason:          "parse failure on command containing dangerous token",
				ResolvedCommand: text,
				Source:          action.SourceParseFailure,
				ParseUnreliable: true,
			}
		}
		// Parse failed but no dangerous token present: the AST-dependent
		// steps cannot run, but the blocklist already cleared it. Allow,
		// marked unreliable so the LLM prompt carries that signal.
		return action.Result{
			Action:          action.Allow,
			Reason:          "parse unreliable; blocklist clear",
			ResolvedCommand: text,
			Source:          action.SourceParseFailure,
			ParseUnreliable: true,
		}
	}

	// Step 3: variable-in-command-position analysis. A BLOCK returns at
	// once; a WARN is kept while steps 4 and 5 still run.
	var varCmd *action.Result
	if varInCommandPosition(file) {
		res := action.Result{
			Action:          varCmdToAction(v.cfg.VarCmdAction),
			Reason:          "command name assembled from a variable or expansion",
			ResolvedCommand: text,
			Source:          action.SourceVarInCmd,
		}
		if res.Action == action.Block {
			return res
		}
		varCmd = &res
	}

	// Step 4: command-substitution-in-executable-position.
	if cmdSubstInExecPosition(file) {
		return action.Result{
			Action:          action.Block,
			Reason:          "command substitution used as executable name",
			ResolvedCommand: text,
			Source:          action.SourceVarInCmd,
		}
	}

	// Step 5: compound decomposition.
	if allowDecompose {
		if res, ok := v.decompose(file, text); ok {
			if varCmd != nil && action.Max(res.Action, varCmd.Action) != res.Action {
				return *varCmd
			}
			return res
		}
	}

	if varCmd != nil {
		return *varCmd
	}

	return action.Result{
		Action:          action.Allow,
		Reason:          "no static concern",
		ResolvedCommand: text,
	}
}

// decompose splits the parsed file into top-level simple-command segments
// and runs steps 1-4 on each (spec.md §4.4 step 5). The composite action
// is the most severe segment action; reasons are joined with "; ". If
// there are fewer than two segments, decomposition adds nothing and ok is
// false so the caller's single-segment result (with its own reason)
// stands unchanged.
func (v *Validator) decompose(file *syntax.File, text string) (action.Result, bool) {
	segs := topLevelSegments(file)
	if len(segs) < 2 {
		return action.Result{}, false
	}

	actions := make([]action.Action, 0, len(segs))
	reasons := make([]string, 0, len(segs))
	unreliable := false

	for _, seg := range segs {
		segResult := v.validateStatic(seg, false)
		actions = append(actions, segResult.Action)
		reasons = append(reasons, segResult.Reason)
		unreliable = unreliable || segResult.ParseUnreliable
	}

	return action.Result{
		Action:          action.MaxAll(actions),
		Reason:          strings.Join(reasons, "; "),
		ResolvedCommand: text,
		Source:          action.SourceVarInCmd,
		ParseUnreliable: unreliable,
	}, true
}

func containsDangerousToken(text string) bool {
	if strings.ContainsAny(text, "$`") {
		return true
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "eval") || strings.Contains(lower, "exec")
}

func varCmdToAction(a config.VarCmdAction) action.Action {
	if a == config.VarCmdWarn {
		return action.Warn
	}
	return action.Block
}
