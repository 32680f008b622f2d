// Package resolve implements the Resolver (C4): pre-expansion of
// $(...)/backtick command substitutions and <<< here-strings, bounded by
// depth and byte budget, producing both a resolved composite command and
// the tag-escaped annotations the LLM Client embeds alongside it. See
// spec.md §4.3.
package resolve

import (
	"context"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/aegish-sh/aegish/internal/action"
	"github.com/aegish-sh/aegish/internal/canon"
	"github.com/aegish-sh/aegish/internal/llmclient"
	"github.com/aegish-sh/aegish/internal/obs"
	"github.com/aegish-sh/aegish/internal/validate"
)

const (
	// maxDepth bounds recursive pre-expansion at two levels, per spec.md
	// §4.3, adapted from gartnera-lite-sandbox-mcp's bashDepthKey/
	// maxBashDepth nesting guard (there a depth of 10; aegish's resolver
	// is intentionally far stricter since it is a pre-execution safety
	// gate, not a general-purpose sandboxed shell tool).
	maxDepth = 2

	// maxCaptureBytes caps any single extraction (substitution stdout,
	// here-string body, script-file content) at 8 KiB.
	maxCaptureBytes = 8 * 1024
)

// Runner executes a fully-validated inner command to capture its stdout,
// under the same sanitized environment the outer command will eventually
// run under. It is a narrow slice of the Executor (C9) expressed here as
// an interface so the Resolver does not import internal/exec — the same
// dependency-inversion shape internal/llmclient uses for its
// blocklistChecker.
type Runner interface {
	Run(ctx context.Context, command string) (stdout string, exitCode int, err error)
}

// Resolver runs resolve(canonical_text) -> (resolved_text, annotations).
type Resolver struct {
	validator *validate.Validator
	runner    Runner
	metrics   *obs.DecisionMetrics
}

// New builds a Resolver. validator is used for the static-only check on
// inner substitutions (spec.md §4.3 step 3); runner executes inner
// commands that clear that check.
func New(validator *validate.Validator, runner Runner) *Resolver {
	return &Resolver{validator: validator, runner: runner}
}

// SetMetrics wires the process's decision metrics into the resolver so
// the substitution-depth histogram is observable. Optional: a Resolver
// with no metrics attached behaves exactly as before.
func (r *Resolver) SetMetrics(metrics *obs.DecisionMetrics) {
	r.metrics = metrics
}

// Result is the Resolver's output: either a resolved command ready for
// the LLM Client, or a short-circuit BLOCK verdict from an inner
// substitution that did not clear validation (P8).
type Result struct {
	ResolvedText string
	Annotations  []llmclient.Annotation
	Blocked      bool
	Reason       string
}

// Resolve runs the full pre-expansion pipeline on canonical text at
// depth 0.
func (r *Resolver) Resolve(ctx context.Context, canonicalText string) Result {
	return r.resolve(ctx, canonicalText, 0)
}

func (r *Resolver) resolve(ctx context.Context, text string, depth int) Result {
	if r.metrics != nil {
		r.metrics.ResolverDepth.Observe(float64(depth))
	}
	file, err := parseForResolve(text)
	if err != nil {
		// AST unavailable: fall back to a balanced-parenthesis scanner
		// for $(...) extraction (spec.md §4.3 step 1's fallback path).
		// Here-strings and script-file detection require reliable
		// structure, so they are skipped on this path — the composite
		// text is returned unexpanded rather than guessed at.
		resolved, anns, blocked, reason := r.resolveFallback(ctx, text, depth)
		return r.finish(resolved, anns, blocked, reason)
	}

	var annotations []llmclient.Annotation
	resolved := text
	blocked := false
	blockReason := ""

	substitutions := findCmdSubsts(file)
	for _, sub := range substitutions {
		if blocked {
			break
		}
		if depth+1 > maxDepth {
			// Depth budget exhausted: leave this substitution's literal
			// source text in place, unexpanded and unexecuted.
			continue
		}

		innerRaw := renderStmtList(sub.inner)
		innerCanonical := canon.Canonicalize(innerRaw)
		innerResolved := r.resolve(ctx, innerCanonical, depth+1)
		if innerResolved.Blocked {
			blocked = true
			blockReason = fmt.Sprintf("inner substitution blocked: %s", innerResolved.Reason)
			break
		}

		verdict := r.validator.ValidateStatic(innerResolved.ResolvedText)
		if verdict.Action != action.Allow {
			// P8: any inner substitution that is not ALLOW aborts the
			// outer pipeline with BLOCK; the inner is never executed to
			// obtain output.
			blocked = true
			blockReason = fmt.Sprintf("inner substitution %q: %s", verdict.Action, verdict.Reason)
			break
		}

		stdout, _, runErr := r.runner.Run(ctx, innerResolved.ResolvedText)
		if runErr != nil {
			blocked = true
			blockReason = fmt.Sprintf("inner substitution execution failed: %v", runErr)
			break
		}
		stdout = truncate(stdout)

		annotations = append(annotations, innerResolved.Annotations...)
		annotations = append(annotations, llmclient.Annotation{
			Label: fmt.Sprintf("stdout of %s", innerRaw),
			Body:  stdout,
		})

		resolved = strings.Replace(resolved, sub.source, stdout, 1)
	}

	if !blocked {
		for _, hs := range findHereStrings(file) {
			body := renderWord(hs)
			annotations = append(annotations, llmclient.Annotation{
				Label: "here-string content",
				Body:  truncate(body),
			})
		}

		for _, ref := range findScriptFileRefs(file) {
			content, rerr := readScriptFile(ref)
			if rerr == nil {
				annotations = append(annotations, llmclient.Annotation{
					Label: fmt.Sprintf("contents of script file %s", ref),
					Body:  truncate(content),
				})
			}
		}
	}

	return r.finish(resolved, annotations, blocked, blockReason)
}

// finish applies spec.md §4.3 step 6: re-run the blocklist on the
// composite resolved text before returning, closing the "benign inner
// producing dangerous outer" gap.
func (r *Resolver) finish(resolved string, annotations []llmclient.Annotation, blocked bool, reason string) Result {
	if blocked {
		return Result{ResolvedText: resolved, Annotations: annotations, Blocked: true, Reason: reason}
	}
	if name, hit := r.validator.MatchesBlocklist(resolved); hit {
		return Result{
			ResolvedText: resolved,
			Annotations:  annotations,
			Blocked:      true,
			Reason:       fmt.Sprintf("composite text matched blocklist pattern %q", name),
		}
	}
	return Result{ResolvedText: resolved, Annotations: annotations}
}

// resolveFallback handles text the AST parser rejects by extracting
// $(...) / `...` spans with a quote- and escape-aware balanced scanner,
// grounded on security-researcher-ca/AI-Agentic-Shield's
// StructuralAnalyzer.fallbackParse degrade-gracefully motif, adapted here
// to substitution extraction rather than pipe segmentation.
func (r *Resolver) resolveFallback(ctx context.Context, text string, depth int) (string, []llmclient.Annotation, bool, string) {
	spans := findSubstitutionSpansFallback(text)
	resolved := text
	var annotations []llmclient.Annotation

	for _, sp := range spans {
		if depth+1 > maxDepth {
			continue
		}
		innerCanonical := canon.Canonicalize(sp.inner)
		innerResolved := r.resolve(ctx, innerCanonical, depth+1)
		if innerResolved.Blocked {
			return resolved, annotations, true, fmt.Sprintf("inner substitution blocked: %s", innerResolved.Reason)
		}

		verdict := r.validator.ValidateStatic(innerResolved.ResolvedText)
		if verdict.Action != action.Allow {
			return resolved, annotations, true, fmt.Sprintf("inner substitution %q: %s", verdict.Action, verdict.Reason)
		}

		stdout, _, runErr := r.runner.Run(ctx, innerResolved.ResolvedText)
		if runErr != nil {
			return resolved, annotations, true, fmt.Sprintf("inner substitution execution failed: %v", runErr)
		}
		stdout = truncate(stdout)

		annotations = append(annotations, innerResolved.Annotations...)
		annotations = append(annotations, llmclient.Annotation{
			Label: fmt.Sprintf("stdout of %s", sp.inner),
			Body:  stdout,
		})
		resolved = strings.Replace(resolved, sp.source, stdout, 1)
	}

	return resolved, annotations, false, ""
}

func truncate(s string) string {
	if len(s) <= maxCaptureBytes {
		return s
	}
	return s[:maxCaptureBytes] + "\n[TRUNCATED: output exceeded 8KiB capture limit]"
}

func readScriptFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseForResolve(text string) (*syntax.File, error) {
	return syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(text), "")
}
