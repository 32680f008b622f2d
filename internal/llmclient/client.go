// Package llmclient implements the LLM Client (C6): prompt construction
// with injection-resistant tagging, a sequential per-model retry and
// fallback chain, structured JSON response parsing, confidence gating,
// and fail-mode translation. See spec.md §4.5.
package llmclient

import "context"

// Message mirrors the consumed interface's {role, content} pair
// (spec.md §6: completion(model_id, messages, timeout_ms, seed) -> {text,
// stop_reason, usage}). Grounded on diillson-chatcli/models.Message, with
// the JSON tags dropped since this is a wire-adjacent but not
// wire-serialized type here.
type Message struct {
	Role    string
	Content string
}

// Usage reports token accounting, mirroring
// diillson-chatcli/models.UsageInfo.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResult is the consumed interface's return value.
type CompletionResult struct {
	Text       string
	StopReason string
	Usage      Usage
}

// Provider is the abstract LLM completion operation spec.md §6 describes.
// The core never imports a concrete provider SDK directly — only this
// interface, mirroring diillson-chatcli/llm/client.LLMClient's
// provider-agnostic contract (there: GetModelName/SendPrompt; here:
// Complete, shaped after spec.md's own signature).
type Provider interface {
	Complete(ctx context.Context, modelID string, messages []Message, seed *uint64) (CompletionResult, error)
}

// ProviderError is returned by Complete on a provider-side failure,
// mirroring diillson-chatcli/llm/client.LLMError{Code, Message}.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string { return e.Code + ": " + e.Message }
