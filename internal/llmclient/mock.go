package llmclient

import "context"

// MockProvider is a trivial test double, grounded on
// diillson-chatcli/llm/client/mock_llm_client.go's MockLLMClient{Response,
// Err} shape.
type MockProvider struct {
	Response string
	Err      error
}

func (m *MockProvider) Complete(_ context.Context, _ string, _ []Message, _ *uint64) (CompletionResult, error) {
	if m.Err != nil {
		return CompletionResult{}, m.Err
	}
	return CompletionResult{Text: m.Response, StopReason: "stop"}, nil
}
