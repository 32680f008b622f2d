package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// anthropicRequest/anthropicResponse mirror Bedrock's Anthropic Messages
// wire shape closely enough to decode a completion; aegish only ever
// reads the first text block and stop reason, so the struct is kept
// deliberately narrow rather than vendoring the full Messages API types.
type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	StopReason string                 `json:"stop_reason"`
	Content    []anthropicContentItem `json:"content"`
	Usage      anthropicUsage         `json:"usage"`
}

type anthropicContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// BedrockProvider is the Provider implementation for AWS Bedrock,
// grounded on diillson-chatcli's llm/manager configurarGoogleAIClient/
// configurarOpenAIClient factory-function pattern (one constructor per
// provider, wiring SDK clients into the provider-agnostic interface) and
// on the aws-sdk-go-v2 bedrockruntime.Client's documented InvokeModel
// shape — the teacher tree carried the SDK as a go.mod dependency but no
// concrete Bedrock client file survived the prune, so this adapter
// follows the SDK's own API contract directly rather than a teacher
// file.
type BedrockProvider struct {
	client *bedrockruntime.Client
}

// NewBedrockProvider loads the default AWS credential chain (environment,
// shared config, IMDS) the same way the teacher's provider factories pull
// API keys from the environment before constructing a client.
func NewBedrockProvider(ctx context.Context) (*BedrockProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &BedrockProvider{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (p *BedrockProvider) Complete(ctx context.Context, modelID string, messages []Message, _ *uint64) (CompletionResult, error) {
	req := anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        512,
	}
	for _, m := range messages {
		if m.Role == "system" {
			req.System = m.Content
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("marshaling bedrock request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return CompletionResult{}, classifyBedrockError(err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return CompletionResult{}, fmt.Errorf("decoding bedrock response: %w", err)
	}

	var text string
	for _, c := range resp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	return CompletionResult{
		Text:       text,
		StopReason: resp.StopReason,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// classifyBedrockError maps throttling/server-side SDK error types to the
// shared APIError so the retry layer's isTemporaryError can recognize
// them without importing the bedrockruntime types package itself.
func classifyBedrockError(err error) error {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return &APIError{StatusCode: 429, Message: throttled.ErrorMessage()}
	}
	var internal *types.InternalServerException
	if errors.As(err, &internal) {
		return &APIError{StatusCode: 500, Message: internal.ErrorMessage()}
	}
	var unavailable *types.ServiceUnavailableException
	if errors.As(err, &unavailable) {
		return &APIError{StatusCode: 503, Message: unavailable.ErrorMessage()}
	}
	return err
}
