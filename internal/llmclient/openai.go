package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
)

// chatCompletionRequest/chatCompletionResponse mirror the OpenAI-style
// chat completions wire format, grounded on
// diillson-chatcli/llm/openai_client.go's request/response struct shapes
// (trimmed here to the fields aegish actually reads).
type chatCompletionRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// over a utls-fingerprinted TLS connection, mirroring the posture the
// teacher's own HTTP-based provider clients take against endpoints that
// fingerprint or rate-limit based on TLS client hello shape.
type OpenAIProvider struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewOpenAIProvider builds a provider dialing endpoint with a Chrome-
// fingerprinted ClientHello via utls instead of Go's native TLS stack,
// grounded on refraction-networking/utls's documented UConn/UTLSConn
// dial pattern (no teacher file uses utls directly; the teacher's go.mod
// carries it as a dependency of its HTTP transport stack).
func NewOpenAIProvider(endpoint, apiKey string) *OpenAIProvider {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			rawConn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				host = addr
			}
			uConn := utls.UClient(rawConn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
			if err := uConn.Handshake(); err != nil {
				rawConn.Close()
				return nil, fmt.Errorf("utls handshake: %w", err)
			}
			return uConn, nil
		},
	}

	return &OpenAIProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Transport: transport, Timeout: 60 * time.Second},
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, modelID string, messages []Message, _ *uint64) (CompletionResult, error) {
	req := chatCompletionRequest{Model: modelID}
	for _, m := range messages {
		req.Messages = append(req.Messages, openAIMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("marshaling chat completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return CompletionResult{}, fmt.Errorf("building chat completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return CompletionResult{}, ctx.Err()
		}
		return CompletionResult{}, fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("reading chat completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return CompletionResult{}, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var cc chatCompletionResponse
	if err := json.Unmarshal(respBody, &cc); err != nil {
		return CompletionResult{}, fmt.Errorf("decoding chat completion response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return CompletionResult{}, fmt.Errorf("chat completion response had no choices")
	}

	return CompletionResult{
		Text:       cc.Choices[0].Message.Content,
		StopReason: cc.Choices[0].FinishReason,
		Usage: Usage{
			PromptTokens:     cc.Usage.PromptTokens,
			CompletionTokens: cc.Usage.CompletionTokens,
			TotalTokens:      cc.Usage.TotalTokens,
		},
	}, nil
}
