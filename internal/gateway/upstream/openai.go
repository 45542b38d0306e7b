// Package upstream wraps the provider completion API. Every call is
// keyed by the credential resolved for the request; the package never
// logs or retains plaintext keys.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Request is the inbound completion payload accepted by the proxy.
type Request struct {
	Model           string   `json:"model"`
	Input           string   `json:"input"`
	Instructions    string   `json:"instructions,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	TopP            *float32 `json:"top_p,omitempty"`
	Stream          bool     `json:"stream,omitempty"`
	PersonaID       string   `json:"persona_id,omitempty"`
}

// Validate checks the request is forwardable.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if strings.TrimSpace(r.Input) == "" {
		return fmt.Errorf("input is required")
	}
	return nil
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Result is the stable envelope for a buffered completion.
type Result struct {
	ResponseID string `json:"response_id"`
	Model      string `json:"model"`
	Text       string `json:"text"`
	Usage      Usage  `json:"usage"`
}

// Stream yields completion chunks as they arrive from the provider.
type Stream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Client issues completion calls against a single upstream provider.
type Client struct {
	baseURL string
	timeout time.Duration
}

// NewClient creates an upstream client. timeout bounds buffered calls;
// streams are bounded by the caller's context instead.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, timeout: timeout}
}

func (c *Client) api(apiKey string, streaming bool) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	if !streaming {
		cfg.HTTPClient = &http.Client{Timeout: c.timeout}
	}
	return openai.NewClientWithConfig(cfg)
}

func buildChatRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:  req.Model,
		Stream: stream,
	}

	if req.Instructions != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}
	chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Input,
	})

	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if req.MaxOutputTokens != nil {
		chatReq.MaxTokens = *req.MaxOutputTokens
	}
	if req.TopP != nil {
		chatReq.TopP = *req.TopP
	}
	if stream {
		// Ask the provider to append final token usage to the stream.
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	return chatReq
}

// CreateResponse makes a buffered completion call.
func (c *Client) CreateResponse(ctx context.Context, apiKey string, req *Request) (*Result, error) {
	resp, err := c.api(apiKey, false).CreateChatCompletion(ctx, buildChatRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}

	return &Result{
		ResponseID: resp.ID,
		Model:      resp.Model,
		Text:       text,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// StreamResponse opens a streaming completion call.
func (c *Client) StreamResponse(ctx context.Context, apiKey string, req *Request) (Stream, error) {
	stream, err := c.api(apiKey, true).CreateChatCompletionStream(ctx, buildChatRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	return stream, nil
}

// Probe makes a minimal completion call to verify provider connectivity.
func (c *Client) Probe(ctx context.Context, apiKey string) error {
	maxTokens := 16
	var temperature float32 = 0

	probe := &Request{
		Model:           "gpt-4o-mini",
		Input:           "Hello",
		MaxOutputTokens: &maxTokens,
		Temperature:     &temperature,
	}

	_, err := c.CreateResponse(ctx, apiKey, probe)
	return err
}
