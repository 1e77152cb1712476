// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elias-jhsph/scienceai/internal/httputil"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

// defaultBaseURL is the OpenAI-compatible API root. Package-level var
// for test substitution.
var defaultBaseURL = "https://api.openai.com/v1"

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// NewClient builds a Client from the model configuration.
func NewClient(cfg types.ModelConfig) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		APIKey:  cfg.APIKey,
		BaseURL: base,
		Client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// wireMessage strips local bookkeeping (status, time, hidden) from a
// conversation message before it goes over the wire. Content is either a
// plain string or, when the message carries images, a list of content
// parts.
type wireMessage struct {
	Role       types.Role          `json:"role"`
	Content    any                 `json:"content"`
	ToolCalls  []types.ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Name       string              `json:"name,omitempty"`
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

// wireContent renders a message's content, expanding images into
// image_url parts ahead of the text.
func wireContent(m types.Message) any {
	if len(m.Images) == 0 {
		return m.Content
	}
	parts := make([]wirePart, 0, len(m.Images)+1)
	for _, url := range m.Images {
		parts = append(parts, wirePart{Type: "image_url", ImageURL: &wireImageURL{URL: url}})
	}
	if m.Content != "" {
		parts = append(parts, wirePart{Type: "text", Text: m.Content})
	}
	return parts
}

type wireRequest struct {
	Model       string             `json:"model"`
	Messages    []wireMessage      `json:"messages"`
	Tools       []types.ToolSchema `json:"tools,omitempty"`
	ToolChoice  *types.ToolChoice  `json:"tool_choice,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string              `json:"content"`
			ToolCalls []types.ToolCallRef `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat posts one chat-completions request and decodes the first choice.
func (c *Client) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	body := wireRequest{
		Model:       req.Model,
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		role := m.Role
		if role == types.RoleFunctionCall {
			// Dry-run records never reach the provider.
			continue
		}
		body.Messages = append(body.Messages, wireMessage{
			Role:       role,
			Content:    wireContent(m),
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := httputil.DoWithRetry(ctx, c.Client, httpReq, 0)
	if err != nil {
		return nil, fmt.Errorf("posting chat request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat request returned %d: %s", resp.StatusCode, truncate(string(data), 300))
	}

	var decoded wireResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("provider error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	msg := decoded.Choices[0].Message
	return &types.ChatResponse{Content: msg.Content, ToolCalls: msg.ToolCalls}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
