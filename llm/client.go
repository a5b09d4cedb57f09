package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	HTTP          *http.Client
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type ChatResponse struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content,omitempty"`
}

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

const defaultMaxTokens = 512

func NewClient(baseURL, apiKey, model string) *Client {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000/v1"
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		Model:     model,
		MaxTokens: 4000,
		HTTP:      &http.Client{Timeout: 20 * time.Second},
	}
}

// CreateChatCompletion sends req and returns the first choice. Network
// errors, 429 and 5xx are ErrTransient and retried once on FallbackModel
// when it differs; other 4xx are ErrPermanent.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.Model
	}
	if req.Model == "" {
		req.Model = "local"
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if c.MaxTokens > 0 && req.MaxTokens > c.MaxTokens {
		req.MaxTokens = c.MaxTokens
	}

	resp, err := c.do(ctx, req)
	if errors.Is(err, ErrTransient) && c.FallbackModel != "" && c.FallbackModel != req.Model {
		req.Model = c.FallbackModel
		select {
		case <-ctx.Done():
			return ChatResponse{}, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
		return c.do(ctx, req)
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out struct {
			ID      string `json:"id"`
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return ChatResponse{}, fmt.Errorf("%w: decode error: %v", ErrTransient, err)
		}
		content := ""
		if len(out.Choices) > 0 {
			content = out.Choices[0].Message.Content
		}
		return ChatResponse{ID: out.ID, Content: content}, nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return ChatResponse{}, fmt.Errorf("%w: model %s status %d", ErrTransient, req.Model, resp.StatusCode)
	}
	return ChatResponse{}, fmt.Errorf("%w: model %s status %d", ErrPermanent, req.Model, resp.StatusCode)
}
