package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Turn is one entry of the ordered conversation history sent to the
// generation service.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is a successful generation: the reply body plus usage metadata.
type Result struct {
	Content    string
	TokensUsed int
}

type Config struct {
	NodeURL        string
	APIKey         string
	ModelID        string
	MaxTokens      int
	Temperature    float64
	TopP           float64
	RequestTimeout time.Duration
}

// Client talks to an external chat-completions style generation service.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type completionRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	Stream      bool    `json:"stream"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate invokes the generation service with the ordered history and
// returns the produced content and token usage. An empty or invalid result
// is an error; there are no partial results.
func (c *Client) Generate(ctx context.Context, history []Turn) (*Result, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("empty history")
	}

	payload, err := json.Marshal(completionRequest{
		Model:       c.cfg.ModelID,
		Messages:    history,
		Stream:      false,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.NodeURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation node returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("generation node returned no choices")
	}

	content := stripReasoning(parsed.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("generation node returned empty content")
	}

	return &Result{
		Content:    content,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}

// stripReasoning drops everything up to and including a closing </think>
// tag; reasoning models prepend their chain of thought that way.
func stripReasoning(raw string) string {
	lower := strings.ToLower(raw)
	if idx := strings.LastIndex(lower, "</think>"); idx >= 0 {
		return strings.TrimSpace(raw[idx+len("</think>"):])
	}
	return strings.TrimSpace(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
