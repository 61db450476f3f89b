// Package llm talks to an OpenAI-compatible chat completion endpoint
// (Ollama, LM Studio, OpenAI). All calls honor context cancellation, which
// is how the pane scheduler aborts in-flight work.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Message is a chat message in the completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the completion interface pane workers and the keeper agent
// depend on.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// CompleteText runs a single-prompt completion and returns the trimmed
// response text.
func CompleteText(ctx context.Context, c Client, prompt string) (string, error) {
	out, err := c.Complete(ctx, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HTTPClient implements Client against a /v1/chat/completions endpoint.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	model   string
	apiKey  string
}

// NewHTTPClient creates a client for the given base URL and model. An
// empty apiKey skips the Authorization header (local backends).
func NewHTTPClient(baseURL, model, apiKey string) *HTTPClient {
	return &HTTPClient{
		// No client-level timeout: per-call deadlines come from ctx so the
		// scheduler's budget is the single source of truth.
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
	}
}

// Complete sends messages and returns the full response text.
func (c *HTTPClient) Complete(ctx context.Context, messages []Message) (string, error) {
	payload := map[string]any{
		"messages":    messages,
		"temperature": 0.7,
		"stream":      false,
	}
	if c.model != "" {
		payload["model"] = c.model
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if readErr != nil {
			return "", fmt.Errorf("llm returned status %d and an unreadable body: %w", resp.StatusCode, readErr)
		}
		return "", fmt.Errorf("llm error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
