// Package ai talks to an OpenAI-compatible chat completions endpoint and
// decodes JSON answers for the report and briefing generators.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultModel    = "gpt-4o-mini"

	defaultAttempts   = 3
	defaultRetryDelay = time.Second
)

var (
	ErrNotConfigured     = errors.New("ai client not configured")
	ErrRateLimited       = errors.New("ai rate limit exceeded")
	ErrNetwork           = errors.New("ai network error")
	ErrInvalidKey        = errors.New("ai api key rejected")
	ErrMalformedResponse = errors.New("ai response malformed")
	ErrUpstream          = errors.New("ai upstream error")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Client is safe for concurrent use.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	http       *http.Client
	attempts   int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithRetry sets the attempt count and the base delay; the n-th retry waits n×delay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.retryDelay = delay
	}
}

func New(apiKey, model, endpoint string, opts ...Option) *Client {
	if model == "" {
		model = DefaultModel
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		endpoint:   endpoint,
		http:       &http.Client{Timeout: 30 * time.Second},
		attempts:   defaultAttempts,
		retryDelay: defaultRetryDelay,
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// GenerateJSON sends prompt and decodes the JSON object in the answer into
// out. Rate limits, network failures and 5xx answers are retried.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		var content string
		content, err = c.complete(ctx, prompt)
		if err == nil {
			if derr := decodeContent(content, out); derr != nil {
				return derr
			}
			return nil
		}
		if !retryable(err) || attempt == c.attempts {
			break
		}
		if serr := c.sleep(ctx, c.retryDelay*time.Duration(attempt)); serr != nil {
			return serr
		}
	}
	return err
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: "You are an education analyst for parents. Answer with a single JSON object only."},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.7,
		MaxTokens:      1000,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrInvalidKey
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ai api error: status %d, body: %s", resp.StatusCode, string(b))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	return parsed.Choices[0].Message.Content, nil
}

// decodeContent tolerates a fenced ```json block around the object.
func decodeContent(content string, out any) error {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetwork) || errors.Is(err, ErrUpstream)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
