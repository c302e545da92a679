package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

const (
	defaultMaxRetries = 3
	defaultTimeout    = 60 * time.Second
	maxBackoff        = 5 * time.Second
)

// Client calls an OpenAI-compatible chat completions endpoint. Transient
// failures are retried with exponential backoff; content-policy refusals
// surface as models.ErrContentRejected and are never retried.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	maxRetries  int
	client      *http.Client
}

// ClientConfig configures the completion client.
type ClientConfig struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
	Timeout     time.Duration
}

// NewClient creates a completion client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: completion base URL is required", models.ErrConfiguration)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      apiKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		client:      &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Complete generates text for the prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt-1); err != nil {
				return "", err
			}
		}
		text, retryable, err := c.doRequest(ctx, prompt)
		if err == nil {
			return text, nil
		}
		if !retryable {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (c *Client) doRequest(ctx context.Context, prompt string) (text string, retryable bool, err error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":       c.model,
		"max_tokens":  c.maxTokens,
		"temperature": c.temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", true, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", true, fmt.Errorf("%w: %s", models.ErrRateLimited, resp.Status)
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", true, fmt.Errorf("%w: %s", models.ErrProviderUnavailable, resp.Status)
	case resp.StatusCode >= 400:
		return "", false, fmt.Errorf("%w: %s", models.ErrInvalidInput, resp.Status)
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", true, fmt.Errorf("%w: decode response: %v", models.ErrProviderUnavailable, err)
	}
	if len(payload.Choices) == 0 {
		return "", true, fmt.Errorf("%w: no choices in response", models.ErrProviderUnavailable)
	}
	choice := payload.Choices[0]
	if choice.FinishReason == "content_filter" {
		return "", false, fmt.Errorf("%w: completion stopped by content filter", models.ErrContentRejected)
	}
	return choice.Message.Content, false, nil
}

// Close is a no-op; the underlying http.Client needs no teardown.
func (c *Client) Close() error {
	return nil
}

func sleepBackoff(ctx context.Context, attempt int) error {
	d := 200 * time.Millisecond << attempt
	if d > maxBackoff {
		d = maxBackoff
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
