package embedding

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
	defaultBatchSize  = 64
	defaultMaxRetries = 4
	defaultTimeout    = 30 * time.Second
	maxBackoff        = 5 * time.Second
)

// Client calls an OpenAI-compatible embeddings endpoint. Requests are split
// into batches; transient failures (timeouts, 429, 5xx) are retried with
// exponential backoff and surface as models.ErrProviderUnavailable or
// models.ErrRateLimited once attempts are exhausted. Permanent rejections
// (4xx) surface immediately as models.ErrInvalidInput.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	batchSize  int
	maxRetries int
	client     *http.Client
}

// ClientConfig configures the embeddings client.
type ClientConfig struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Dimensions int
	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
}

// NewClient creates an embeddings client. Dimensions must be set: the vector
// index dimension is fixed process-wide and validated against every response.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: embedding dimensions must be positive", models.ErrConfiguration)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: embedding base URL is required", models.ErrConfiguration)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     apiKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Embed returns the embedding for a single text (the query path).
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings in input order, one per text. The provider
// contract is all-or-nothing per request, so a failed batch is retried as a
// unit before the error surfaces.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.embedBatchOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embedBatchOnce(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		vecs, retryable, err := c.doRequest(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// doRequest performs one provider call. retryable reports whether the failure
// is transient.
func (c *Client) doRequest(ctx context.Context, texts []string) (vecs [][]float32, retryable bool, err error) {
	body, err := json.Marshal(map[string]interface{}{
		"model": c.model,
		"input": texts,
	})
	if err != nil {
		return nil, false, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		drainBody(resp.Body)
		return nil, true, fmt.Errorf("%w: %s (retry-after %s)",
			models.ErrRateLimited, resp.Status, resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		drainBody(resp.Body)
		return nil, true, fmt.Errorf("%w: %s", models.ErrProviderUnavailable, resp.Status)
	case resp.StatusCode >= 400:
		msg := readErrorMessage(resp.Body)
		return nil, false, fmt.Errorf("%w: %s: %s", models.ErrInvalidInput, resp.Status, msg)
	}

	var payload struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, true, fmt.Errorf("%w: decode response: %v", models.ErrProviderUnavailable, err)
	}
	if len(payload.Data) != len(texts) {
		return nil, true, fmt.Errorf("%w: got %d embeddings for %d texts",
			models.ErrProviderUnavailable, len(payload.Data), len(texts))
	}
	vecs = make([][]float32, len(texts))
	for _, d := range payload.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, true, fmt.Errorf("%w: embedding index %d out of range", models.ErrProviderUnavailable, d.Index)
		}
		if len(d.Embedding) != c.dimensions {
			return nil, false, fmt.Errorf("%w: provider returned dimension %d, expected %d",
				models.ErrConfiguration, len(d.Embedding), c.dimensions)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, true, fmt.Errorf("%w: missing embedding for text %d", models.ErrProviderUnavailable, i)
		}
	}
	return vecs, false, nil
}

// Dimensions returns the fixed embedding dimension.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the underlying http.Client needs no teardown.
func (c *Client) Close() error {
	return nil
}

// sleepBackoff waits 200ms << attempt, capped at 5s, honoring ctx cancellation.
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

func drainBody(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return string(bytes.TrimSpace(data))
}
