package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/agentflow/internal/config"
	"golang.org/x/time/rate"
)

// BackendResponse is the raw result of one task execution.
type BackendResponse struct {
	Outputs  map[string]any `json:"outputs"`
	Success  bool           `json:"success"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Backend executes a prompt. Implementations must honor ctx cancellation.
type Backend interface {
	Invoke(ctx context.Context, prompt string) (*BackendResponse, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, prompt string) (*BackendResponse, error)

// Invoke implements Backend.
func (f BackendFunc) Invoke(ctx context.Context, prompt string) (*BackendResponse, error) {
	return f(ctx, prompt)
}

const (
	defaultBackendTimeout = 2 * time.Minute
	defaultRateLimit      = 1.0
	defaultBurst          = 1
	maxResponseSize       = 10 * 1024 * 1024
)

// HTTPBackend posts prompts as JSON to a task-execution endpoint.
//
// Request:  {"prompt": "..."}
// Response: {"success": true, "outputs": {...}, "metadata": {...}}
type HTTPBackend struct {
	url        string
	apiKey     config.Secret
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPBackend creates a backend from settings.
func NewHTTPBackend(cfg config.BackendConfig) (*HTTPBackend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: backend url is empty", ErrNoBackend)
	}

	timeout := cfg.Timeout.OrDefault(defaultBackendTimeout)
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &HTTPBackend{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
	}, nil
}

type invokeRequest struct {
	Prompt string `json:"prompt"`
}

// Invoke implements Backend. It waits on the rate limiter first; no retries
// are attempted.
func (b *HTTPBackend) Invoke(ctx context.Context, prompt string) (*BackendResponse, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(invokeRequest{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+b.apiKey.Value())
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, truncateBody(data))
	}

	var out BackendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
