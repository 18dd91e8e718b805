package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/agentflow/internal/config"
)

// LLMBackend sends prompts to a chat-completion model and reads the JSON
// object the prompt asks for out of the reply.
type LLMBackend struct {
	model   llms.Model
	name    string
	opts    []llms.CallOption
	limiter *rate.Limiter
}

// NewLLMBackend creates a backend for an OpenAI-compatible endpoint.
func NewLLMBackend(cfg config.BackendConfig) (*LLMBackend, error) {
	if cfg.LLM.Model == "" {
		return nil, fmt.Errorf("%w: llm model is empty", ErrNoBackend)
	}

	// The client refuses an empty token even for local endpoints.
	token := cfg.LLM.APIKey.Value()
	if token == "" {
		token = "placeholder"
	}
	opts := []openai.Option{
		openai.WithModel(cfg.LLM.Model),
		openai.WithToken(token),
	}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return NewModelBackend(llm, cfg), nil
}

// NewModelBackend wraps an existing model.
func NewModelBackend(model llms.Model, cfg config.BackendConfig) *LLMBackend {
	var opts []llms.CallOption
	if cfg.LLM.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.LLM.MaxTokens))
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &LLMBackend{
		model:   model,
		name:    cfg.LLM.Model,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
	}
}

// Invoke implements Backend.
func (b *LLMBackend) Invoke(ctx context.Context, prompt string) (*BackendResponse, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, b.model, prompt, b.opts...)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	resp := ParseCompletion(text)
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	if b.name != "" {
		resp.Metadata["model"] = b.name
	}
	return resp, nil
}

// ParseCompletion turns model text into a response.
//
// A reply already shaped like a BackendResponse (an "outputs" object) is
// used as is. Any other JSON object becomes the outputs. Text with no JSON
// object is returned under the "output" key.
func ParseCompletion(text string) *BackendResponse {
	body := extractJSONObject(text)
	if body != "" {
		var shaped struct {
			Outputs  map[string]any `json:"outputs"`
			Success  *bool          `json:"success"`
			Metadata map[string]any `json:"metadata"`
			Error    string         `json:"error"`
		}
		if err := json.Unmarshal([]byte(body), &shaped); err == nil && shaped.Outputs != nil {
			resp := &BackendResponse{
				Outputs:  shaped.Outputs,
				Success:  true,
				Metadata: shaped.Metadata,
				Error:    shaped.Error,
			}
			if shaped.Success != nil {
				resp.Success = *shaped.Success
			}
			return resp
		}

		var outputs map[string]any
		if err := json.Unmarshal([]byte(body), &outputs); err == nil {
			return &BackendResponse{Outputs: outputs, Success: true}
		}
	}

	return &BackendResponse{
		Outputs: map[string]any{"output": strings.TrimSpace(text)},
		Success: true,
	}
}

// extractJSONObject returns the outermost {...} span of text, looking inside
// a fenced code block first.
func extractJSONObject(text string) string {
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		}
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
