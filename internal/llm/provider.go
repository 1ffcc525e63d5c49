// Package llm implements the validation oracle on top of chat-style LLM providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ppiankov/placemaster/internal/oracle"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends a single prompt and returns the model's text answer
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest contains the input for one completion
type CompletionRequest struct {
	// System is the system instruction
	System string

	// Prompt is the user message
	Prompt string

	// Model is the specific model to use (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int

	Temperature float64
}

// CompletionResponse contains the model output
type CompletionResponse struct {
	Text string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// CacheTTL for validation answers
	CacheTTL int // seconds

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "", // Disabled by default
		Timeout:   30,
		MaxTokens: 300,
		CacheTTL:  30 * 24 * 3600,
	}
}

func (c Config) timeout(fallback time.Duration) time.Duration {
	if c.Timeout > 0 {
		return time.Duration(c.Timeout) * time.Second
	}
	return fallback
}

func (c Config) maxTokens(req int) int {
	if req > 0 {
		return req
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 300
}

// apiError builds the error for a non-2xx provider response.
// Rate limits and server errors are transient.
func apiError(provider string, status int, msg string) error {
	err := fmt.Errorf("API error (%d): %s", status, msg)
	if oracle.IsRetryableStatus(status) {
		return oracle.Transient(provider, status, err)
	}
	return err
}

// requestError classifies a failed round trip. Caller cancellation is returned as is.
func requestError(ctx context.Context, provider string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	return oracle.Transient(provider, 0, fmt.Errorf("execute request: %w", err))
}

func statusOK(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
