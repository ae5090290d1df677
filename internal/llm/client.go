// Package llm provides completion client interfaces and implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrRateLimited is returned when the provider rejects a request for rate
// limiting. Callers own the retry policy.
var ErrRateLimited = errors.New("llm: rate limited")

// APIError is a structured rejection from the completion backend.
type APIError struct {
	Code      string
	Message   string
	Temporary bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: backend rejected request (%s): %s", e.Code, e.Message)
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Client is the interface for completion providers.
type Client interface {
	// Complete sends a completion request and returns the raw text
	// response. Failures are ErrRateLimited, *APIError, or an opaque
	// transport error.
	Complete(ctx context.Context, req *CompletionRequest) (string, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of completion provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new completion client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}
