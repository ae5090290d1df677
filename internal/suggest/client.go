// Package suggest produces AI reply suggestions for a conversation. It
// caches successful results, retries rate-limited calls with a bounded
// backoff, and classifies every failure for the caller.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Batyrkajan/Amour/internal/llm"
	"github.com/Batyrkajan/Amour/internal/model"
	"github.com/Batyrkajan/Amour/pkg/cache"
	"github.com/Batyrkajan/Amour/pkg/logger"
	"github.com/Batyrkajan/Amour/pkg/metrics"
)

// ErrorCode classifies a suggestion failure.
type ErrorCode string

const (
	// CodeRateLimit means the client exhausted its own rate-limit retries.
	CodeRateLimit ErrorCode = "RATE_LIMIT"
	// CodeBackendRejected is a structured rejection from the AI backend.
	CodeBackendRejected ErrorCode = "BACKEND_REJECTED"
	// CodeUnknown covers transport failures and unparseable responses.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Error is the typed failure surfaced to the caller. Retryable tells the UI
// whether offering a retry action is worthwhile.
type Error struct {
	Code      ErrorCode
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("suggest: %s: %s", e.Code, e.Message)
}

// Options holds configuration for the suggestion client.
type Options struct {
	// MaxRetries bounds the internal rate-limit retry loop.
	MaxRetries int
	// RetryDelay is the base delay; attempt n waits RetryDelay*(n+1).
	RetryDelay time.Duration
	// Count is the number of suggestions requested from the model.
	Count int
	// MaxChars is the per-suggestion character budget.
	MaxChars int
	// HistoryWindow is how many trailing messages feed the prompt.
	HistoryWindow int
	// KeyWindow is how many trailing messages feed the cache key.
	KeyWindow int
}

// DefaultOptions mirror the production configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:    3,
		RetryDelay:    time.Second,
		Count:         3,
		MaxChars:      100,
		HistoryWindow: 5,
		KeyWindow:     3,
	}
}

// Client builds prompts from conversation context and turns raw model output
// into short reply suggestions. The cache is shared process-wide; one Client
// may serve many conversations concurrently.
type Client struct {
	llm    llm.Client
	cache  *cache.Cache[[]string]
	opts   Options
	logger *logger.Logger

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a suggestion client backed by the given completion provider
// and shared cache.
func New(llmClient llm.Client, c *cache.Cache[[]string], opts Options, log *logger.Logger) *Client {
	if opts.Count == 0 {
		opts = DefaultOptions()
	}
	return &Client{
		llm:    llmClient,
		cache:  c,
		opts:   opts,
		logger: log,
		sleep:  sleepCtx,
	}
}

// Suggestions returns up to Count short replies for the conversation. When
// useCache is false the lookup is skipped, but a successful result is still
// stored for the next caller.
func (c *Client) Suggestions(ctx context.Context, cc model.ConversationContext, history []model.Message, useCache bool) ([]string, error) {
	key := c.cacheKey(cc, history)

	if useCache {
		if cached, ok := c.cache.Get(key); ok {
			metrics.SuggestionCacheHits.Inc()
			return cached, nil
		}
	}

	raw, err := c.complete(ctx, cc, history)
	if err != nil {
		metrics.SuggestionRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	suggestions := parseSuggestions(raw, c.opts.Count)
	if len(suggestions) > 0 {
		c.cache.Set(key, suggestions)
	}
	metrics.SuggestionRequests.WithLabelValues("ok").Inc()
	return suggestions, nil
}

// complete runs the completion with the internal rate-limit retry loop.
func (c *Client) complete(ctx context.Context, cc model.ConversationContext, history []model.Message) (string, error) {
	if c.llm == nil {
		return "", &Error{Code: CodeUnknown, Message: "no completion provider configured"}
	}

	req := &llm.CompletionRequest{
		System:      c.systemPrompt(),
		Prompt:      c.userPrompt(cc, history),
		MaxTokens:   256,
		Temperature: 0.7,
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.opts.RetryDelay * time.Duration(attempt)
			metrics.SuggestionRetries.Inc()
			c.logger.Debug("rate limited, backing off",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return "", &Error{Code: CodeUnknown, Message: err.Error()}
			}
		}

		raw, err := c.llm.Complete(ctx, req)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		if !errors.Is(err, llm.ErrRateLimited) {
			break
		}
	}

	return "", classify(lastErr)
}

func classify(err error) *Error {
	if errors.Is(err, llm.ErrRateLimited) {
		return &Error{
			Code:      CodeRateLimit,
			Message:   "suggestion service is busy, try again later",
			Retryable: false,
		}
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Code:      CodeBackendRejected,
			Message:   apiErr.Message,
			Retryable: apiErr.Temporary,
		}
	}

	return &Error{Code: CodeUnknown, Message: err.Error(), Retryable: false}
}

// cacheKey derives a deterministic key from the parts of the context that
// should invalidate cached suggestions: the pairing, the message count and
// stage, and the trailing KeyWindow message contents.
func (c *Client) cacheKey(cc model.ConversationContext, history []model.Message) string {
	tail := history
	if len(tail) > c.opts.KeyWindow {
		tail = tail[len(tail)-c.opts.KeyWindow:]
	}
	parts := make([]string, 0, len(tail))
	for _, m := range tail {
		parts = append(parts, m.Content)
	}
	return fmt.Sprintf("%s|%s|%d|%s|%s",
		cc.Self.Name, cc.Peer.Name, cc.MessageCount, cc.Stage, strings.Join(parts, "\n"))
}

var ordinalPrefix = regexp.MustCompile(`^\s*\d+[.)]\s*`)

// parseSuggestions splits the raw model response into at most max
// suggestions, dropping blank lines and leading ordinal markers.
func parseSuggestions(raw string, max int) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(ordinalPrefix.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == max {
			break
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
