package suggest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Batyrkajan/Amour/internal/llm"
	"github.com/Batyrkajan/Amour/internal/model"
	"github.com/Batyrkajan/Amour/pkg/cache"
	"github.com/Batyrkajan/Amour/pkg/logger"
)

type fakeLLM struct {
	responses []string
	errs      []error
	calls     int
	prompts   []*llm.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (string, error) {
	f.prompts = append(f.prompts, req)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", errors.New("no scripted response")
}

func (f *fakeLLM) Name() string { return "fake" }

func newTestClient(f *fakeLLM) (*Client, *cache.Cache[[]string]) {
	c := cache.New[[]string](5 * time.Minute)
	client := New(f, c, DefaultOptions(), logger.NewNop())
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client, c
}

func testContext(count int) model.ConversationContext {
	return model.ConversationContext{
		Self:         model.Profile{Name: "Ana", Age: 27, Bio: "climber"},
		Peer:         model.Profile{Name: "Ben", Age: 29, Bio: "runner", Interests: []string{"coffee"}},
		MessageCount: count,
		Stage:        model.StageForCount(count),
	}
}

func historyOf(contents ...string) []model.Message {
	msgs := make([]model.Message, len(contents))
	for i, c := range contents {
		msgs[i] = model.Message{ID: c, SenderID: "user-peer", Content: c}
	}
	return msgs
}

func TestSuggestionsParseAndLimit(t *testing.T) {
	f := &fakeLLM{responses: []string{"1. Hey, how was your run?\n\n2) Coffee this week?\n3. Tell me more!\n4. extra"}}
	client, _ := newTestClient(f)

	got, err := client.Suggestions(context.Background(), testContext(3), nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hey, how was your run?", "Coffee this week?", "Tell me more!"}, got)
}

func TestSuggestionsCached(t *testing.T) {
	f := &fakeLLM{responses: []string{"one\ntwo\nthree", "different"}}
	client, _ := newTestClient(f)

	ctx := context.Background()
	cc := testContext(6)
	hist := historyOf("a", "b", "c", "d")

	first, err := client.Suggestions(ctx, cc, hist, true)
	require.NoError(t, err)

	second, err := client.Suggestions(ctx, cc, hist, true)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.calls)
}

func TestSuggestionsBypassCache(t *testing.T) {
	f := &fakeLLM{responses: []string{"one", "two"}}
	client, _ := newTestClient(f)

	ctx := context.Background()
	cc := testContext(6)

	_, err := client.Suggestions(ctx, cc, nil, true)
	require.NoError(t, err)

	got, err := client.Suggestions(ctx, cc, nil, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"two"}, got)
	assert.Equal(t, 2, f.calls)
}

func TestCacheKeyIgnoresMessagesOutsideWindow(t *testing.T) {
	client, _ := newTestClient(&fakeLLM{})
	cc := testContext(6)

	// Only the trailing three messages feed the key.
	a := client.cacheKey(cc, historyOf("old-1", "x", "y", "z"))
	b := client.cacheKey(cc, historyOf("old-2", "x", "y", "z"))
	assert.Equal(t, a, b)

	c := client.cacheKey(cc, historyOf("old-1", "x", "y", "changed"))
	assert.NotEqual(t, a, c)
}

func TestCacheKeySensitivity(t *testing.T) {
	client, _ := newTestClient(&fakeLLM{})
	hist := historyOf("x", "y", "z")

	base := client.cacheKey(testContext(6), hist)

	assert.NotEqual(t, base, client.cacheKey(testContext(7), hist))
	assert.NotEqual(t, base, client.cacheKey(testContext(25), hist))

	other := testContext(6)
	other.Peer.Name = "Carl"
	assert.NotEqual(t, base, client.cacheKey(other, hist))
}

func TestRateLimitRetryBudget(t *testing.T) {
	f := &fakeLLM{errs: []error{llm.ErrRateLimited, llm.ErrRateLimited, llm.ErrRateLimited, llm.ErrRateLimited}}
	client, _ := newTestClient(f)

	var delays []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := client.Suggestions(context.Background(), testContext(3), nil, true)

	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, CodeRateLimit, sErr.Code)
	assert.False(t, sErr.Retryable)

	// Initial attempt plus exactly three retries, delays 1s, 2s, 3s.
	assert.Equal(t, 4, f.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, delays)
}

func TestRateLimitThenSuccess(t *testing.T) {
	f := &fakeLLM{
		errs:      []error{llm.ErrRateLimited, nil},
		responses: []string{"", "one\ntwo\nthree"},
	}
	client, _ := newTestClient(f)

	got, err := client.Suggestions(context.Background(), testContext(3), nil, true)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, f.calls)
}

func TestBackendRejectedCarriesRetryability(t *testing.T) {
	f := &fakeLLM{errs: []error{&llm.APIError{Code: "overloaded", Message: "try later", Temporary: true}}}
	client, _ := newTestClient(f)

	_, err := client.Suggestions(context.Background(), testContext(3), nil, true)

	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, CodeBackendRejected, sErr.Code)
	assert.True(t, sErr.Retryable)
	assert.Equal(t, "try later", sErr.Message)
}

func TestUnknownFailure(t *testing.T) {
	f := &fakeLLM{errs: []error{errors.New("connection reset")}}
	client, _ := newTestClient(f)

	_, err := client.Suggestions(context.Background(), testContext(3), nil, true)

	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, CodeUnknown, sErr.Code)
	assert.False(t, sErr.Retryable)
	assert.Equal(t, 1, f.calls)
}

func TestFailureNotCached(t *testing.T) {
	f := &fakeLLM{
		errs:      []error{errors.New("boom"), nil},
		responses: []string{"", "one"},
	}
	client, _ := newTestClient(f)

	ctx := context.Background()
	cc := testContext(3)

	_, err := client.Suggestions(ctx, cc, nil, true)
	require.Error(t, err)

	got, err := client.Suggestions(ctx, cc, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, got)
}

func TestEmptyResultNotCached(t *testing.T) {
	f := &fakeLLM{responses: []string{"", "one"}}
	client, c := newTestClient(f)

	ctx := context.Background()
	cc := testContext(3)

	got, err := client.Suggestions(ctx, cc, nil, true)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, c.Len())

	got, err = client.Suggestions(ctx, cc, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, got)
}

func TestPromptMentionsStageGoal(t *testing.T) {
	f := &fakeLLM{responses: []string{"one"}}
	client, _ := newTestClient(f)

	_, err := client.Suggestions(context.Background(), testContext(25), historyOf("x"), true)
	require.NoError(t, err)

	require.Len(t, f.prompts, 1)
	assert.Contains(t, f.prompts[0].Prompt, "planning_date")
	assert.Contains(t, f.prompts[0].Prompt, "meeting in person")
	assert.Contains(t, f.prompts[0].System, "under 100 characters")
}

func TestPromptHistoryWindow(t *testing.T) {
	f := &fakeLLM{responses: []string{"one"}}
	client, _ := newTestClient(f)

	hist := historyOf("oldest", "m1", "m2", "m3", "m4", "m5")
	_, err := client.Suggestions(context.Background(), testContext(6), hist, true)
	require.NoError(t, err)

	require.Len(t, f.prompts, 1)
	assert.NotContains(t, f.prompts[0].Prompt, "oldest")
	assert.Contains(t, f.prompts[0].Prompt, "m1")
	assert.Contains(t, f.prompts[0].Prompt, "m5")
}
