package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Batyrkajan/Amour/internal/backend"
	"github.com/Batyrkajan/Amour/internal/llm"
	"github.com/Batyrkajan/Amour/internal/middleware"
	"github.com/Batyrkajan/Amour/internal/model"
	"github.com/Batyrkajan/Amour/internal/session"
	"github.com/Batyrkajan/Amour/internal/suggest"
	"github.com/Batyrkajan/Amour/pkg/cache"
	"github.com/Batyrkajan/Amour/pkg/logger"
)

const testUserID = "user-self"

var testConvID = uuid.NewString()

type stubSub struct{}

func (stubSub) Unsubscribe() error { return nil }

// stubBackend is a minimal in-memory chat backend for handler tests.
type stubBackend struct {
	mu        sync.Mutex
	history   []model.Message
	markReads []string
}

func (s *stubBackend) FetchMessages(context.Context, string) ([]model.Message, error) {
	return s.history, nil
}

func (s *stubBackend) SendMessage(_ context.Context, conversationID, senderID, content string, aiGenerated bool) (*model.Message, error) {
	return &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
		AIGenerated:    aiGenerated,
		Status:         model.StatusSent,
	}, nil
}

func (s *stubBackend) MarkRead(_ context.Context, _, messageID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markReads = append(s.markReads, messageID)
	return nil
}

func (s *stubBackend) SubscribeInserts(string, backend.InsertHandler) (backend.Subscription, error) {
	return stubSub{}, nil
}

func (s *stubBackend) SubscribeUpdates(string, backend.UpdateHandler) (backend.Subscription, error) {
	return stubSub{}, nil
}

func (s *stubBackend) SubscribePresence(string, backend.PresenceHandler) (backend.Subscription, error) {
	return stubSub{}, nil
}

func (s *stubBackend) Announce(context.Context, string, string, bool) error { return nil }

type scriptedLLM struct {
	response string
	err      error
}

func (s *scriptedLLM) Complete(context.Context, *llm.CompletionRequest) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *scriptedLLM) Name() string { return "scripted" }

func newTestRouter(sb *stubBackend, ai llm.Client) *chi.Mux {
	log := logger.NewNop()
	opts := suggest.DefaultOptions()
	opts.RetryDelay = time.Millisecond
	suggester := suggest.New(ai, cache.New[[]string](time.Minute), opts, log)

	manager := session.NewManager(sb, sb, suggester, session.Config{
		TypingDebounce: 50 * time.Millisecond,
		HistoryWindow:  5,
	}, log)
	h := NewSessionHandler(manager, log)

	r := chi.NewRouter()
	r.Route("/conversations/{id}", func(r chi.Router) {
		r.Post("/session", h.Open)
		r.Delete("/session", h.Close)
		r.Get("/messages", h.List)
		r.Post("/messages", h.Send)
		r.Post("/messages/{messageID}/visible", h.Visible)
		r.Post("/typing", h.Typing)
		r.Delete("/typing", h.TypingStop)
		r.Get("/suggestions", h.Suggestions)
	})
	return r
}

func doRequest(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, testUserID))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func openTestSession(t *testing.T, r http.Handler) {
	t.Helper()
	rec := doRequest(t, r, http.MethodPost, "/conversations/"+testConvID+"/session", model.OpenSessionRequest{
		Self:   model.Profile{Name: "Ana", Age: 27},
		Peer:   model.Profile{Name: "Ben", Age: 29},
		PeerID: "user-peer",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestOpenAndListMessages(t *testing.T) {
	sb := &stubBackend{history: []model.Message{
		{ID: uuid.NewString(), SenderID: "user-peer", Content: "hi", Status: model.StatusSent},
	}}
	r := newTestRouter(sb, &scriptedLLM{})

	openTestSession(t, r)

	rec := doRequest(t, r, http.MethodGet, "/conversations/"+testConvID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view model.ConversationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "hi", view.Messages[0].Content)
}

func TestOpenRejectsBadConversationID(t *testing.T) {
	r := newTestRouter(&stubBackend{}, &scriptedLLM{})

	rec := doRequest(t, r, http.MethodPost, "/conversations/not-a-uuid/session", model.OpenSessionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListWithoutSession(t *testing.T) {
	r := newTestRouter(&stubBackend{}, &scriptedLLM{})

	rec := doRequest(t, r, http.MethodGet, "/conversations/"+testConvID+"/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendReturnsOptimisticMessage(t *testing.T) {
	r := newTestRouter(&stubBackend{}, &scriptedLLM{})
	openTestSession(t, r)

	rec := doRequest(t, r, http.MethodPost, "/conversations/"+testConvID+"/messages",
		model.SendMessageRequest{Content: "hey there"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var msg model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.True(t, model.IsTempID(msg.ID))
	assert.Equal(t, model.StatusSending, msg.Status)
	assert.Equal(t, testUserID, msg.SenderID)
}

func TestSendRejectsEmptyContent(t *testing.T) {
	r := newTestRouter(&stubBackend{}, &scriptedLLM{})
	openTestSession(t, r)

	rec := doRequest(t, r, http.MethodPost, "/conversations/"+testConvID+"/messages",
		model.SendMessageRequest{Content: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVisibleIssuesReadReceipt(t *testing.T) {
	peerMsgID := uuid.NewString()
	sb := &stubBackend{history: []model.Message{
		{ID: peerMsgID, SenderID: "user-peer", Content: "hi", Status: model.StatusSent},
	}}
	r := newTestRouter(sb, &scriptedLLM{})
	openTestSession(t, r)

	for i := 0; i < 3; i++ {
		rec := doRequest(t, r, http.MethodPost,
			fmt.Sprintf("/conversations/%s/messages/%s/visible", testConvID, peerMsgID), nil)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	require.Eventually(t, func() bool {
		sb.mu.Lock()
		defer sb.mu.Unlock()
		return len(sb.markReads) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestTypingEndpoints(t *testing.T) {
	r := newTestRouter(&stubBackend{}, &scriptedLLM{})
	openTestSession(t, r)

	rec := doRequest(t, r, http.MethodPost, "/conversations/"+testConvID+"/typing", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, r, http.MethodDelete, "/conversations/"+testConvID+"/typing", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSuggestionsSuccess(t *testing.T) {
	r := newTestRouter(&stubBackend{}, &scriptedLLM{response: "1. Hey!\n2. How was your day?\n3. Coffee soon?"})
	openTestSession(t, r)

	rec := doRequest(t, r, http.MethodGet, "/conversations/"+testConvID+"/suggestions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.SuggestionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Hey!", "How was your day?", "Coffee soon?"}, resp.Suggestions)
	assert.Equal(t, model.StageInitial, resp.Stage)
}

func TestSuggestionsRateLimitSurfaced(t *testing.T) {
	r := newTestRouter(&stubBackend{}, &scriptedLLM{err: llm.ErrRateLimited})
	openTestSession(t, r)

	rec := doRequest(t, r, http.MethodGet, "/conversations/"+testConvID+"/suggestions", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body struct {
		Code      string `json:"code"`
		Retryable bool   `json:"retryable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMIT", body.Code)
	assert.False(t, body.Retryable)
}

func TestSuggestionsBackendRejected(t *testing.T) {
	r := newTestRouter(&stubBackend{}, &scriptedLLM{err: &llm.APIError{Code: "overloaded", Message: "busy", Temporary: true}})
	openTestSession(t, r)

	rec := doRequest(t, r, http.MethodGet, "/conversations/"+testConvID+"/suggestions", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Code      string `json:"code"`
		Retryable bool   `json:"retryable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BACKEND_REJECTED", body.Code)
	assert.True(t, body.Retryable)
}

func TestCloseSession(t *testing.T) {
	r := newTestRouter(&stubBackend{}, &scriptedLLM{})
	openTestSession(t, r)

	rec := doRequest(t, r, http.MethodDelete, "/conversations/"+testConvID+"/session", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, r, http.MethodGet, "/conversations/"+testConvID+"/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, r, http.MethodDelete, "/conversations/"+testConvID+"/session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
