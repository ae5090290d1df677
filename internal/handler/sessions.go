// Package handler exposes conversation sessions over HTTP and SSE.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Batyrkajan/Amour/internal/middleware"
	"github.com/Batyrkajan/Amour/internal/model"
	"github.com/Batyrkajan/Amour/internal/session"
	"github.com/Batyrkajan/Amour/internal/suggest"
	"github.com/Batyrkajan/Amour/pkg/logger"
)

// SessionHandler handles conversation session endpoints.
type SessionHandler struct {
	manager *session.Manager
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(manager *session.Manager, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		logger:  log,
	}
}

// Open handles POST /api/v1/conversations/{id}/session
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, err := h.manager.Open(ctx, userID, conversationID, req)
	if err != nil {
		h.logger.Error("failed to open session",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "failed to open session")
		return
	}

	writeJSON(w, http.StatusCreated, s.View())
}

// Close handles DELETE /api/v1/conversations/{id}/session
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	conversationID := chi.URLParam(r, "id")

	if err := h.manager.Close(userID, conversationID); err != nil {
		writeError(w, http.StatusNotFound, "no open session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// get resolves the caller's session or writes a 404.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID := middleware.GetUserID(r.Context())
	conversationID := chi.URLParam(r, "id")

	s, err := h.manager.Get(userID, conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "no open session")
		return nil, false
	}
	return s, true
}

// List handles GET /api/v1/conversations/{id}/messages
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	s, ok := h.get(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *SessionHandler) Send(w http.ResponseWriter, r *http.Request) {
	s, ok := h.get(w, r)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	optimistic, err := s.Send(req.Content, req.AIGenerated)
	if err != nil {
		writeError(w, http.StatusConflict, "session closed")
		return
	}

	// 202: the message is visible optimistically, confirmation follows on
	// the stream.
	writeJSON(w, http.StatusAccepted, optimistic)
}

// Visible handles POST /api/v1/conversations/{id}/messages/{messageID}/visible
func (h *SessionHandler) Visible(w http.ResponseWriter, r *http.Request) {
	s, ok := h.get(w, r)
	if !ok {
		return
	}

	messageID := chi.URLParam(r, "messageID")
	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.MessageVisible(messageID)
	w.WriteHeader(http.StatusNoContent)
}

// Typing handles POST /api/v1/conversations/{id}/typing
func (h *SessionHandler) Typing(w http.ResponseWriter, r *http.Request) {
	s, ok := h.get(w, r)
	if !ok {
		return
	}
	s.ComposerChanged()
	w.WriteHeader(http.StatusNoContent)
}

// TypingStop handles DELETE /api/v1/conversations/{id}/typing
func (h *SessionHandler) TypingStop(w http.ResponseWriter, r *http.Request) {
	s, ok := h.get(w, r)
	if !ok {
		return
	}
	s.ComposerCleared()
	w.WriteHeader(http.StatusNoContent)
}

// Suggestions handles GET /api/v1/conversations/{id}/suggestions
// ?refresh=1 bypasses the cache for the user-initiated retry path.
func (h *SessionHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.get(w, r)
	if !ok {
		return
	}

	useCache := r.URL.Query().Get("refresh") != "1"

	suggestions, err := s.Suggestions(r.Context(), useCache)
	if err != nil {
		h.writeSuggestError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.SuggestionsResponse{
		Suggestions: suggestions,
		Stage:       s.Stage(),
	})
}

func (h *SessionHandler) writeSuggestError(w http.ResponseWriter, err error) {
	var sErr *suggest.Error
	if !errors.As(err, &sErr) {
		writeError(w, http.StatusInternalServerError, "suggestion request failed")
		return
	}

	status := http.StatusInternalServerError
	switch sErr.Code {
	case suggest.CodeRateLimit:
		status = http.StatusTooManyRequests
	case suggest.CodeBackendRejected:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]interface{}{
		"error":     sErr.Message,
		"code":      string(sErr.Code),
		"retryable": sErr.Retryable,
	})
}
