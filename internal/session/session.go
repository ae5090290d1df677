// Package session orchestrates one open conversation: it seeds the message
// store from history, drains the backend change feeds into it, drives the
// typing signal, and serves suggestion requests.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Batyrkajan/Amour/internal/backend"
	"github.com/Batyrkajan/Amour/internal/model"
	"github.com/Batyrkajan/Amour/internal/presence"
	"github.com/Batyrkajan/Amour/internal/store"
	"github.com/Batyrkajan/Amour/internal/suggest"
	"github.com/Batyrkajan/Amour/pkg/logger"
	"github.com/Batyrkajan/Amour/pkg/metrics"
)

// sendTimeout bounds the backend round-trip for a single send or read
// receipt once it has left the UI path.
const sendTimeout = 15 * time.Second

// Session is one user's live view of one conversation. The store is owned
// exclusively by the session; the change-feed callbacks, the send
// completion path, and UI calls all funnel through it.
type Session struct {
	conversationID string
	userID         string
	peerID         string

	self                 model.Profile
	peer                 model.Profile
	hasSharedContactInfo bool

	store     *store.Store
	tracker   *presence.Tracker
	typist    *presence.Typist
	messages  backend.MessageBackend
	presences backend.PresenceBackend
	suggester *suggest.Client
	logger    *logger.Logger

	historyWindow int

	mu     sync.RWMutex
	closed bool
	subs   []backend.Subscription
}

// Config carries the per-session tunables.
type Config struct {
	TypingDebounce time.Duration
	HistoryWindow  int
}

// Open fetches the conversation history, seeds the store, and starts the
// insert, update, and presence subscriptions.
func Open(
	ctx context.Context,
	conversationID, userID string,
	req model.OpenSessionRequest,
	mb backend.MessageBackend,
	pb backend.PresenceBackend,
	suggester *suggest.Client,
	cfg Config,
	log *logger.Logger,
) (*Session, error) {
	s := &Session{
		conversationID:       conversationID,
		userID:               userID,
		peerID:               req.PeerID,
		self:                 req.Self,
		peer:                 req.Peer,
		hasSharedContactInfo: req.HasSharedContactInfo,
		store:                store.New(),
		tracker:              presence.NewTracker(userID),
		messages:             mb,
		presences:            pb,
		suggester:            suggester,
		logger:               log.WithSession(conversationID, userID),
		historyWindow:        cfg.HistoryWindow,
	}
	s.typist = presence.NewTypist(pb, conversationID, userID, cfg.TypingDebounce, s.logger)

	history, err := mb.FetchMessages(ctx, conversationID)
	if err != nil {
		s.typist.Close()
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	s.store.Load(history)

	insertSub, err := mb.SubscribeInserts(conversationID, s.onInsert)
	if err != nil {
		s.typist.Close()
		return nil, fmt.Errorf("failed to subscribe to inserts: %w", err)
	}
	s.subs = append(s.subs, insertSub)

	updateSub, err := mb.SubscribeUpdates(conversationID, s.onUpdate)
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("failed to subscribe to updates: %w", err)
	}
	s.subs = append(s.subs, updateSub)

	// Presence is best effort: a failed subscription degrades the typing
	// signal to false instead of failing the session.
	presenceSub, err := pb.SubscribePresence(conversationID, s.onPresence)
	if err != nil {
		s.logger.Warn("presence subscription failed, typing signal disabled", zap.Error(err))
	} else {
		s.subs = append(s.subs, presenceSub)
	}

	metrics.SessionsActive.Inc()
	s.logger.Info("session opened", zap.Int("history", len(history)))
	return s, nil
}

func (s *Session) onInsert(msg model.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	// Identity-based dedup in the store absorbs the echo of our own
	// confirmed sends, whichever of the echo and the send response
	// arrives first.
	s.store.ApplyInsert(msg)
}

func (s *Session) onUpdate(update model.StatusUpdate) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.store.ApplyUpdate(update.MessageID, update.Status)
}

func (s *Session) onPresence(snapshot model.PresenceSnapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.tracker.Apply(snapshot)
}

// Send appends an optimistic message and confirms it with the backend in
// the background. The returned message carries the temporary identity the
// renderer shows until confirmation lands.
func (s *Session) Send(content string, aiGenerated bool) (model.Message, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return model.Message{}, fmt.Errorf("session closed")
	}
	optimistic := s.store.AppendLocal(s.conversationID, s.userID, content, aiGenerated)
	s.mu.RUnlock()

	// Sending clears the composer, so the pending typing debounce goes
	// with it.
	s.typist.Cancel()

	go s.confirmSend(optimistic.ID, content, aiGenerated)
	return optimistic, nil
}

// confirmSend runs the backend round-trip for one optimistic send and
// reconciles the result. Results arriving after Close are discarded.
func (s *Session) confirmSend(tempID, content string, aiGenerated bool) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	persisted, err := s.messages.SendMessage(ctx, s.conversationID, s.userID, content, aiGenerated)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	if err != nil {
		s.logger.Warn("send failed", zap.String("temp_id", tempID), zap.Error(err))
		s.store.FailSend(tempID)
		metrics.SendsTotal.WithLabelValues("error").Inc()
		return
	}
	s.store.ResolveSend(tempID, *persisted)
	metrics.SendsTotal.WithLabelValues("ok").Inc()
}

// MessageVisible records that a message is on screen. The first visibility
// signal for a peer-authored persisted message issues a read receipt;
// repeats are ignored.
func (s *Session) MessageVisible(messageID string) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	msg, ok := s.store.Get(messageID)
	s.mu.RUnlock()

	if !ok || msg.SenderID == s.userID || msg.IsPending() {
		return
	}
	if !s.store.MarkVisible(messageID) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := s.messages.MarkRead(ctx, s.conversationID, messageID, s.userID); err != nil {
			// MarkRead is idempotent server-side; the latch stays set
			// and the receipt is lost for this session only.
			s.logger.Warn("read receipt failed", zap.String("message_id", messageID), zap.Error(err))
		}
	}()
}

// ComposerChanged records a content change in the compose field.
func (s *Session) ComposerChanged() {
	s.typist.Typing()
}

// ComposerCleared records that the compose field was emptied without a send.
func (s *Session) ComposerCleared() {
	s.typist.Cancel()
}

// Suggestions returns AI reply suggestions for the conversation's current
// state. useCache=false forces a fresh completion (the user-initiated retry
// path).
func (s *Session) Suggestions(ctx context.Context, useCache bool) ([]string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("session closed")
	}
	cc := s.store.Context(s.self, s.peer, s.hasSharedContactInfo)
	history := s.store.Tail(s.historyWindow)
	s.mu.RUnlock()

	return s.suggester.Suggestions(ctx, cc, history, useCache)
}

// View returns the renderer-facing snapshot.
func (s *Session) View() model.ConversationView {
	return model.ConversationView{
		Messages:   s.store.Messages(),
		PeerTyping: s.tracker.PeerTyping(),
	}
}

// Stage returns the conversation's current stage.
func (s *Session) Stage() model.Stage {
	return s.store.Stage()
}

// ConversationID returns the conversation this session is bound to.
func (s *Session) ConversationID() string {
	return s.conversationID
}

// Close tears down all subscriptions and the typing debounce. In-flight
// sends and receipts may still complete against the backend, but their
// results are discarded. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.teardown()
	metrics.SessionsActive.Dec()
	s.logger.Info("session closed")
}

func (s *Session) teardown() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", zap.Error(err))
		}
	}
	s.subs = nil
	s.typist.Close()
	s.tracker.Reset()
}
