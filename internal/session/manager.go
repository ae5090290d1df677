package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/Batyrkajan/Amour/internal/backend"
	"github.com/Batyrkajan/Amour/internal/model"
	"github.com/Batyrkajan/Amour/internal/suggest"
	"github.com/Batyrkajan/Amour/pkg/logger"
)

// Manager owns the live sessions of this process, one per
// (user, conversation) pair. The suggestion client and its cache are shared
// across all of them.
type Manager struct {
	messages  backend.MessageBackend
	presences backend.PresenceBackend
	suggester *suggest.Client
	cfg       Config
	logger    *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(mb backend.MessageBackend, pb backend.PresenceBackend, suggester *suggest.Client, cfg Config, log *logger.Logger) *Manager {
	return &Manager{
		messages:  mb,
		presences: pb,
		suggester: suggester,
		cfg:       cfg,
		logger:    log,
		sessions:  make(map[string]*Session),
	}
}

func sessionKey(userID, conversationID string) string {
	return userID + "|" + conversationID
}

// Open opens a session for the user on the conversation, replacing any
// session they already had open on it.
func (m *Manager) Open(ctx context.Context, userID, conversationID string, req model.OpenSessionRequest) (*Session, error) {
	key := sessionKey(userID, conversationID)

	m.mu.Lock()
	prev := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	s, err := Open(ctx, conversationID, userID, req, m.messages, m.presences, m.suggester, m.cfg, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[key] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the user's open session on the conversation.
func (m *Manager) Get(userID, conversationID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionKey(userID, conversationID)]
	if !ok {
		return nil, fmt.Errorf("no open session for conversation %s", conversationID)
	}
	return s, nil
}

// Close tears down the user's session on the conversation.
func (m *Manager) Close(userID, conversationID string) error {
	key := sessionKey(userID, conversationID)

	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no open session for conversation %s", conversationID)
	}
	s.Close()
	return nil
}

// CloseAll tears down every open session. Called on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
