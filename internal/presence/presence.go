// Package presence derives the "peer is typing" signal from presence
// snapshots and announces the local user's typing state with a debounce.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Batyrkajan/Amour/internal/backend"
	"github.com/Batyrkajan/Amour/internal/model"
	"github.com/Batyrkajan/Amour/pkg/logger"
)

// Tracker reduces presence snapshots to a single boolean: is anyone other
// than the local user typing. Every snapshot fully replaces the previous
// state; nothing accumulates.
type Tracker struct {
	selfID string

	mu         sync.Mutex
	peerTyping bool
}

// NewTracker creates a tracker that excludes selfID from the signal.
func NewTracker(selfID string) *Tracker {
	return &Tracker{selfID: selfID}
}

// Apply recomputes the typing signal from a full snapshot.
func (t *Tracker) Apply(snapshot model.PresenceSnapshot) {
	typing := false
	for _, rec := range snapshot {
		if rec.UserID != t.selfID && rec.IsTyping {
			typing = true
			break
		}
	}

	t.mu.Lock()
	t.peerTyping = typing
	t.mu.Unlock()
}

// Reset clears the signal. Called when the presence channel is lost; the
// signal is best effort and degrades to "not typing".
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.peerTyping = false
	t.mu.Unlock()
}

// PeerTyping returns the current signal.
func (t *Tracker) PeerTyping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerTyping
}

// Typist announces the local user's typing state. Every content change
// announces typing immediately and re-arms a single debounce timer; if no
// further change arrives within the window, a stop announcement follows.
// Restarting the timer cancels the previous one, it never stacks.
//
// Announcements are serialized through one worker goroutine so each one
// replaces the previous record in order. Publish failures are absorbed:
// presence is a best-effort signal.
type Typist struct {
	backend        backend.PresenceBackend
	conversationID string
	userID         string
	window         time.Duration
	logger         *logger.Logger

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	stopped  bool
	announce chan bool
	done     chan struct{}
}

// NewTypist creates a typist with the given debounce window and starts its
// announce worker.
func NewTypist(pb backend.PresenceBackend, conversationID, userID string, window time.Duration, log *logger.Logger) *Typist {
	t := &Typist{
		backend:        pb,
		conversationID: conversationID,
		userID:         userID,
		window:         window,
		logger:         log,
		announce:       make(chan bool, 8),
		done:           make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Typist) run() {
	defer close(t.done)
	for isTyping := range t.announce {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := t.backend.Announce(ctx, t.conversationID, t.userID, isTyping)
		cancel()
		if err != nil {
			t.logger.Debug("presence announce failed",
				zap.Bool("is_typing", isTyping),
				zap.Error(err),
			)
		}
	}
}

// Typing records a composer content change.
func (t *Typist) Typing() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.send(true)

	// The generation guards against a stale timer callback that already
	// fired but has not yet taken the mutex.
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.window, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.stopped || gen != t.gen {
			return
		}
		t.timer = nil
		t.send(false)
	})
}

// Cancel clears any pending debounce and announces not-typing if a timer
// was armed. Called when the composer is cleared (message sent).
func (t *Typist) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.timer == nil {
		return
	}
	t.timer.Stop()
	t.timer = nil
	t.gen++
	t.send(false)
}

// Close tears the typist down. A pending timer is cancelled, no further
// announcements are made, and the worker drains and exits.
func (t *Typist) Close() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	close(t.announce)
	t.mu.Unlock()

	<-t.done
}

// send enqueues an announcement without blocking the composer. Callers hold
// the mutex.
func (t *Typist) send(isTyping bool) {
	select {
	case t.announce <- isTyping:
	default:
		t.logger.Debug("presence announce dropped", zap.Bool("is_typing", isTyping))
	}
}
