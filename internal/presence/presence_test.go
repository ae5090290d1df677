package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Batyrkajan/Amour/internal/backend"
	"github.com/Batyrkajan/Amour/internal/model"
	"github.com/Batyrkajan/Amour/pkg/logger"
)

const (
	selfID = "user-self"
	peerID = "user-peer"
)

func TestTrackerPeerTyping(t *testing.T) {
	tr := NewTracker(selfID)

	assert.False(t, tr.PeerTyping())

	tr.Apply(model.PresenceSnapshot{{UserID: peerID, IsTyping: true}})
	assert.True(t, tr.PeerTyping())

	tr.Apply(model.PresenceSnapshot{{UserID: peerID, IsTyping: false}})
	assert.False(t, tr.PeerTyping())
}

func TestTrackerExcludesSelf(t *testing.T) {
	tr := NewTracker(selfID)

	tr.Apply(model.PresenceSnapshot{{UserID: selfID, IsTyping: true}})
	assert.False(t, tr.PeerTyping())

	tr.Apply(model.PresenceSnapshot{
		{UserID: selfID, IsTyping: true},
		{UserID: peerID, IsTyping: true},
	})
	assert.True(t, tr.PeerTyping())
}

func TestTrackerSnapshotReplaces(t *testing.T) {
	tr := NewTracker(selfID)

	tr.Apply(model.PresenceSnapshot{{UserID: peerID, IsTyping: true}})
	// A snapshot that no longer lists the peer clears the signal; nothing
	// is carried over between snapshots.
	tr.Apply(model.PresenceSnapshot{})
	assert.False(t, tr.PeerTyping())
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(selfID)
	tr.Apply(model.PresenceSnapshot{{UserID: peerID, IsTyping: true}})

	tr.Reset()
	assert.False(t, tr.PeerTyping())
}

type announcement struct {
	isTyping bool
	at       time.Time
}

type fakePresence struct {
	mu    sync.Mutex
	calls []announcement
}

func (f *fakePresence) SubscribePresence(string, backend.PresenceHandler) (backend.Subscription, error) {
	return nil, nil
}

func (f *fakePresence) Announce(_ context.Context, _, _ string, isTyping bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, announcement{isTyping: isTyping, at: time.Now()})
	return nil
}

func (f *fakePresence) snapshot() []announcement {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]announcement, len(f.calls))
	copy(out, f.calls)
	return out
}

func waitForAnnouncements(t *testing.T, f *fakePresence, n int) []announcement {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := f.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d announcements, got %d", n, len(f.snapshot()))
	return nil
}

func TestTypistDebounce(t *testing.T) {
	f := &fakePresence{}
	ty := NewTypist(f, "conv-1", selfID, 80*time.Millisecond, logger.NewNop())
	defer ty.Close()

	// Three rapid edits: each announces typing, but only one stop fires,
	// debounced after the last edit.
	start := time.Now()
	ty.Typing()
	time.Sleep(20 * time.Millisecond)
	ty.Typing()
	time.Sleep(20 * time.Millisecond)
	ty.Typing()

	calls := waitForAnnouncements(t, f, 4)
	time.Sleep(120 * time.Millisecond)
	calls = f.snapshot()

	require.Len(t, calls, 4)
	assert.True(t, calls[0].isTyping)
	assert.True(t, calls[1].isTyping)
	assert.True(t, calls[2].isTyping)
	assert.False(t, calls[3].isTyping)

	// The stop announcement lands one debounce window after the last
	// edit, not the first.
	assert.GreaterOrEqual(t, calls[3].at.Sub(start), 110*time.Millisecond)
}

func TestTypistCancelAnnouncesStop(t *testing.T) {
	f := &fakePresence{}
	ty := NewTypist(f, "conv-1", selfID, time.Minute, logger.NewNop())
	defer ty.Close()

	ty.Typing()
	ty.Cancel()

	calls := waitForAnnouncements(t, f, 2)
	assert.True(t, calls[0].isTyping)
	assert.False(t, calls[1].isTyping)

	// No pending timer remains, so nothing else arrives.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.snapshot(), 2)
}

func TestTypistCancelWithoutTyping(t *testing.T) {
	f := &fakePresence{}
	ty := NewTypist(f, "conv-1", selfID, time.Minute, logger.NewNop())
	defer ty.Close()

	ty.Cancel()
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.snapshot())
}

func TestTypistCloseSilencesTimer(t *testing.T) {
	f := &fakePresence{}
	ty := NewTypist(f, "conv-1", selfID, 30*time.Millisecond, logger.NewNop())

	ty.Typing()
	ty.Close()

	waitForAnnouncements(t, f, 1)
	time.Sleep(80 * time.Millisecond)

	// The typing announcement went out, but the debounced stop was
	// cancelled by Close and typing after Close is ignored.
	ty.Typing()
	time.Sleep(20 * time.Millisecond)
	calls := f.snapshot()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].isTyping)
}
