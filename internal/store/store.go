// Package store holds the ordered message list for one conversation and
// reconciles local optimistic sends with the backend change feed.
package store

import (
	"sync"
	"time"

	"github.com/Batyrkajan/Amour/internal/model"
	"github.com/Batyrkajan/Amour/pkg/metrics"
)

// Store is the authoritative view of a single conversation's messages. It is
// owned by exactly one session; every mutation is serialized through one
// mutex so the local-send path and the change-feed paths can never race
// destructively.
type Store struct {
	mu       sync.Mutex
	messages []model.Message

	// index maps every known identity (temporary or persisted) to the
	// message's position. A resolved send is reachable under both its
	// temporary and persisted identity so a late echo of either dedupes.
	index map[string]int

	// readIssued latches persisted IDs for which a read receipt has
	// already been requested this session.
	readIssued map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		index:      make(map[string]int),
		readIssued: make(map[string]struct{}),
	}
}

// Load seeds the store from a history fetch. Messages are expected in
// ascending creation order; any previous contents are replaced.
func (s *Store) Load(msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]model.Message, len(msgs))
	copy(s.messages, msgs)
	s.index = make(map[string]int, len(msgs))
	for i, m := range s.messages {
		s.index[m.ID] = i
	}
}

// AppendLocal appends an optimistic message for a local send. The returned
// message carries a temporary identity and status sending.
func (s *Store) AppendLocal(conversationID, senderID, content string, aiGenerated bool) model.Message {
	msg := model.Message{
		ID:             model.NewTempID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
		AIGenerated:    aiGenerated,
		Status:         model.StatusSending,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	metrics.ReconcileOps.WithLabelValues("append_local").Inc()
	return msg
}

// ResolveSend replaces the message holding tempID with its persisted form,
// in place. If the persisted identity already arrived through the insert
// feed, the temporary entry is removed instead, so exactly one
// representation of the send stays visible.
func (s *Store) ResolveSend(tempID string, persisted model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[tempID]
	if !ok {
		return
	}

	if existing, seen := s.index[persisted.ID]; seen && existing != pos {
		// The insert echo beat the send response. Drop the temp entry.
		s.removeAt(pos)
		delete(s.index, tempID)
		metrics.ReconcileOps.WithLabelValues("resolve_dedup").Inc()
		return
	}

	if !s.messages[pos].Status.CanAdvanceTo(persisted.Status) && s.messages[pos].Status != persisted.Status {
		persisted.Status = s.messages[pos].Status
	}
	s.messages[pos] = persisted
	s.index[persisted.ID] = pos
	metrics.ReconcileOps.WithLabelValues("resolve").Inc()
}

// FailSend marks the message holding tempID as errored, in place. The entry
// stays visible so the user can retry with a new send.
func (s *Store) FailSend(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[tempID]
	if !ok {
		return
	}
	s.messages[pos].Status = model.StatusError
	metrics.ReconcileOps.WithLabelValues("fail").Inc()
}

// ApplyInsert appends a message from the change feed unless its identity is
// already present. An insert that is the change-feed echo of one of our own
// in-flight sends confirms that send in place instead of appending, so the
// temporary and persisted representation are never visible together. Remote
// inserts arrive in backend order, which matches ascending creation time.
func (s *Store) ApplyInsert(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.index[msg.ID]; seen {
		metrics.ReconcileOps.WithLabelValues("insert_dup").Inc()
		return
	}

	if pos, ok := s.matchPendingSend(msg); ok {
		// Echo beat the send RPC response. The temporary identity stays
		// indexed so the late ResolveSend finds the entry and no-ops.
		s.messages[pos] = msg
		s.index[msg.ID] = pos
		metrics.ReconcileOps.WithLabelValues("insert_resolve").Inc()
		return
	}

	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	metrics.ReconcileOps.WithLabelValues("insert").Inc()
}

// matchPendingSend finds the earliest in-flight optimistic send the insert
// confirms: same sender, same content, still sending. Callers hold the
// mutex.
func (s *Store) matchPendingSend(msg model.Message) (int, bool) {
	for i, m := range s.messages {
		if m.IsPending() && m.Status == model.StatusSending &&
			m.SenderID == msg.SenderID && m.Content == msg.Content {
			return i, true
		}
	}
	return 0, false
}

// ApplyUpdate applies a delivery-status change by persisted identity.
// Transitions that would move the status backwards are ignored.
func (s *Store) ApplyUpdate(messageID string, status model.MessageStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[messageID]
	if !ok {
		return
	}
	if !s.messages[pos].Status.CanAdvanceTo(status) {
		if s.messages[pos].Status != status {
			metrics.StatusRegressions.Inc()
		}
		return
	}
	s.messages[pos].Status = status
	metrics.ReconcileOps.WithLabelValues("update").Inc()
}

// MarkVisible latches the first visibility signal for a persisted message.
// It returns true exactly once per message per session; the caller issues
// the read receipt on a true return.
func (s *Store) MarkVisible(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.readIssued[messageID]; done {
		return false
	}
	if _, known := s.index[messageID]; !known {
		return false
	}
	s.readIssued[messageID] = struct{}{}
	return true
}

// Get returns the message with the given identity.
func (s *Store) Get(messageID string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[messageID]
	if !ok {
		return model.Message{}, false
	}
	return s.messages[pos], true
}

// Messages returns a copy of the current ordered message list.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Count returns the number of visible messages.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// LastMessageAt returns the creation time of the newest message, or nil for
// an empty conversation.
func (s *Store) LastMessageAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) == 0 {
		return nil
	}
	t := s.messages[len(s.messages)-1].CreatedAt
	return &t
}

// Stage derives the conversation stage from the current message count.
func (s *Store) Stage() model.Stage {
	return model.StageForCount(s.Count())
}

// Context builds the derived conversation context handed to the suggestion
// client.
func (s *Store) Context(self, peer model.Profile, hasSharedContactInfo bool) model.ConversationContext {
	s.mu.Lock()
	count := len(s.messages)
	var last *time.Time
	if count > 0 {
		t := s.messages[count-1].CreatedAt
		last = &t
	}
	s.mu.Unlock()

	return model.ConversationContext{
		Self:                 self,
		Peer:                 peer,
		MessageCount:         count,
		LastMessageAt:        last,
		HasSharedContactInfo: hasSharedContactInfo,
		Stage:                model.StageForCount(count),
	}
}

// Tail returns up to n of the newest messages, oldest first.
func (s *Store) Tail(n int) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > len(s.messages) {
		n = len(s.messages)
	}
	out := make([]model.Message, n)
	copy(out, s.messages[len(s.messages)-n:])
	return out
}

// removeAt drops the entry at pos and reindexes the tail. Callers hold the
// mutex.
func (s *Store) removeAt(pos int) {
	s.messages = append(s.messages[:pos], s.messages[pos+1:]...)
	for i := pos; i < len(s.messages); i++ {
		s.index[s.messages[i].ID] = i
	}
}
