// Package model defines data structures for the chat synchronization core.
package model

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// MessageStatus represents the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusError     MessageStatus = "error"
)

// statusRank orders the delivery states. Error is terminal and reachable
// from every state, so it sits outside the rank ordering.
var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanAdvanceTo reports whether a transition from s to next is allowed.
// Delivery status only moves forward; any state may move to error, and
// nothing leaves error.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if s == StatusError {
		return false
	}
	if next == StatusError {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Message represents a single chat message within a conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	AIGenerated    bool          `json:"ai_generated"`
	Status         MessageStatus `json:"status"`
}

// IsPending reports whether the message is still waiting on backend
// confirmation, i.e. it carries a temporary identity.
func (m *Message) IsPending() bool {
	return IsTempID(m.ID)
}

const tempIDPrefix = "temp-"

var tempSeq atomic.Int64

// NewTempID returns a fresh temporary message identity. Temporary IDs are
// monotonic within the process so optimistic inserts stay unique until the
// backend assigns the persisted identity.
func NewTempID() string {
	return fmt.Sprintf("%s%d", tempIDPrefix, tempSeq.Add(1))
}

// IsTempID reports whether id is a locally-generated temporary identity.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
