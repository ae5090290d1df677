package model

import (
	"time"
)

// StatusUpdate is a change-feed event carrying a delivery-status change for
// a persisted message.
type StatusUpdate struct {
	MessageID      string        `json:"message_id"`
	ConversationID string        `json:"conversation_id"`
	Status         MessageStatus `json:"status"`
	ReaderID       string        `json:"reader_id,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// PresenceRecord is one participant's ephemeral state on the conversation's
// presence channel.
type PresenceRecord struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// PresenceSnapshot is a point-in-time view of all tracked participants.
// Every snapshot fully replaces the previous one.
type PresenceSnapshot []PresenceRecord

// SendMessageRequest is the HTTP request body for sending a message.
type SendMessageRequest struct {
	Content     string `json:"content"`
	AIGenerated bool   `json:"ai_generated,omitempty"`
}

// OpenSessionRequest is the HTTP request body for opening a conversation
// session. The client supplies both profiles because profile storage is the
// backend's concern, not this core's.
type OpenSessionRequest struct {
	Self                 Profile `json:"self"`
	Peer                 Profile `json:"peer"`
	PeerID               string  `json:"peer_id"`
	HasSharedContactInfo bool    `json:"has_shared_contact_info"`
}

// SuggestionsResponse is the HTTP response for a suggestion request.
type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
	Stage       Stage    `json:"stage"`
}

// ConversationView is the renderer-facing snapshot of a session.
type ConversationView struct {
	Messages   []Message `json:"messages"`
	PeerTyping bool      `json:"peer_typing"`
}
