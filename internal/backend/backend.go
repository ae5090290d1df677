// Package backend declares the contracts the synchronization core consumes.
// The concrete backend (persistence, fan-out, presence service) lives behind
// these interfaces; internal/nats carries the production implementation.
package backend

import (
	"context"

	"github.com/Batyrkajan/Amour/internal/model"
)

// Subscription is a handle to a live change-feed or presence subscription.
type Subscription interface {
	// Unsubscribe tears the subscription down. It is safe to call more
	// than once.
	Unsubscribe() error
}

// InsertHandler receives newly persisted messages for a conversation.
type InsertHandler func(msg model.Message)

// UpdateHandler receives delivery-status changes for persisted messages.
type UpdateHandler func(update model.StatusUpdate)

// PresenceHandler receives full presence snapshots for a conversation.
type PresenceHandler func(snapshot model.PresenceSnapshot)

// MessageBackend is the message persistence and change-feed collaborator.
type MessageBackend interface {
	// FetchMessages returns the conversation history ascending by
	// creation time.
	FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error)

	// SendMessage persists a new message and returns it with its
	// backend-assigned identity and status sent.
	SendMessage(ctx context.Context, conversationID, senderID, content string, aiGenerated bool) (*model.Message, error)

	// MarkRead records that readerID has read the message. Idempotent:
	// repeated calls for the same message are harmless.
	MarkRead(ctx context.Context, conversationID, messageID, readerID string) error

	// SubscribeInserts delivers every message persisted to the
	// conversation, in the order the backend applied them.
	SubscribeInserts(conversationID string, fn InsertHandler) (Subscription, error)

	// SubscribeUpdates delivers delivery-status changes for the
	// conversation, in the order the backend applied them.
	SubscribeUpdates(conversationID string, fn UpdateHandler) (Subscription, error)
}

// PresenceBackend is the ephemeral presence collaborator. Presence is best
// effort; a lost channel degrades to "nobody is typing".
type PresenceBackend interface {
	// SubscribePresence delivers presence snapshots for the conversation.
	SubscribePresence(conversationID string, fn PresenceHandler) (Subscription, error)

	// Announce publishes this client's typing state, replacing any prior
	// record for userID on the channel.
	Announce(ctx context.Context, conversationID, userID string, isTyping bool) error
}
