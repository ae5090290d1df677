package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/Batyrkajan/Amour/internal/backend"
	"github.com/Batyrkajan/Amour/internal/model"
	"github.com/Batyrkajan/Amour/pkg/logger"
)

const (
	// StreamName is the name of the chat message stream.
	StreamName = "CHAT"

	// SubjectPrefix is the prefix for persisted chat subjects.
	SubjectPrefix = "chat"

	// PresencePrefix is the prefix for ephemeral presence subjects. It
	// sits outside the stream: typing state is never persisted.
	PresencePrefix = "presence"
)

// Backend implements the message and presence contracts over NATS.
// Messages and status updates flow through a JetStream stream so history
// fetches can replay them; presence uses plain pub/sub.
type Backend struct {
	client *Client
	logger *logger.Logger
}

// NewBackend creates a NATS chat backend.
func NewBackend(client *Client, log *logger.Logger) *Backend {
	return &Backend{client: client, logger: log}
}

// EnsureStream ensures the chat stream exists with proper configuration.
func (b *Backend) EnsureStream(ctx context.Context) error {
	js := b.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    100 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Chat messages and delivery-status updates",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the insert subject for a conversation.
func MessageSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.msg", SubjectPrefix, conversationID)
}

// UpdateSubject returns the status-update subject for a conversation.
func UpdateSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.update", SubjectPrefix, conversationID)
}

// PresenceSubject returns the presence subject for a conversation.
func PresenceSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s", PresencePrefix, conversationID)
}

// FetchMessages replays the conversation's message history, ascending by
// creation time (stream order).
func (b *Backend) FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	js := b.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: MessageSubject(conversationID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	var messages []model.Message
	for {
		batch, err := consumer.Fetch(100, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		got := 0
		for msg := range batch.Messages() {
			var message model.Message
			if err := json.Unmarshal(msg.Data(), &message); err != nil {
				b.logger.Warn("skipping malformed message", zap.Error(err))
				continue
			}
			messages = append(messages, message)
			got++
		}
		if batch.Error() != nil {
			return nil, fmt.Errorf("batch error: %w", batch.Error())
		}
		if got < 100 {
			break
		}
	}

	return messages, nil
}

// SendMessage persists a message to the stream and returns it with its
// assigned identity.
func (b *Backend) SendMessage(ctx context.Context, conversationID, senderID, content string, aiGenerated bool) (*model.Message, error) {
	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
		AIGenerated:    aiGenerated,
		Status:         model.StatusSent,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := b.client.JetStream().Publish(ctx, MessageSubject(conversationID), data); err != nil {
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}

	return msg, nil
}

// MarkRead publishes a read receipt for the message. Publishing the same
// receipt twice is harmless: consumers enforce status monotonicity.
func (b *Backend) MarkRead(ctx context.Context, conversationID, messageID, readerID string) error {
	update := model.StatusUpdate{
		MessageID:      messageID,
		ConversationID: conversationID,
		Status:         model.StatusRead,
		ReaderID:       readerID,
		OccurredAt:     time.Now(),
	}

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	if _, err := b.client.JetStream().Publish(ctx, UpdateSubject(conversationID), data); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}

	return nil
}

// SubscribeInserts delivers every message persisted to the conversation.
func (b *Backend) SubscribeInserts(conversationID string, fn backend.InsertHandler) (backend.Subscription, error) {
	sub, err := b.client.Conn().Subscribe(MessageSubject(conversationID), func(m *nats.Msg) {
		var msg model.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			b.logger.Warn("skipping malformed insert event", zap.Error(err))
			return
		}
		fn(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to inserts: %w", err)
	}
	return &subscription{sub: sub}, nil
}

// SubscribeUpdates delivers delivery-status changes for the conversation.
func (b *Backend) SubscribeUpdates(conversationID string, fn backend.UpdateHandler) (backend.Subscription, error) {
	sub, err := b.client.Conn().Subscribe(UpdateSubject(conversationID), func(m *nats.Msg) {
		var update model.StatusUpdate
		if err := json.Unmarshal(m.Data, &update); err != nil {
			b.logger.Warn("skipping malformed update event", zap.Error(err))
			return
		}
		fn(update)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to updates: %w", err)
	}
	return &subscription{sub: sub}, nil
}

// SubscribePresence delivers presence snapshots for the conversation.
func (b *Backend) SubscribePresence(conversationID string, fn backend.PresenceHandler) (backend.Subscription, error) {
	sub, err := b.client.Conn().Subscribe(PresenceSubject(conversationID), func(m *nats.Msg) {
		var snapshot model.PresenceSnapshot
		if err := json.Unmarshal(m.Data, &snapshot); err != nil {
			b.logger.Warn("skipping malformed presence event", zap.Error(err))
			return
		}
		fn(snapshot)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to presence: %w", err)
	}
	return &subscription{sub: sub}, nil
}

// Announce publishes this client's typing record. The presence service
// merges records into the snapshots it fans out; a bare record is itself a
// valid single-entry snapshot.
func (b *Backend) Announce(_ context.Context, conversationID, userID string, isTyping bool) error {
	snapshot := model.PresenceSnapshot{{UserID: userID, IsTyping: isTyping}}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}
	if err := b.client.Conn().Publish(PresenceSubject(conversationID), data); err != nil {
		return fmt.Errorf("failed to publish presence: %w", err)
	}
	return nil
}

// subscription adapts *nats.Subscription to the backend contract.
type subscription struct {
	once sync.Once
	sub  *nats.Subscription
	err  error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.sub.Unsubscribe()
	})
	return s.err
}
