package kafka

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
)

// Message event types written to the sink.
const (
	EventMessageCreated  = "message.created"
	EventMessageUpdated  = "message.updated"
	EventMessageDeleted  = "message.deleted"
	EventReactionUpdated = "reaction.updated"
)

// MessageEvent is the record handed to downstream consumers.
type MessageEvent struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"roomId"`
	ActorID    string          `json:"actorId"`
	Message    *domain.Message `json:"message"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// EventSink receives message events after they are persisted. Delivery is
// best effort and never blocks the relay.
type EventSink interface {
	Publish(ctx context.Context, event *MessageEvent) error
	Close() error
}

// NoopSink discards events.
type NoopSink struct{}

func (NoopSink) Publish(context.Context, *MessageEvent) error { return nil }

func (NoopSink) Close() error { return nil }
