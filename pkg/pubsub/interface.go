package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Event is the envelope exchanged between service instances on the bus.
type Event struct {
	Type      string          `json:"type"`
	Origin    string          `json:"origin"`
	RoomID    string          `json:"room_id,omitempty"`
	Exclude   string          `json:"exclude,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time. payload may be a
// json.RawMessage, in which case it is used as-is.
func NewEvent(eventType, origin string, payload interface{}) (*Event, error) {
	e := &Event{
		Type:      eventType,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
	}
	if payload == nil {
		return e, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		e.Payload = raw
		return e, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	e.Payload = data
	return e, nil
}

// UnmarshalPayload unmarshals the event payload into the given struct.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher publishes events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber subscribes to events from the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub combines Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
	Close() error
}
