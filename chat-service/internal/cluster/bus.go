// Package cluster fans broadcasts out to the other chat-service instances
// over a shared pub/sub channel.
package cluster

import (
	"context"
	"encoding/json"
	"time"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/metrics"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

const (
	outboundBuffer = 1024
	publishTimeout = 3 * time.Second
)

// Deliverer delivers frames to local connections only.
type Deliverer interface {
	DeliverRoom(roomID string, frame []byte, exclude string)
	DeliverAll(frame []byte)
}

// Bus publishes local broadcasts and applies remote ones. Outbound events
// are published by a single goroutine in the order they were forwarded, so
// per-room ordering survives the hop.
type Bus struct {
	ps         pubsub.PubSub
	channel    string
	instanceID string
	local      Deliverer
	onPresence func(offlineUserID string)
	out        chan *pubsub.Event
	quit       chan struct{}
	doneCh     chan struct{}
}

func NewBus(ps pubsub.PubSub, channel, instanceID string, local Deliverer, onPresence func(offlineUserID string)) *Bus {
	if channel == "" {
		channel = pubsub.ChannelChatBus
	}
	return &Bus{
		ps:         ps,
		channel:    channel,
		instanceID: instanceID,
		local:      local,
		onPresence: onPresence,
		out:        make(chan *pubsub.Event, outboundBuffer),
		quit:       make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start subscribes to the bus channel and starts the publish loop.
func (b *Bus) Start(ctx context.Context) error {
	events, err := b.ps.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}

	go b.consume(events)
	go b.publishLoop()

	l := log.L()
	l.Info().Str("channel", b.channel).Str("instance", b.instanceID).Msg("cluster bus started")
	return nil
}

// Stop flushes queued events and stops publishing.
func (b *Bus) Stop() {
	close(b.quit)
	<-b.doneCh
}

func (b *Bus) ForwardRoom(roomID string, frame []byte, exclude string) {
	b.enqueue(&pubsub.Event{
		Type:    pubsub.EventRoomBroadcast,
		RoomID:  roomID,
		Exclude: exclude,
		Payload: json.RawMessage(frame),
	})
}

func (b *Bus) ForwardAll(frame []byte) {
	b.enqueue(&pubsub.Event{
		Type:    pubsub.EventAllBroadcast,
		Payload: json.RawMessage(frame),
	})
}

type presenceChange struct {
	OfflineUserID string `json:"offline_user_id,omitempty"`
}

// NotifyPresenceChanged asks every other instance to schedule a snapshot.
// offlineUserID names a user just marked offline here, whose sessions on
// other instances must rewrite their presence entry.
func (b *Bus) NotifyPresenceChanged(offlineUserID string) {
	e, err := pubsub.NewEvent(pubsub.EventPresenceChanged, b.instanceID, presenceChange{OfflineUserID: offlineUserID})
	if err != nil {
		l := log.L()
		l.Error().Err(err).Msg("failed to build presence event")
		return
	}
	b.enqueue(e)
}

func (b *Bus) enqueue(e *pubsub.Event) {
	e.Origin = b.instanceID
	e.Timestamp = time.Now().UTC()

	select {
	case b.out <- e:
	default:
		metrics.BusEvents.WithLabelValues("dropped", e.Type).Inc()
		l := log.L()
		l.Warn().Str("type", e.Type).Str(log.FieldRoomID, e.RoomID).Msg("cluster bus queue full, dropping event")
	}
}

func (b *Bus) publishLoop() {
	defer close(b.doneCh)

	for {
		select {
		case e := <-b.out:
			b.publish(e)
		case <-b.quit:
			for {
				select {
				case e := <-b.out:
					b.publish(e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) publish(e *pubsub.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.ps.Publish(ctx, b.channel, e); err != nil {
		l := log.L()
		l.Error().Err(err).Str("type", e.Type).Msg("failed to publish cluster event")
		return
	}
	metrics.BusEvents.WithLabelValues("out", e.Type).Inc()
}

func (b *Bus) consume(events <-chan *pubsub.Event) {
	for e := range events {
		if e.Origin == b.instanceID {
			continue
		}
		metrics.BusEvents.WithLabelValues("in", e.Type).Inc()

		switch e.Type {
		case pubsub.EventRoomBroadcast:
			b.local.DeliverRoom(e.RoomID, e.Payload, e.Exclude)
		case pubsub.EventAllBroadcast:
			b.local.DeliverAll(e.Payload)
		case pubsub.EventPresenceChanged:
			var change presenceChange
			if len(e.Payload) > 0 {
				if err := e.UnmarshalPayload(&change); err != nil {
					l := log.L()
					l.Warn().Err(err).Msg("malformed presence event")
				}
			}
			if b.onPresence != nil {
				b.onPresence(change.OfflineUserID)
			}
		default:
			l := log.L()
			l.Warn().Str("type", e.Type).Msg("unknown cluster event")
		}
	}
}
