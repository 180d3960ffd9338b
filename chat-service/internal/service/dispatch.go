package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/audit"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/metrics"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

var knownEvents = map[string]bool{
	domain.EventJoinRoom:      true,
	domain.EventLeaveRoom:     true,
	domain.EventSendMessage:   true,
	domain.EventAddReaction:   true,
	domain.EventTyping:        true,
	domain.EventUpdateStatus:  true,
	domain.EventEditMessage:   true,
	domain.EventDeleteMessage: true,
	domain.EventOpenDirect:    true,
	domain.EventPing:          true,
}

// HandleMessage processes one inbound frame. Failures are reported to the
// sending connection only.
func (s *chatService) HandleMessage(c *hub.Client, raw []byte) {
	ctx := c.Context()

	defer func() {
		if r := recover(); r != nil {
			l := log.Ctx(ctx)
			l.Error().Interface("panic", r).Msg("event handler panicked")
			_ = c.SendError(domain.NewError(domain.KindInternal, "internal error", fmt.Errorf("panic: %v", r)))
		}
	}()

	if !c.Session.IsActive() {
		_ = c.SendError(domain.Unauthenticated("connection is not authenticated", nil))
		return
	}
	if !c.Allow() {
		_ = c.SendError(domain.NewError(domain.KindRateLimited, "too many events", nil))
		return
	}

	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		metrics.InboundEvents.WithLabelValues("malformed").Inc()
		_ = c.SendError(domain.BadRequest("malformed frame"))
		return
	}
	if !knownEvents[env.Event] {
		metrics.InboundEvents.WithLabelValues("unknown").Inc()
		_ = c.SendError(domain.BadRequest("unknown event: " + env.Event))
		return
	}
	metrics.InboundEvents.WithLabelValues(env.Event).Inc()

	if err := s.dispatch(ctx, c, env); err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Str(log.FieldEvent, env.Event).Msg("event rejected")
		_ = c.SendError(err)
	}
}

func (s *chatService) dispatch(ctx context.Context, c *hub.Client, env domain.Envelope) error {
	id := c.Session.GetIdentity()

	switch env.Event {
	case domain.EventJoinRoom:
		var ref domain.RoomRef
		if err := decode(env.Data, &ref); err != nil {
			return err
		}
		return s.handleJoin(ctx, c, ref.RoomID)

	case domain.EventLeaveRoom:
		var ref domain.RoomRef
		if err := decode(env.Data, &ref); err != nil {
			return err
		}
		return s.members.Leave(ctx, c, ref.RoomID)

	case domain.EventSendMessage:
		var p domain.SendMessagePayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		_, err := s.relay.Send(ctx, id, p)
		return err

	case domain.EventAddReaction:
		var p domain.AddReactionPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		_, err := s.relay.React(ctx, id, p)
		return err

	case domain.EventTyping:
		var p domain.TypingPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return s.relay.Typing(ctx, c, p)

	case domain.EventUpdateStatus:
		var p domain.StatusUpdatePayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		return s.handleStatus(ctx, id, p)

	case domain.EventEditMessage:
		var p domain.EditMessagePayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		_, err := s.relay.Edit(ctx, id, p)
		return err

	case domain.EventDeleteMessage:
		var p domain.DeleteMessagePayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		_, err := s.relay.Delete(ctx, id, p)
		return err

	case domain.EventOpenDirect:
		var p domain.OpenDirectPayload
		if err := decode(env.Data, &p); err != nil {
			return err
		}
		room, err := s.members.CreateOrGetDirect(ctx, id, domain.Identity{UserID: p.UserID, DisplayName: p.DisplayName})
		if err != nil {
			return err
		}
		return c.SendMessage(domain.EventDirectRoom, room)

	case domain.EventPing:
		return c.SendMessage(domain.EventPong, nil)
	}
	return domain.BadRequest("unknown event: " + env.Event)
}

func (s *chatService) handleJoin(ctx context.Context, c *hub.Client, roomID string) error {
	room, err := s.members.Join(ctx, c, roomID)
	if err != nil {
		return err
	}

	history, err := s.relay.History(ctx, c.Session.GetIdentity(), room.ID, "", 0)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, room.ID).Msg("failed to load room history")
		return nil
	}
	return c.SendMessage(domain.EventRoomHistory, history)
}

func (s *chatService) handleStatus(ctx context.Context, id domain.Identity, p domain.StatusUpdatePayload) error {
	entry, err := s.presence.SetStatus(ctx, id.UserID, p.Status, p.Achievement)
	if err != nil {
		return err
	}

	if err := s.hub.BroadcastAll(domain.EventUserStatusChanged, domain.StatusChangedEvent{
		UserID:      entry.UserID,
		DisplayName: id.DisplayName,
		Status:      entry.Status,
		Achievement: entry.Achievement,
	}); err != nil {
		return err
	}

	audit.LogWithDetail(ctx, audit.ActionStatusChange, id.UserID, id.UserID, string(entry.Status), "status changed")
	s.notifyPresence("")
	return nil
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return domain.BadRequest("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domain.BadRequest("malformed payload")
	}
	return nil
}
