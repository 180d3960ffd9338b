// Package relay validates, persists and fans out room messages, reactions
// and typing indicators.
package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/idgen"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/kafka"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/membership"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/metrics"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/repository"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

const (
	maxEmojiLength  = 32
	maxHistoryLimit = 100
)

type Relay struct {
	messages repository.MessageRepository
	rooms    repository.RoomRepository
	members  *membership.Service
	hub      *hub.Hub
	ids      idgen.Generator
	sink     kafka.EventSink
	cfg      config.RelayConfig
	timeout  time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRelay(
	messages repository.MessageRepository,
	rooms repository.RoomRepository,
	members *membership.Service,
	h *hub.Hub,
	ids idgen.Generator,
	sink kafka.EventSink,
	cfg config.RelayConfig,
	storeTimeout time.Duration,
) *Relay {
	if sink == nil {
		sink = kafka.NoopSink{}
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 4000
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Relay{
		messages: messages,
		rooms:    rooms,
		members:  members,
		hub:      h,
		ids:      ids,
		sink:     sink,
		cfg:      cfg,
		timeout:  storeTimeout,
		locks:    make(map[string]*sync.Mutex),
	}
}

// roomLock serializes persist-then-broadcast within a room.
func (r *Relay) roomLock(roomID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[roomID] = l
	}
	return l
}

func (r *Relay) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", domain.Validation("content is required")
	}
	if utf8.RuneCountInString(content) > r.cfg.MaxContentLength {
		return "", domain.Validation("content is too long")
	}
	return content, nil
}

// Send persists a message and delivers it to every connection in the room.
func (r *Relay) Send(ctx context.Context, sender domain.Identity, p domain.SendMessagePayload) (*domain.Message, error) {
	room, err := r.members.Get(ctx, p.RoomID, sender.UserID)
	if err != nil {
		return nil, err
	}

	content, err := r.validateContent(p.Content)
	if err != nil {
		return nil, err
	}
	msgType := p.MessageType
	if msgType == "" {
		msgType = domain.MessageText
	}
	if !msgType.ClientSendable() {
		return nil, domain.Validation("unsupported message type")
	}
	if p.ReplyTo != "" {
		if err := r.checkReply(ctx, room.ID, p.ReplyTo); err != nil {
			return nil, err
		}
	}

	lock := r.roomLock(room.ID)
	lock.Lock()
	defer lock.Unlock()

	id, err := r.ids.Generate()
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, "failed to assign message id", err)
	}
	msg := &domain.Message{
		ID:                id,
		RoomID:            room.ID,
		SenderID:          sender.UserID,
		SenderDisplayName: sender.DisplayName,
		Content:           content,
		Type:              msgType,
		ReplyTo:           p.ReplyTo,
		Reactions:         []domain.Reaction{},
		CreatedAt:         time.Now().UTC(),
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.messages.Create(cctx, msg); err != nil {
		return nil, domain.TransientStore("save message failed", err)
	}

	if err := r.rooms.Touch(cctx, room.ID, msg.ID, msg.CreatedAt); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, room.ID).Str(log.FieldMessageID, msg.ID).Msg("failed to update room activity")
	}

	if err := r.hub.BroadcastToRoom(room.ID, domain.EventNewMessage, msg, ""); err != nil {
		return nil, err
	}
	metrics.MessagesRelayed.Inc()

	r.publish(ctx, kafka.EventMessageCreated, sender.UserID, msg)
	return msg, nil
}

func (r *Relay) checkReply(ctx context.Context, roomID, replyTo string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	parent, err := r.messages.GetByID(ctx, replyTo)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && parent.RoomID != roomID) {
		return domain.Validation("replyTo must reference a message in the same room")
	}
	if err != nil {
		return domain.TransientStore("load message failed", err)
	}
	return nil
}

// React toggles the reactor's emoji on a message and sends the full
// reaction list to the room.
func (r *Relay) React(ctx context.Context, reactor domain.Identity, p domain.AddReactionPayload) ([]domain.Reaction, error) {
	emoji := strings.TrimSpace(p.Emoji)
	if emoji == "" {
		return nil, domain.Validation("emoji is required")
	}
	if utf8.RuneCountInString(emoji) > maxEmojiLength {
		return nil, domain.Validation("emoji is too long")
	}

	msg, err := r.loadMessage(ctx, p.MessageID)
	if err != nil {
		return nil, err
	}
	if _, err := r.members.Get(ctx, msg.RoomID, reactor.UserID); err != nil {
		return nil, err
	}

	lock := r.roomLock(msg.RoomID)
	lock.Lock()
	defer lock.Unlock()

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	reactions, _, err := r.messages.ToggleReaction(cctx, msg.ID, domain.Reaction{
		UserID:      reactor.UserID,
		DisplayName: reactor.DisplayName,
		Emoji:       emoji,
		CreatedAt:   time.Now().UTC(),
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// Another instance added the same reaction first; report what is stored.
		reactions, err = r.currentReactions(cctx, msg.ID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound("message not found")
	}
	if err != nil {
		return nil, domain.TransientStore("toggle reaction failed", err)
	}
	if reactions == nil {
		reactions = []domain.Reaction{}
	}

	if err := r.hub.BroadcastToRoom(msg.RoomID, domain.EventReactionUpdated, domain.ReactionUpdatedEvent{
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		Reactions: reactions,
	}, ""); err != nil {
		return nil, err
	}

	msg.Reactions = reactions
	r.publish(ctx, kafka.EventReactionUpdated, reactor.UserID, msg)
	return reactions, nil
}

func (r *Relay) currentReactions(ctx context.Context, messageID string) ([]domain.Reaction, error) {
	msg, err := r.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return msg.Reactions, nil
}

// Typing relays a typing indicator to the rest of the room. Nothing is
// stored.
func (r *Relay) Typing(ctx context.Context, c *hub.Client, p domain.TypingPayload) error {
	id := c.Session.GetIdentity()
	if strings.TrimSpace(p.RoomID) == "" {
		return domain.Validation("roomId is required")
	}
	if !r.hub.InRoom(c, p.RoomID) {
		if _, err := r.members.Get(ctx, p.RoomID, id.UserID); err != nil {
			return err
		}
	}

	return r.hub.BroadcastToRoom(p.RoomID, domain.EventUserTyping, domain.TypingEvent{
		RoomID:      p.RoomID,
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		IsTyping:    p.IsTyping,
	}, c.ID)
}

// Edit replaces the content of the editor's own message.
func (r *Relay) Edit(ctx context.Context, editor domain.Identity, p domain.EditMessagePayload) (*domain.Message, error) {
	content, err := r.validateContent(p.Content)
	if err != nil {
		return nil, err
	}
	msg, err := r.loadMessage(ctx, p.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.Deleted {
		return nil, domain.NotFound("message not found")
	}
	if msg.SenderID != editor.UserID {
		return nil, domain.NotAuthorized("only the sender can edit a message")
	}
	if _, err := r.members.Get(ctx, msg.RoomID, editor.UserID); err != nil {
		return nil, err
	}

	lock := r.roomLock(msg.RoomID)
	lock.Lock()
	defer lock.Unlock()

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	updated, err := r.messages.UpdateContent(cctx, msg.ID, content)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound("message not found")
	}
	if err != nil {
		return nil, domain.TransientStore("edit message failed", err)
	}

	if err := r.hub.BroadcastToRoom(updated.RoomID, domain.EventMessageUpdated, updated, ""); err != nil {
		return nil, err
	}
	r.publish(ctx, kafka.EventMessageUpdated, editor.UserID, updated)
	return updated, nil
}

// Delete soft-deletes a message. The sender and room admins may delete.
func (r *Relay) Delete(ctx context.Context, actor domain.Identity, p domain.DeleteMessagePayload) (*domain.Message, error) {
	msg, err := r.loadMessage(ctx, p.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.Deleted {
		return nil, domain.NotFound("message not found")
	}
	room, err := r.members.Get(ctx, msg.RoomID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actor.UserID && !room.IsAdmin(actor.UserID) {
		return nil, domain.NotAuthorized("only the sender or a room admin can delete a message")
	}

	lock := r.roomLock(msg.RoomID)
	lock.Lock()
	defer lock.Unlock()

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	deleted, err := r.messages.SoftDelete(cctx, msg.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound("message not found")
	}
	if err != nil {
		return nil, domain.TransientStore("delete message failed", err)
	}

	if err := r.hub.BroadcastToRoom(deleted.RoomID, domain.EventMessageDeleted, domain.MessageDeletedEvent{
		MessageID: deleted.ID,
		RoomID:    deleted.RoomID,
	}, ""); err != nil {
		return nil, err
	}
	r.publish(ctx, kafka.EventMessageDeleted, actor.UserID, deleted)
	return deleted, nil
}

// History returns a page of messages older than before, oldest first.
// NextCursor is set when older messages remain.
func (r *Relay) History(ctx context.Context, reader domain.Identity, roomID, before string, limit int) (*domain.RoomHistoryEvent, error) {
	if before != "" && !idgen.Valid(before) {
		return nil, domain.Validation("before must be a message id")
	}
	if _, err := r.members.Get(ctx, roomID, reader.UserID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = r.cfg.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	page, err := r.messages.ListByRoom(cctx, roomID, before, limit+1)
	if err != nil {
		return nil, domain.TransientStore("load history failed", err)
	}

	out := &domain.RoomHistoryEvent{RoomID: roomID}
	if len(page) > limit {
		page = page[:limit]
		out.HasMore = true
	}
	out.Messages = make([]domain.Message, len(page))
	for i, m := range page {
		out.Messages[len(page)-1-i] = m
	}
	if out.HasMore {
		out.NextCursor = out.Messages[0].ID
	}
	return out, nil
}

func (r *Relay) loadMessage(ctx context.Context, id string) (*domain.Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.Validation("messageId is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msg, err := r.messages.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound("message not found")
	}
	if err != nil {
		return nil, domain.TransientStore("load message failed", err)
	}
	return msg, nil
}

func (r *Relay) publish(ctx context.Context, eventType, actorID string, msg *domain.Message) {
	err := r.sink.Publish(ctx, &kafka.MessageEvent{
		Type:       eventType,
		RoomID:     msg.RoomID,
		ActorID:    actorID,
		Message:    msg,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		metrics.SinkFailures.Inc()
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldEvent, eventType).Str(log.FieldMessageID, msg.ID).Msg("failed to publish message event")
	}
}
