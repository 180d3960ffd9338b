// Package membership decides who may use a room and keeps the broadcast
// groups in step with joins, leaves and room creation.
package membership

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/audit"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/presence"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/repository"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

const maxRoomNameLength = 100

type Service struct {
	rooms    repository.RoomRepository
	presence *presence.Registry
	hub      *hub.Hub
	timeout  time.Duration
	direct   singleflight.Group
}

func NewService(rooms repository.RoomRepository, reg *presence.Registry, h *hub.Hub, storeTimeout time.Duration) *Service {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Service{
		rooms:    rooms,
		presence: reg,
		hub:      h,
		timeout:  storeTimeout,
	}
}

// Authorize applies the room access rule.
func Authorize(room *domain.Room, userID string) error {
	if !room.CanAccess(userID) {
		return domain.NotAuthorized("not a participant of this room")
	}
	return nil
}

// Get loads a room the user may access.
func (s *Service) Get(ctx context.Context, roomID, userID string) (*domain.Room, error) {
	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(room, userID); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Service) load(ctx context.Context, roomID string) (*domain.Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, domain.Validation("roomId is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("room not found")
		}
		return nil, domain.TransientStore("load room failed", err)
	}
	return room, nil
}

// Join adds the connection to the room's broadcast group and announces it.
// A denied join leaves the connection active.
func (s *Service) Join(ctx context.Context, c *hub.Client, roomID string) (*domain.Room, error) {
	id := c.Session.GetIdentity()

	room, err := s.Get(ctx, roomID, id.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotAuthorized) {
			audit.Log(ctx, audit.ActionJoinDenied, id.UserID, roomID, "room join denied")
		}
		return nil, err
	}

	s.hub.JoinRoom(c, room.ID)
	c.Session.AddRoom(room.ID, true)

	if err := s.presence.SetCurrentRoom(ctx, id.UserID, room.ID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, room.ID).Msg("failed to record current room")
	}

	if err := s.hub.BroadcastToRoom(room.ID, domain.EventUserJoinedRoom, domain.RoomUserEvent{
		RoomID:      room.ID,
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
	}, ""); err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ActionJoinRoom, id.UserID, room.ID, "joined room")
	return room, nil
}

// Leave removes the connection from the room. Leaving a room the connection
// is not in does nothing.
func (s *Service) Leave(ctx context.Context, c *hub.Client, roomID string) error {
	id := c.Session.GetIdentity()

	inHub := s.hub.LeaveRoom(c, roomID)
	inSession := c.Session.RemoveRoom(roomID)
	if !inHub && !inSession {
		return nil
	}

	if err := s.presence.ClearCurrentRoom(ctx, id.UserID, roomID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to clear current room")
	}

	if err := s.hub.BroadcastToRoom(roomID, domain.EventUserLeftRoom, domain.RoomUserEvent{
		RoomID:      roomID,
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
	}, ""); err != nil {
		return err
	}

	audit.Log(ctx, audit.ActionLeaveRoom, id.UserID, roomID, "left room")
	return nil
}

// AutoJoin adds the connection to every room its user participates in,
// without announcing it. It returns the joined room ids.
func (s *Service) AutoJoin(ctx context.Context, c *hub.Client) ([]string, error) {
	rooms, err := s.RoomsFor(ctx, c.Session.GetUserID())
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rooms))
	for _, room := range rooms {
		s.hub.JoinRoom(c, room.ID)
		c.Session.AddRoom(room.ID, false)
		ids = append(ids, room.ID)
	}
	return ids, nil
}

// RoomsFor returns the rooms the user participates in.
func (s *Service) RoomsFor(ctx context.Context, userID string) ([]domain.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rooms, err := s.rooms.ListForUser(ctx, userID)
	if err != nil {
		return nil, domain.TransientStore("list rooms failed", err)
	}
	return rooms, nil
}

func (s *Service) PublicRooms(ctx context.Context, limit int) ([]domain.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rooms, err := s.rooms.ListPublic(ctx, limit)
	if err != nil {
		return nil, domain.TransientStore("list rooms failed", err)
	}
	return rooms, nil
}

// CreateOrGetDirect returns the direct room of the pair, creating it on
// first use. Concurrent calls for the same pair, in either order, resolve to
// one room: in-process callers share one lookup, and a creation that loses
// the race on the unique key falls back to reading the winner's room.
func (s *Service) CreateOrGetDirect(ctx context.Context, a, b domain.Identity) (*domain.Room, error) {
	if strings.TrimSpace(a.UserID) == "" || strings.TrimSpace(b.UserID) == "" {
		return nil, domain.Validation("userId is required")
	}
	if a.UserID == b.UserID {
		return nil, domain.Validation("cannot open a direct room with yourself")
	}
	if b.DisplayName == "" {
		b.DisplayName = b.UserID
	}

	key := domain.DirectRoomName(a.UserID, b.UserID)
	v, err, _ := s.direct.Do(key, func() (interface{}, error) {
		return s.findOrCreateDirect(ctx, key, a, b)
	})
	if err != nil {
		return nil, err
	}
	room := v.(*domain.Room)

	s.joinLocal(a.UserID, room.ID)
	s.joinLocal(b.UserID, room.ID)
	return room, nil
}

func (s *Service) findOrCreateDirect(ctx context.Context, key string, a, b domain.Identity) (*domain.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	room, err := s.rooms.GetByDirectKey(ctx, key)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, domain.TransientStore("load direct room failed", err)
	}

	now := time.Now().UTC()
	first, second := a, b
	if second.UserID < first.UserID {
		first, second = second, first
	}
	room = &domain.Room{
		Name:      key,
		Kind:      domain.RoomDirect,
		CreatorID: a.UserID,
		Participants: []domain.Participant{
			{UserID: first.UserID, DisplayName: first.DisplayName, Role: domain.RoleMember, JoinedAt: now},
			{UserID: second.UserID, DisplayName: second.DisplayName, Role: domain.RoleMember, JoinedAt: now},
		},
	}

	err = s.rooms.Create(ctx, room)
	if err == nil {
		audit.Log(ctx, audit.ActionOpenDirect, a.UserID, room.ID, "direct room created")
		return room, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return nil, domain.TransientStore("create direct room failed", err)
	}

	// Lost the race to another writer; its room is the canonical one.
	room, err = s.rooms.GetByDirectKey(ctx, key)
	if err != nil {
		return nil, domain.TransientStore("load direct room failed", err)
	}
	return room, nil
}

// CreateRoom creates a public or private room with the creator as admin.
func (s *Service) CreateRoom(ctx context.Context, creator domain.Identity, name string, kind domain.RoomKind, members []domain.Identity) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Validation("room name is required")
	}
	if utf8.RuneCountInString(name) > maxRoomNameLength {
		return nil, domain.Validation("room name is too long")
	}
	if kind != domain.RoomPublic && kind != domain.RoomPrivate {
		return nil, domain.Validation("kind must be public or private")
	}

	now := time.Now().UTC()
	room := &domain.Room{
		Name:      name,
		Kind:      kind,
		CreatorID: creator.UserID,
		Participants: []domain.Participant{
			{UserID: creator.UserID, DisplayName: creator.DisplayName, Role: domain.RoleAdmin, JoinedAt: now},
		},
	}
	seen := map[string]bool{creator.UserID: true}
	for _, m := range members {
		if m.UserID == "" || seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		if m.DisplayName == "" {
			m.DisplayName = m.UserID
		}
		room.Participants = append(room.Participants, domain.Participant{
			UserID: m.UserID, DisplayName: m.DisplayName, Role: domain.RoleMember, JoinedAt: now,
		})
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.rooms.Create(cctx, room); err != nil {
		return nil, domain.TransientStore("create room failed", err)
	}

	for _, p := range room.Participants {
		s.joinLocal(p.UserID, room.ID)
	}
	audit.LogWithDetail(ctx, audit.ActionCreateRoom, creator.UserID, room.ID, string(kind), "room created")
	return room, nil
}

// AddParticipant lets a room admin add a member to a private room.
func (s *Service) AddParticipant(ctx context.Context, actor domain.Identity, roomID string, member domain.Identity) (*domain.Room, error) {
	if strings.TrimSpace(member.UserID) == "" {
		return nil, domain.Validation("userId is required")
	}
	room, err := s.load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	switch room.Kind {
	case domain.RoomDirect:
		return nil, domain.NotAuthorized("direct rooms cannot gain participants")
	case domain.RoomPublic:
		return nil, domain.Validation("public rooms have no participant list")
	}
	if !room.IsAdmin(actor.UserID) {
		return nil, domain.NotAuthorized("only room admins can add participants")
	}
	if member.DisplayName == "" {
		member.DisplayName = member.UserID
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.rooms.AddParticipant(cctx, room.ID, domain.Participant{
		UserID:      member.UserID,
		DisplayName: member.DisplayName,
		Role:        domain.RoleMember,
	})
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return nil, domain.Validation("user is already a participant")
	case errors.Is(err, repository.ErrNotFound):
		return nil, domain.NotFound("room not found")
	case err != nil:
		return nil, domain.TransientStore("add participant failed", err)
	}

	s.joinLocal(member.UserID, room.ID)
	audit.Log(ctx, audit.ActionAddMember, actor.UserID, room.ID, "participant added: "+member.UserID)
	return s.load(ctx, room.ID)
}

// joinLocal adds the user's connections on this instance to the room.
func (s *Service) joinLocal(userID, roomID string) {
	for _, c := range s.hub.JoinUser(userID, roomID) {
		c.Session.AddRoom(roomID, false)
	}
}
