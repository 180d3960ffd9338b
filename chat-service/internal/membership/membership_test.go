package membership

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/presence"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/repository"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/testutil"
)

var (
	alice = domain.Identity{UserID: "u1", DisplayName: "Alice"}
	bob   = domain.Identity{UserID: "u2", DisplayName: "Bob"}
	carol = domain.Identity{UserID: "u3", DisplayName: "Carol"}
)

type fixture struct {
	db    *gorm.DB
	hub   *hub.Hub
	rooms repository.RoomRepository
	reg   *presence.Registry
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t, repository.Models()...)
	h := hub.NewHub()
	rooms := repository.NewGormRoomRepository(db)
	reg := presence.NewRegistry(repository.NewGormPresenceRepository(db), time.Second)
	return &fixture{
		db:    db,
		hub:   h,
		rooms: rooms,
		reg:   reg,
		svc:   NewService(rooms, reg, h, time.Second),
	}
}

func (f *fixture) connect(t *testing.T, connID string, id domain.Identity) *hub.Client {
	c := testutil.NewClient(t, f.hub, connID, id)
	_, err := f.reg.MarkOnline(context.Background(), id, connID)
	require.NoError(t, err)
	return c
}

func (f *fixture) room(t *testing.T, name string, kind domain.RoomKind, creator domain.Identity, members ...domain.Identity) *domain.Room {
	room, err := f.svc.CreateRoom(context.Background(), creator, name, kind, members)
	require.NoError(t, err)
	return room
}

func TestJoin_PublicRoomAnnouncesToMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	general := f.room(t, "general", domain.RoomPublic, carol)

	c1 := f.connect(t, "c1", alice)
	c2 := f.connect(t, "c2", bob)

	_, err := f.svc.Join(ctx, c1, general.ID)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, c2, general.ID)
	require.NoError(t, err)

	got := testutil.Drain(c1)
	assert.Equal(t, []string{domain.EventUserJoinedRoom, domain.EventUserJoinedRoom}, testutil.Events(got))

	var ev domain.RoomUserEvent
	require.NoError(t, json.Unmarshal(got[1].Data, &ev))
	assert.Equal(t, domain.RoomUserEvent{RoomID: general.ID, UserID: "u2", DisplayName: "Bob"}, ev)

	assert.True(t, c2.Session.JoinedExplicitly(general.ID))

	entry, err := f.reg.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, general.ID, entry.CurrentRoomID)
}

func TestJoin_PrivateRoomDeniesNonParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	secret := f.room(t, "secret", domain.RoomPrivate, alice, bob)

	c3 := f.connect(t, "c3", carol)
	_, err := f.svc.Join(ctx, c3, secret.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.False(t, f.hub.InRoom(c3, secret.ID))
	assert.True(t, c3.Session.IsActive())
}

func TestJoin_UnknownRoom(t *testing.T) {
	f := newFixture(t)
	c1 := f.connect(t, "c1", alice)

	_, err := f.svc.Join(context.Background(), c1, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLeave_IsIdempotentAndClearsCurrentRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	general := f.room(t, "general", domain.RoomPublic, carol)

	c1 := f.connect(t, "c1", alice)
	c2 := f.connect(t, "c2", bob)
	_, err := f.svc.Join(ctx, c1, general.ID)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, c2, general.ID)
	require.NoError(t, err)
	testutil.Drain(c1)
	testutil.Drain(c2)

	require.NoError(t, f.svc.Leave(ctx, c2, general.ID))
	require.NoError(t, f.svc.Leave(ctx, c2, general.ID))

	assert.Equal(t, []string{domain.EventUserLeftRoom}, testutil.Events(testutil.Drain(c1)))
	assert.Empty(t, testutil.Drain(c2))

	entry, err := f.reg.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, entry.CurrentRoomID)
}

func TestAutoJoin_JoinsParticipatingRoomsSilently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	team := f.room(t, "team", domain.RoomPrivate, alice, bob)
	f.room(t, "other", domain.RoomPrivate, carol)

	c2 := testutil.NewClient(t, f.hub, "c2", bob)
	ids, err := f.svc.AutoJoin(ctx, c2)
	require.NoError(t, err)

	assert.Equal(t, []string{team.ID}, ids)
	assert.True(t, f.hub.InRoom(c2, team.ID))
	assert.False(t, c2.Session.JoinedExplicitly(team.ID))
	assert.Empty(t, testutil.Drain(c2))
}

func TestCreateOrGetDirect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c1 := f.connect(t, "c1", alice)
	c2 := f.connect(t, "c2", bob)

	room, err := f.svc.CreateOrGetDirect(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, "direct_u1_u2", room.Name)
	assert.Equal(t, domain.RoomDirect, room.Kind)
	assert.Len(t, room.Participants, 2)
	assert.True(t, f.hub.InRoom(c1, room.ID))
	assert.True(t, f.hub.InRoom(c2, room.ID))

	again, err := f.svc.CreateOrGetDirect(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, room.ID, again.ID)

	_, err = f.svc.CreateOrGetDirect(ctx, alice, alice)
	assert.ErrorIs(t, err, domain.ErrValidation)

	c3 := f.connect(t, "c3", carol)
	_, err = f.svc.Join(ctx, c3, room.ID)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestCreateOrGetDirect_ConcurrentCallersShareOneRoom(t *testing.T) {
	f := newFixture(t)
	// A second service over the same store stands in for another instance.
	other := NewService(f.rooms, f.reg, hub.NewHub(), time.Second)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc, a, b := f.svc, alice, bob
			if i%2 == 1 {
				svc, a, b = other, bob, alice
			}
			room, err := svc.CreateOrGetDirect(context.Background(), a, b)
			if assert.NoError(t, err) {
				ids[i] = room.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var count int64
	require.NoError(t, f.db.Model(&repository.RoomModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateRoom_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRoom(ctx, alice, "  ", domain.RoomPublic, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.CreateRoom(ctx, alice, "dm", domain.RoomDirect, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	room, err := f.svc.CreateRoom(ctx, alice, "team", domain.RoomPrivate, []domain.Identity{bob, bob, alice})
	require.NoError(t, err)
	assert.Len(t, room.Participants, 2)
	assert.True(t, room.IsAdmin("u1"))
	assert.False(t, room.IsAdmin("u2"))
}

func TestAddParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	team := f.room(t, "team", domain.RoomPrivate, alice)
	c3 := f.connect(t, "c3", carol)

	_, err := f.svc.AddParticipant(ctx, bob, team.ID, carol)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	room, err := f.svc.AddParticipant(ctx, alice, team.ID, carol)
	require.NoError(t, err)
	assert.True(t, room.HasParticipant("u3"))
	assert.True(t, f.hub.InRoom(c3, team.ID))

	_, err = f.svc.AddParticipant(ctx, alice, team.ID, carol)
	assert.ErrorIs(t, err, domain.ErrValidation)

	direct, err := f.svc.CreateOrGetDirect(ctx, alice, bob)
	require.NoError(t, err)
	_, err = f.svc.AddParticipant(ctx, alice, direct.ID, carol)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}
