package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/idgen"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/kafka"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/membership"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/presence"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/repository"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/testutil"
)

var (
	alice = domain.Identity{UserID: "u1", DisplayName: "Alice"}
	bob   = domain.Identity{UserID: "u2", DisplayName: "Bob"}
	carol = domain.Identity{UserID: "u3", DisplayName: "Carol"}
)

type recordingSink struct {
	mu     sync.Mutex
	events []*kafka.MessageEvent
}

func (s *recordingSink) Publish(_ context.Context, e *kafka.MessageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	hub     *hub.Hub
	members *membership.Service
	relay   *Relay
	sink    *recordingSink
	rooms   repository.RoomRepository
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithMessages(t, func(m repository.MessageRepository) repository.MessageRepository { return m })
}

func newFixtureWithMessages(t *testing.T, wrap func(repository.MessageRepository) repository.MessageRepository) *fixture {
	db := testutil.NewDB(t, repository.Models()...)
	h := hub.NewHub()
	rooms := repository.NewGormRoomRepository(db)
	reg := presence.NewRegistry(repository.NewGormPresenceRepository(db), time.Second)
	members := membership.NewService(rooms, reg, h, time.Second)
	sink := &recordingSink{}
	r := NewRelay(
		wrap(repository.NewGormMessageRepository(db)),
		rooms,
		members,
		h,
		idgen.NewULIDGenerator(),
		sink,
		config.RelayConfig{MaxContentLength: 20, HistoryLimit: 2},
		time.Second,
	)
	return &fixture{hub: h, members: members, relay: r, sink: sink, rooms: rooms}
}

func (f *fixture) joined(t *testing.T, roomID, connID string, id domain.Identity) *hub.Client {
	c := testutil.NewClient(t, f.hub, connID, id)
	_, err := f.members.Join(context.Background(), c, roomID)
	require.NoError(t, err)
	return c
}

func (f *fixture) publicRoom(t *testing.T) *domain.Room {
	room, err := f.members.CreateRoom(context.Background(), carol, "general", domain.RoomPublic, nil)
	require.NoError(t, err)
	return room
}

func messages(t *testing.T, envs []domain.Envelope) []domain.Message {
	var out []domain.Message
	for _, e := range envs {
		if e.Event != domain.EventNewMessage {
			continue
		}
		var m domain.Message
		require.NoError(t, json.Unmarshal(e.Data, &m))
		out = append(out, m)
	}
	return out
}

func TestSend_DeliversToRoomAndUpdatesActivity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.publicRoom(t)
	c1 := f.joined(t, room.ID, "c1", alice)
	c2 := f.joined(t, room.ID, "c2", bob)

	msg, err := f.relay.Send(ctx, alice, domain.SendMessagePayload{RoomID: room.ID, Content: "  hi  "})
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, domain.MessageText, msg.Type)
	assert.True(t, idgen.Valid(msg.ID))

	for _, c := range []*hub.Client{c1, c2} {
		got := messages(t, testutil.Drain(c))
		require.Len(t, got, 1)
		assert.Equal(t, msg.ID, got[0].ID)
		assert.Equal(t, "Alice", got[0].SenderDisplayName)
	}

	stored, err := f.rooms.GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, stored.LastMessageID)
	assert.Equal(t, []string{kafka.EventMessageCreated}, f.sink.types())
}

func TestSend_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.publicRoom(t)
	other, err := f.members.CreateRoom(ctx, carol, "other", domain.RoomPublic, nil)
	require.NoError(t, err)
	elsewhere, err := f.relay.Send(ctx, carol, domain.SendMessagePayload{RoomID: other.ID, Content: "x"})
	require.NoError(t, err)

	tests := []struct {
		name string
		p    domain.SendMessagePayload
		want error
	}{
		{"blank content", domain.SendMessagePayload{RoomID: room.ID, Content: "   "}, domain.ErrValidation},
		{"too long", domain.SendMessagePayload{RoomID: room.ID, Content: "0123456789012345678901"}, domain.ErrValidation},
		{"system type", domain.SendMessagePayload{RoomID: room.ID, Content: "x", MessageType: domain.MessageSystem}, domain.ErrValidation},
		{"unknown type", domain.SendMessagePayload{RoomID: room.ID, Content: "x", MessageType: "video"}, domain.ErrValidation},
		{"reply elsewhere", domain.SendMessagePayload{RoomID: room.ID, Content: "x", ReplyTo: elsewhere.ID}, domain.ErrValidation},
		{"reply missing", domain.SendMessagePayload{RoomID: room.ID, Content: "x", ReplyTo: "01ARZ3NDEKTSV4RRFFQ69G5FAV"}, domain.ErrValidation},
		{"unknown room", domain.SendMessagePayload{RoomID: "missing", Content: "x"}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.relay.Send(ctx, alice, tt.p)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSend_PrivateRoomRequiresParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, err := f.members.CreateRoom(ctx, alice, "team", domain.RoomPrivate, []domain.Identity{bob})
	require.NoError(t, err)

	_, err = f.relay.Send(ctx, carol, domain.SendMessagePayload{RoomID: room.ID, Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	_, err = f.relay.Send(ctx, bob, domain.SendMessagePayload{RoomID: room.ID, Content: "hi"})
	assert.NoError(t, err)
}

func TestSend_PreservesOrderForEveryMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.publicRoom(t)
	members := []*hub.Client{
		f.joined(t, room.ID, "c1", alice),
		f.joined(t, room.ID, "c2", bob),
		f.joined(t, room.ID, "c3", carol),
	}
	for _, c := range members {
		testutil.Drain(c)
	}

	for _, content := range []string{"m1", "m2", "m3"} {
		_, err := f.relay.Send(ctx, alice, domain.SendMessagePayload{RoomID: room.ID, Content: content})
		require.NoError(t, err)
	}

	for _, c := range members {
		got := messages(t, testutil.Drain(c))
		require.Len(t, got, 3)
		assert.Equal(t, []string{"m1", "m2", "m3"}, []string{got[0].Content, got[1].Content, got[2].Content})
	}
}

func TestSend_ConcurrentSendersSeeOneOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.publicRoom(t)
	c1 := f.joined(t, room.ID, "c1", alice)
	c2 := f.joined(t, room.ID, "c2", bob)
	testutil.Drain(c1)
	testutil.Drain(c2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := alice
			if i%2 == 1 {
				sender = bob
			}
			_, err := f.relay.Send(ctx, sender, domain.SendMessagePayload{RoomID: room.ID, Content: fmt.Sprintf("m%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	a := messages(t, testutil.Drain(c1))
	b := messages(t, testutil.Drain(c2))
	require.Len(t, a, 10)
	require.Len(t, b, 10)
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
		if i > 0 {
			assert.Less(t, a[i-1].ID, a[i].ID)
		}
	}
}

func TestReact_TogglesAndBroadcastsFullList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.publicRoom(t)
	c1 := f.joined(t, room.ID, "c1", alice)

	msg, err := f.relay.Send(ctx, alice, domain.SendMessagePayload{RoomID: room.ID, Content: "hi"})
	require.NoError(t, err)
	testutil.Drain(c1)

	for i := 1; i <= 3; i++ {
		reactions, err := f.relay.React(ctx, bob, domain.AddReactionPayload{MessageID: msg.ID, Emoji: "👍"})
		require.NoError(t, err)
		if i%2 == 1 {
			require.Len(t, reactions, 1)
			assert.Equal(t, "u2", reactions[0].UserID)
		} else {
			assert.Empty(t, reactions)
		}
	}

	got := testutil.Drain(c1)
	require.Len(t, got, 3)
	var ev domain.ReactionUpdatedEvent
	require.NoError(t, json.Unmarshal(got[2].Data, &ev))
	assert.Equal(t, domain.EventReactionUpdated, got[2].Event)
	assert.Equal(t, msg.ID, ev.MessageID)
	assert.Len(t, ev.Reactions, 1)

	_, err = f.relay.React(ctx, bob, domain.AddReactionPayload{MessageID: "missing", Emoji: "👍"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.relay.React(ctx, bob, domain.AddReactionPayload{MessageID: msg.ID, Emoji: " "})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// racingMessageRepo lets a competing writer insert the same reaction just
// before each toggle, which then hits the unique index.
type racingMessageRepo struct {
	repository.MessageRepository
}

func (r racingMessageRepo) ToggleReaction(ctx context.Context, messageID string, reaction domain.Reaction) ([]domain.Reaction, bool, error) {
	if _, _, err := r.MessageRepository.ToggleReaction(ctx, messageID, reaction); err != nil {
		return nil, false, err
	}
	return nil, false, repository.ErrDuplicate
}

func TestReact_ConcurrentDuplicateReportsStoredList(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithMessages(t, func(m repository.MessageRepository) repository.MessageRepository {
		return racingMessageRepo{m}
	})
	room := f.publicRoom(t)
	c1 := f.joined(t, room.ID, "c1", alice)

	msg, err := f.relay.Send(ctx, alice, domain.SendMessagePayload{RoomID: room.ID, Content: "hi"})
	require.NoError(t, err)
	testutil.Drain(c1)

	reactions, err := f.relay.React(ctx, bob, domain.AddReactionPayload{MessageID: msg.ID, Emoji: "👍"})
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, "u2", reactions[0].UserID)
	assert.Equal(t, "👍", reactions[0].Emoji)

	env, ok := testutil.Find(testutil.Drain(c1), domain.EventReactionUpdated)
	require.True(t, ok)
	var ev domain.ReactionUpdatedEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Len(t, ev.Reactions, 1)
}

func TestReact_RequiresRoomAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, err := f.members.CreateRoom(ctx, alice, "team", domain.RoomPrivate, nil)
	require.NoError(t, err)
	msg, err := f.relay.Send(ctx, alice, domain.SendMessagePayload{RoomID: room.ID, Content: "hi"})
	require.NoError(t, err)

	_, err = f.relay.React(ctx, carol, domain.AddReactionPayload{MessageID: msg.ID, Emoji: "👍"})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestTyping_ExcludesSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.publicRoom(t)
	c1 := f.joined(t, room.ID, "c1", alice)
	c2 := f.joined(t, room.ID, "c2", bob)
	testutil.Drain(c1)
	testutil.Drain(c2)

	require.NoError(t, f.relay.Typing(ctx, c1, domain.TypingPayload{RoomID: room.ID, IsTyping: true}))

	assert.Empty(t, testutil.Drain(c1))
	got := testutil.Drain(c2)
	require.Len(t, got, 1)
	var ev domain.TypingEvent
	require.NoError(t, json.Unmarshal(got[0].Data, &ev))
	assert.Equal(t, domain.TypingEvent{RoomID: room.ID, UserID: "u1", DisplayName: "Alice", IsTyping: true}, ev)

	private, err := f.members.CreateRoom(ctx, bob, "team", domain.RoomPrivate, nil)
	require.NoError(t, err)
	err = f.relay.Typing(ctx, c1, domain.TypingPayload{RoomID: private.ID, IsTyping: true})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestEditAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, err := f.members.CreateRoom(ctx, alice, "team", domain.RoomPrivate, []domain.Identity{bob})
	require.NoError(t, err)
	c2 := testutil.NewClient(t, f.hub, "c2", bob)
	_, err = f.members.AutoJoin(ctx, c2)
	require.NoError(t, err)

	msg, err := f.relay.Send(ctx, bob, domain.SendMessagePayload{RoomID: room.ID, Content: "hello"})
	require.NoError(t, err)

	_, err = f.relay.Edit(ctx, alice, domain.EditMessagePayload{MessageID: msg.ID, Content: "hijack"})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	edited, err := f.relay.Edit(ctx, bob, domain.EditMessagePayload{MessageID: msg.ID, Content: "hello again"})
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Equal(t, "hello again", edited.Content)

	// alice is the room admin.
	deleted, err := f.relay.Delete(ctx, alice, domain.DeleteMessagePayload{MessageID: msg.ID})
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	assert.Empty(t, deleted.Content)

	_, err = f.relay.Delete(ctx, bob, domain.DeleteMessagePayload{MessageID: msg.ID})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t,
		[]string{domain.EventNewMessage, domain.EventMessageUpdated, domain.EventMessageDeleted},
		testutil.Events(testutil.Drain(c2)))
	assert.Equal(t,
		[]string{kafka.EventMessageCreated, kafka.EventMessageUpdated, kafka.EventMessageDeleted},
		f.sink.types())
}

func TestHistory_Paginates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.publicRoom(t)

	var ids []string
	for i := 1; i <= 5; i++ {
		msg, err := f.relay.Send(ctx, alice, domain.SendMessagePayload{RoomID: room.ID, Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	page, err := f.relay.History(ctx, bob, room.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, []string{ids[3], ids[4]}, []string{page.Messages[0].ID, page.Messages[1].ID})
	assert.True(t, page.HasMore)
	assert.Equal(t, ids[3], page.NextCursor)

	page, err = f.relay.History(ctx, bob, room.ID, page.NextCursor, 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, ids[0], page.Messages[0].ID)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.NextCursor)

	_, err = f.relay.History(ctx, bob, room.ID, "not-an-id", 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
