package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/repository"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/testutil"
)

func TestPresence_UpsertKeepsOneRowPerUser(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormPresenceRepository(testutil.NewDB(t, repository.Models()...))

	now := time.Now().UTC()
	require.NoError(t, repo.Upsert(ctx, &domain.PresenceEntry{
		UserID: "u1", DisplayName: "Alice", ConnectionID: "c1", Status: domain.StatusOnline, LastSeen: now,
	}))
	require.NoError(t, repo.Upsert(ctx, &domain.PresenceEntry{
		UserID: "u1", DisplayName: "Alice", ConnectionID: "c2", Status: domain.StatusOnline, LastSeen: now.Add(time.Second),
	}))

	online, err := repo.ListByStatus(ctx, domain.StatusOnline)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "c2", online[0].ConnectionID)
}

func TestPresence_MarkOfflineIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormPresenceRepository(testutil.NewDB(t, repository.Models()...))

	require.NoError(t, repo.MarkOffline(ctx, "missing", time.Now()))

	require.NoError(t, repo.Upsert(ctx, &domain.PresenceEntry{
		UserID: "u1", ConnectionID: "c1", Status: domain.StatusOnline, CurrentRoomID: "general", LastSeen: time.Now(),
	}))
	require.NoError(t, repo.MarkOffline(ctx, "u1", time.Now()))
	require.NoError(t, repo.MarkOffline(ctx, "u1", time.Now()))

	entry, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, entry.Status)
	assert.Empty(t, entry.CurrentRoomID)
}

func TestPresence_MarkOfflineIfConnection(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormPresenceRepository(testutil.NewDB(t, repository.Models()...))

	require.NoError(t, repo.Upsert(ctx, &domain.PresenceEntry{
		UserID: "u1", ConnectionID: "new", Status: domain.StatusOnline, LastSeen: time.Now(),
	}))

	changed, err := repo.MarkOfflineIfConnection(ctx, "u1", "old", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = repo.MarkOfflineIfConnection(ctx, "u1", "new", time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestPresence_StatusAndAchievement(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormPresenceRepository(testutil.NewDB(t, repository.Models()...))

	_, err := repo.UpdateStatus(ctx, "u1", domain.StatusAway, nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.Upsert(ctx, &domain.PresenceEntry{
		UserID: "u1", ConnectionID: "c1", Status: domain.StatusOnline, LastSeen: time.Now(),
	}))

	entry, err := repo.UpdateStatus(ctx, "u1", domain.StatusBusy, &domain.Achievement{Type: domain.AchievementStreak, Days: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBusy, entry.Status)
	require.NotNil(t, entry.Achievement)
	assert.Equal(t, 5, entry.Achievement.Days)

	// A reconnect keeps the achievement.
	require.NoError(t, repo.Upsert(ctx, &domain.PresenceEntry{
		UserID: "u1", ConnectionID: "c2", Status: domain.StatusOnline, LastSeen: time.Now(),
	}))
	entry, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, entry.Achievement)
	assert.Equal(t, domain.AchievementStreak, entry.Achievement.Type)
}

func TestPresence_ClearCurrentRoomOnlyIfMatching(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormPresenceRepository(testutil.NewDB(t, repository.Models()...))

	require.NoError(t, repo.Upsert(ctx, &domain.PresenceEntry{
		UserID: "u1", ConnectionID: "c1", Status: domain.StatusOnline, LastSeen: time.Now(),
	}))
	require.NoError(t, repo.SetCurrentRoom(ctx, "u1", "b"))
	require.NoError(t, repo.ClearCurrentRoom(ctx, "u1", "a"))

	entry, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "b", entry.CurrentRoomID)

	require.NoError(t, repo.ClearCurrentRoom(ctx, "u1", "b"))
	entry, err = repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, entry.CurrentRoomID)
}

func TestRoom_DirectKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormRoomRepository(testutil.NewDB(t, repository.Models()...))

	name := domain.DirectRoomName("a", "b")
	newRoom := func() *domain.Room {
		return &domain.Room{
			Name: name,
			Kind: domain.RoomDirect,
			Participants: []domain.Participant{
				{UserID: "a", Role: domain.RoleMember},
				{UserID: "b", Role: domain.RoleMember},
			},
		}
	}

	require.NoError(t, repo.Create(ctx, newRoom()))
	assert.ErrorIs(t, repo.Create(ctx, newRoom()), repository.ErrDuplicate)

	room, err := repo.GetByDirectKey(ctx, name)
	require.NoError(t, err)
	assert.Len(t, room.Participants, 2)

	// Non-direct rooms leave the key NULL, so any number may coexist.
	require.NoError(t, repo.Create(ctx, &domain.Room{Name: "general", Kind: domain.RoomPublic}))
	require.NoError(t, repo.Create(ctx, &domain.Room{Name: "general", Kind: domain.RoomPublic}))
}

func TestRoom_ParticipantsAndListing(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormRoomRepository(testutil.NewDB(t, repository.Models()...))

	room := &domain.Room{
		Name:         "team",
		Kind:         domain.RoomPrivate,
		CreatorID:    "u1",
		Participants: []domain.Participant{{UserID: "u1", Role: domain.RoleAdmin}},
	}
	require.NoError(t, repo.Create(ctx, room))
	require.NoError(t, repo.AddParticipant(ctx, room.ID, domain.Participant{UserID: "u2", Role: domain.RoleMember}))
	assert.ErrorIs(t, repo.AddParticipant(ctx, room.ID, domain.Participant{UserID: "u2"}), repository.ErrDuplicate)
	assert.ErrorIs(t, repo.AddParticipant(ctx, "missing", domain.Participant{UserID: "u2"}), repository.ErrNotFound)

	rooms, err := repo.ListForUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, []string{"u1", "u2"}, []string{rooms[0].Participants[0].UserID, rooms[0].Participants[1].UserID})

	require.NoError(t, repo.Touch(ctx, room.ID, "m1", time.Now()))
	got, err := repo.GetByID(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "m1", got.LastMessageID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMessage_ToggleReactionParity(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormMessageRepository(testutil.NewDB(t, repository.Models()...))

	require.NoError(t, repo.Create(ctx, &domain.Message{ID: "01A", RoomID: "r", SenderID: "u1", Content: "hi", Type: domain.MessageText}))

	r := domain.Reaction{UserID: "u2", DisplayName: "Bob", Emoji: "🔥"}
	for i := 1; i <= 5; i++ {
		list, added, err := repo.ToggleReaction(ctx, "01A", r)
		require.NoError(t, err)
		assert.Equal(t, i%2 == 1, added)
		if i%2 == 1 {
			assert.Len(t, list, 1)
		} else {
			assert.Empty(t, list)
		}
	}

	_, _, err := repo.ToggleReaction(ctx, "missing", r)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMessage_ConcurrentTogglesStayConsistent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormMessageRepository(testutil.NewDB(t, repository.Models()...))
	require.NoError(t, repo.Create(ctx, &domain.Message{ID: "01A", RoomID: "r", SenderID: "u1", Content: "hi", Type: domain.MessageText}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := repo.ToggleReaction(ctx, "01A", domain.Reaction{UserID: "u2", Emoji: "👍"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msg, err := repo.GetByID(ctx, "01A")
	require.NoError(t, err)
	assert.Empty(t, msg.Reactions)
}

func TestMessage_ListByRoomPagination(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormMessageRepository(testutil.NewDB(t, repository.Models()...))

	for _, id := range []string{"01A", "01B", "01C", "01D"} {
		require.NoError(t, repo.Create(ctx, &domain.Message{ID: id, RoomID: "r", SenderID: "u1", Content: id, Type: domain.MessageText}))
	}
	require.NoError(t, repo.Create(ctx, &domain.Message{ID: "01E", RoomID: "other", SenderID: "u1", Content: "x", Type: domain.MessageText}))

	page, err := repo.ListByRoom(ctx, "r", "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "01D", page[0].ID)
	assert.Equal(t, "01C", page[1].ID)

	page, err = repo.ListByRoom(ctx, "r", "01C", 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "01B", page[0].ID)
}

func TestMessage_EditAndSoftDelete(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewGormMessageRepository(testutil.NewDB(t, repository.Models()...))
	require.NoError(t, repo.Create(ctx, &domain.Message{ID: "01A", RoomID: "r", SenderID: "u1", Content: "hi", Type: domain.MessageText}))

	msg, err := repo.UpdateContent(ctx, "01A", "hello")
	require.NoError(t, err)
	assert.True(t, msg.Edited)
	assert.Equal(t, "hello", msg.Content)

	msg, err = repo.SoftDelete(ctx, "01A")
	require.NoError(t, err)
	assert.True(t, msg.Deleted)
	assert.Empty(t, msg.Content)

	_, err = repo.UpdateContent(ctx, "01A", "again")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.SoftDelete(ctx, "01A")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
