package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/repository"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/testutil"
)

func newRegistry(t *testing.T) *Registry {
	db := testutil.NewDB(t, repository.Models()...)
	return NewRegistry(repository.NewGormPresenceRepository(db), time.Second)
}

func TestRegistry_ConnectDisconnectSequences(t *testing.T) {
	ctx := context.Background()
	alice := domain.Identity{UserID: "u1", DisplayName: "Alice"}

	tests := []struct {
		name   string
		events []string // "c:<conn>" connect, "d" disconnect
		want   domain.Status
	}{
		{"connect", []string{"c:1"}, domain.StatusOnline},
		{"connect disconnect", []string{"c:1", "d"}, domain.StatusOffline},
		{"reconnect", []string{"c:1", "d", "c:2"}, domain.StatusOnline},
		{"duplicate session", []string{"c:1", "c:2"}, domain.StatusOnline},
		{"double disconnect", []string{"c:1", "d", "d"}, domain.StatusOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRegistry(t)
			for _, ev := range tt.events {
				if ev == "d" {
					require.NoError(t, reg.MarkOffline(ctx, alice.UserID))
					continue
				}
				_, err := reg.MarkOnline(ctx, alice, ev[2:])
				require.NoError(t, err)
			}

			entry, err := reg.Get(ctx, alice.UserID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, entry.Status)

			online, err := reg.ListOnline(ctx)
			require.NoError(t, err)
			if tt.want == domain.StatusOnline {
				assert.Len(t, online, 1)
			} else {
				assert.Empty(t, online)
			}
		})
	}
}

func TestRegistry_ListOnlineOrderedByLastSeen(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	base := time.Now().UTC()
	for i, id := range []string{"u1", "u2", "u3"} {
		at := base.Add(time.Duration(i) * time.Second)
		reg.now = func() time.Time { return at }
		_, err := reg.MarkOnline(ctx, domain.Identity{UserID: id}, "c-"+id)
		require.NoError(t, err)
	}

	online, err := reg.ListOnline(ctx)
	require.NoError(t, err)
	require.Len(t, online, 3)
	assert.Equal(t, []string{"u3", "u2", "u1"}, []string{online[0].UserID, online[1].UserID, online[2].UserID})
}

func TestRegistry_ReconcileMarksStaleEntriesOffline(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)

	_, err := reg.MarkOnline(ctx, domain.Identity{UserID: "live"}, "c-live")
	require.NoError(t, err)
	_, err = reg.MarkOnline(ctx, domain.Identity{UserID: "crashed"}, "c-crashed")
	require.NoError(t, err)
	_, err = reg.MarkOnline(ctx, domain.Identity{UserID: "away"}, "c-away")
	require.NoError(t, err)
	_, err = reg.SetStatus(ctx, "away", domain.StatusAway, nil)
	require.NoError(t, err)

	n, err := reg.Reconcile(ctx, map[string]struct{}{"c-live": {}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	online, err := reg.ListOnline(ctx)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "live", online[0].UserID)

	n, err = reg.Reconcile(ctx, map[string]struct{}{"c-live": {}})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistry_SetStatusValidation(t *testing.T) {
	ctx := context.Background()
	reg := newRegistry(t)
	_, err := reg.MarkOnline(ctx, domain.Identity{UserID: "u1"}, "c1")
	require.NoError(t, err)

	_, err = reg.SetStatus(ctx, "u1", domain.StatusOffline, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = reg.SetStatus(ctx, "u1", domain.StatusBusy, &domain.Achievement{Type: "badge"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = reg.SetStatus(ctx, "nobody", domain.StatusBusy, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	entry, err := reg.SetStatus(ctx, "u1", domain.StatusBusy, &domain.Achievement{
		Type: domain.AchievementMilestone, Name: "runs", Count: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBusy, entry.Status)
}

type blockingRepo struct {
	repository.PresenceRepository
}

func (blockingRepo) Upsert(ctx context.Context, _ *domain.PresenceEntry) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRegistry_StoreTimeoutIsFailure(t *testing.T) {
	reg := NewRegistry(blockingRepo{}, 20*time.Millisecond)

	start := time.Now()
	_, err := reg.MarkOnline(context.Background(), domain.Identity{UserID: "u1"}, "c1")
	assert.ErrorIs(t, err, domain.ErrTransientStore)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
