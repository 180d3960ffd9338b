// Package presence maintains the shared online-user registry.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/repository"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

const defaultStoreTimeout = 5 * time.Second

// Registry is the presence API used by the lifecycle controller. Every
// store call runs under the store timeout; a timeout is a failure.
type Registry struct {
	repo    repository.PresenceRepository
	timeout time.Duration
	now     func() time.Time
}

func NewRegistry(repo repository.PresenceRepository, storeTimeout time.Duration) *Registry {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &Registry{
		repo:    repo,
		timeout: storeTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// MarkOnline records the user as online on connID. The latest connection
// wins; an older one is superseded without being closed.
func (r *Registry) MarkOnline(ctx context.Context, id domain.Identity, connID string) (*domain.PresenceEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entry := &domain.PresenceEntry{
		UserID:       id.UserID,
		DisplayName:  id.DisplayName,
		ConnectionID: connID,
		Status:       domain.StatusOnline,
		LastSeen:     r.now(),
	}
	if err := r.repo.Upsert(ctx, entry); err != nil {
		return nil, storeError("mark online", err)
	}
	return entry, nil
}

// MarkOffline is idempotent and succeeds for unknown users.
func (r *Registry) MarkOffline(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.repo.MarkOffline(ctx, userID, r.now()); err != nil {
		return storeError("mark offline", err)
	}
	return nil
}

// SetStatus applies a client status change. achievement may be nil to keep
// the current one.
func (r *Registry) SetStatus(ctx context.Context, userID string, status domain.Status, achievement *domain.Achievement) (*domain.PresenceEntry, error) {
	if !status.ClientSettable() {
		return nil, domain.Validation("status must be one of online, away, busy")
	}
	if achievement != nil {
		if err := achievement.Validate(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entry, err := r.repo.UpdateStatus(ctx, userID, status, achievement)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("no presence for user")
		}
		return nil, storeError("set status", err)
	}
	return entry, nil
}

func (r *Registry) SetCurrentRoom(ctx context.Context, userID, roomID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.repo.SetCurrentRoom(ctx, userID, roomID); err != nil {
		return storeError("set current room", err)
	}
	return nil
}

// ClearCurrentRoom clears the current room if it is still roomID.
func (r *Registry) ClearCurrentRoom(ctx context.Context, userID, roomID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.repo.ClearCurrentRoom(ctx, userID, roomID); err != nil {
		return storeError("clear current room", err)
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, userID string) (*domain.PresenceEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entry, err := r.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("no presence for user")
		}
		return nil, storeError("get presence", err)
	}
	return entry, nil
}

// ListOnline returns users whose status is online, most recently seen first.
func (r *Registry) ListOnline(ctx context.Context) ([]domain.PresenceEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entries, err := r.repo.ListByStatus(ctx, domain.StatusOnline)
	if err != nil {
		return nil, storeError("list online", err)
	}
	return entries, nil
}

// Reconcile marks offline every non-offline entry whose connection is not in
// live and returns how many entries it corrected. Rows whose connection
// changed during the sweep are left alone.
func (r *Registry) Reconcile(ctx context.Context, live map[string]struct{}) (int, error) {
	l := log.Ctx(ctx)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entries, err := r.repo.ListNotOffline(ctx)
	if err != nil {
		return 0, storeError("reconcile", err)
	}

	var (
		corrected int
		errs      []error
	)
	for _, e := range entries {
		if _, ok := live[e.ConnectionID]; ok {
			continue
		}
		changed, err := r.repo.MarkOfflineIfConnection(ctx, e.UserID, e.ConnectionID, r.now())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			corrected++
			l.Debug().Str(log.FieldUserID, e.UserID).Str(log.FieldConnID, e.ConnectionID).Msg("reconciled stale presence")
		}
	}
	if len(errs) > 0 {
		return corrected, storeError("reconcile", errors.Join(errs...))
	}
	return corrected, nil
}

func storeError(op string, err error) error {
	return domain.TransientStore(op+" failed", err)
}
