package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// GormPresenceRepository implements PresenceRepository using GORM.
type GormPresenceRepository struct {
	db *gorm.DB
}

func NewGormPresenceRepository(db *gorm.DB) *GormPresenceRepository {
	return &GormPresenceRepository{db: db}
}

// Upsert inserts the entry or overwrites the user's existing row. The
// achievement is left untouched on conflict.
func (r *GormPresenceRepository) Upsert(ctx context.Context, entry *domain.PresenceEntry) error {
	l := log.Ctx(ctx)

	model := &PresenceModel{
		UserID:       entry.UserID,
		DisplayName:  entry.DisplayName,
		ConnectionID: entry.ConnectionID,
		Status:       string(entry.Status),
		LastSeen:     entry.LastSeen,
		Achievement:  database.NewJSON(entry.Achievement),
	}
	if entry.CurrentRoomID != "" {
		room := entry.CurrentRoomID
		model.CurrentRoomID = &room
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "connection_id", "status", "current_room_id", "last_seen", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, entry.UserID).Msg("failed to upsert presence")
		return err
	}
	return nil
}

// MarkOffline sets the user offline. A missing row is not an error.
func (r *GormPresenceRepository) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	l := log.Ctx(ctx)

	err := r.db.WithContext(ctx).Model(&PresenceModel{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"status":          string(domain.StatusOffline),
			"last_seen":       at,
			"current_room_id": nil,
		}).Error
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to mark presence offline")
	}
	return err
}

// MarkOfflineIfConnection sets the user offline only while the row still
// belongs to connID, so a reconnect that raced the sweep is preserved.
func (r *GormPresenceRepository) MarkOfflineIfConnection(ctx context.Context, userID, connID string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&PresenceModel{}).
		Where("user_id = ? AND connection_id = ? AND status <> ?", userID, connID, string(domain.StatusOffline)).
		Updates(map[string]interface{}{
			"status":          string(domain.StatusOffline),
			"last_seen":       at,
			"current_room_id": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateStatus changes the status and, when achievement is non-nil, the
// achievement. It returns the updated row.
func (r *GormPresenceRepository) UpdateStatus(ctx context.Context, userID string, status domain.Status, achievement *domain.Achievement) (*domain.PresenceEntry, error) {
	updates := map[string]interface{}{
		"status":    string(status),
		"last_seen": time.Now().UTC(),
	}
	if achievement != nil {
		updates["achievement"] = database.NewJSON(achievement)
	}

	var model PresenceModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&PresenceModel{}).Where("user_id = ?", userID).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.First(&model, "user_id = ?", userID).Error
	})
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormPresenceRepository) SetCurrentRoom(ctx context.Context, userID, roomID string) error {
	return r.db.WithContext(ctx).Model(&PresenceModel{}).
		Where("user_id = ?", userID).
		Update("current_room_id", roomID).Error
}

// ClearCurrentRoom clears the current room only if it is still roomID.
func (r *GormPresenceRepository) ClearCurrentRoom(ctx context.Context, userID, roomID string) error {
	return r.db.WithContext(ctx).Model(&PresenceModel{}).
		Where("user_id = ? AND current_room_id = ?", userID, roomID).
		Update("current_room_id", nil).Error
}

func (r *GormPresenceRepository) Get(ctx context.Context, userID string) (*domain.PresenceEntry, error) {
	var model PresenceModel
	err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListByStatus returns entries with the status, most recently seen first.
func (r *GormPresenceRepository) ListByStatus(ctx context.Context, status domain.Status) ([]domain.PresenceEntry, error) {
	var models []PresenceModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("last_seen DESC").Order("user_id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return presenceToDomain(models), nil
}

func (r *GormPresenceRepository) ListNotOffline(ctx context.Context) ([]domain.PresenceEntry, error) {
	var models []PresenceModel
	err := r.db.WithContext(ctx).
		Where("status <> ?", string(domain.StatusOffline)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return presenceToDomain(models), nil
}

func presenceToDomain(models []PresenceModel) []domain.PresenceEntry {
	out := make([]domain.PresenceEntry, len(models))
	for i := range models {
		out[i] = *models[i].ToDomain()
	}
	return out
}
