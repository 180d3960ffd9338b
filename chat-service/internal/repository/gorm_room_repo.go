package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// GormRoomRepository implements RoomRepository using GORM.
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository creates a new GORM-based room repository.
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	return &GormRoomRepository{db: db}
}

func orderedParticipants(db *gorm.DB) *gorm.DB {
	return db.Order("joined_at").Order("id")
}

// Create inserts the room together with its participants. A direct room
// whose pair already exists yields ErrDuplicate.
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	l := log.Ctx(ctx)

	now := time.Now().UTC()
	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.LastActivity.IsZero() {
		room.LastActivity = now
	}
	for i := range room.Participants {
		if room.Participants[i].JoinedAt.IsZero() {
			room.Participants[i].JoinedAt = now
		}
	}

	model := RoomToModel(room)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		l.Error().Err(err).Str(log.FieldRoomID, room.ID).Msg("failed to create room in db")
		return err
	}

	room.CreatedAt = model.CreatedAt
	l.Debug().Str(log.FieldRoomID, room.ID).Str("kind", string(room.Kind)).Msg("room created in db")
	return nil
}

// GetByID retrieves a room by ID.
func (r *GormRoomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByDirectKey retrieves the direct room with the canonical pair name.
func (r *GormRoomRepository) GetByDirectKey(ctx context.Context, key string) (*domain.Room, error) {
	return r.first(ctx, "direct_key = ?", key)
}

func (r *GormRoomRepository) first(ctx context.Context, query string, arg string) (*domain.Room, error) {
	var model RoomModel
	err := r.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		First(&model, query, arg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListForUser returns the rooms the user participates in, most recently
// active first.
func (r *GormRoomRepository) ListForUser(ctx context.Context, userID string) ([]domain.Room, error) {
	l := log.Ctx(ctx)

	sub := r.db.Model(&ParticipantModel{}).Select("room_id").Where("user_id = ?", userID)

	var models []RoomModel
	err := r.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Where("id IN (?)", sub).
		Order("last_activity DESC").
		Find(&models).Error
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to list user rooms from db")
		return nil, err
	}
	return roomsToDomain(models), nil
}

// ListPublic returns public rooms, most recently active first.
func (r *GormRoomRepository) ListPublic(ctx context.Context, limit int) ([]domain.Room, error) {
	if limit < 1 {
		limit = 50
	}

	var models []RoomModel
	err := r.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Where("kind = ?", string(domain.RoomPublic)).
		Order("last_activity DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return roomsToDomain(models), nil
}

func (r *GormRoomRepository) AddParticipant(ctx context.Context, roomID string, p domain.Participant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&RoomModel{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}

		err := tx.Create(&ParticipantModel{
			RoomID:      roomID,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Role:        string(p.Role),
			JoinedAt:    p.JoinedAt,
		}).Error
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	})
}

// Touch records the latest message of the room.
func (r *GormRoomRepository) Touch(ctx context.Context, roomID, messageID string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&RoomModel{}).
		Where("id = ?", roomID).
		Updates(map[string]interface{}{
			"last_activity":   at,
			"last_message_id": messageID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func roomsToDomain(models []RoomModel) []domain.Room {
	rooms := make([]domain.Room, len(models))
	for i := range models {
		rooms[i] = *models[i].ToDomain()
	}
	return rooms
}
