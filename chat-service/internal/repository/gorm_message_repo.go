package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func orderedReactions(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}

// Create inserts a message. The caller assigns the id.
func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	l := log.Ctx(ctx)

	model := MessageToModel(msg)
	if err := r.db.WithContext(ctx).Omit("Reactions").Create(model).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		l.Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to create message in db")
		return err
	}
	msg.CreatedAt = model.CreatedAt
	if msg.Reactions == nil {
		msg.Reactions = []domain.Reaction{}
	}
	return nil
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	return r.get(r.db.WithContext(ctx), id)
}

func (r *GormMessageRepository) get(db *gorm.DB, id string) (*domain.Message, error) {
	var model MessageModel
	err := db.Preload("Reactions", orderedReactions).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormMessageRepository) ListByRoom(ctx context.Context, roomID, before string, limit int) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	query := r.db.WithContext(ctx).
		Preload("Reactions", orderedReactions).
		Where("room_id = ?", roomID)
	if before != "" {
		query = query.Where("id < ?", before)
	}

	var models []MessageModel
	if err := query.Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to list messages from db")
		return nil, err
	}

	msgs := make([]domain.Message, len(models))
	for i := range models {
		msgs[i] = *models[i].ToDomain()
	}
	return msgs, nil
}

// ToggleReaction adds the reaction, or removes it if the user already
// reacted with the same emoji, and returns the resulting list in arrival
// order. It reports whether the reaction was added.
func (r *GormMessageRepository) ToggleReaction(ctx context.Context, messageID string, reaction domain.Reaction) ([]domain.Reaction, bool, error) {
	var (
		added  bool
		models []ReactionModel
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&MessageModel{}).Where("id = ?", messageID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}

		var existing []ReactionModel
		err := tx.Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, reaction.UserID, reaction.Emoji).
			Limit(1).Find(&existing).Error
		if err != nil {
			return err
		}

		if len(existing) > 0 {
			if err := tx.Delete(&existing[0]).Error; err != nil {
				return err
			}
		} else {
			err := tx.Create(&ReactionModel{
				MessageID:   messageID,
				UserID:      reaction.UserID,
				Emoji:       reaction.Emoji,
				DisplayName: reaction.DisplayName,
			}).Error
			if isDuplicate(err) {
				return ErrDuplicate
			}
			if err != nil {
				return err
			}
			added = true
		}

		return tx.Where("message_id = ?", messageID).Order("id").Find(&models).Error
	})
	if err != nil {
		return nil, false, err
	}
	return reactionsToDomain(models), added, nil
}

// UpdateContent replaces the content of a live message and marks it edited.
func (r *GormMessageRepository) UpdateContent(ctx context.Context, id, content string) (*domain.Message, error) {
	var msg *domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&MessageModel{}).
			Where("id = ? AND deleted = ?", id, false).
			Updates(map[string]interface{}{"content": content, "edited": true})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		var err error
		msg, err = r.get(tx, id)
		return err
	})
	return msg, err
}

// SoftDelete blanks the content and flags the message deleted. The row is
// kept so replies and history cursors stay valid.
func (r *GormMessageRepository) SoftDelete(ctx context.Context, id string) (*domain.Message, error) {
	var msg *domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&MessageModel{}).
			Where("id = ? AND deleted = ?", id, false).
			Updates(map[string]interface{}{"content": "", "deleted": true})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		var err error
		msg, err = r.get(tx, id)
		return err
	})
	return msg, err
}
