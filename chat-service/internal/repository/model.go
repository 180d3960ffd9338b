package repository

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/database"
)

// PresenceModel is the GORM model for presence_entries. user_id is the
// primary key, so a user can never have two rows.
type PresenceModel struct {
	UserID        string                             `gorm:"primaryKey;size:64"`
	DisplayName   string                             `gorm:"size:128"`
	ConnectionID  string                             `gorm:"size:64"`
	Status        string                             `gorm:"size:16;index"`
	CurrentRoomID *string                            `gorm:"size:64"`
	LastSeen      time.Time                          `gorm:"index"`
	Achievement   database.JSON[domain.Achievement] `gorm:"type:text"`
	UpdatedAt     time.Time
}

func (PresenceModel) TableName() string { return "presence_entries" }

func (m *PresenceModel) ToDomain() *domain.PresenceEntry {
	e := &domain.PresenceEntry{
		UserID:       m.UserID,
		DisplayName:  m.DisplayName,
		ConnectionID: m.ConnectionID,
		Status:       domain.Status(m.Status),
		LastSeen:     m.LastSeen,
		Achievement:  m.Achievement.V,
	}
	if m.CurrentRoomID != nil {
		e.CurrentRoomID = *m.CurrentRoomID
	}
	return e
}

// RoomModel is the GORM model for rooms. DirectKey is only set for direct
// rooms; the unique index makes concurrent creation of the same pair fail.
type RoomModel struct {
	ID            string             `gorm:"primaryKey;size:36"`
	Name          string             `gorm:"size:255"`
	Kind          string             `gorm:"size:16;index"`
	CreatorID     string             `gorm:"size:64"`
	DirectKey     *string            `gorm:"size:255;uniqueIndex"`
	LastActivity  time.Time          `gorm:"index"`
	LastMessageID string             `gorm:"size:32"`
	Participants  []ParticipantModel `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (RoomModel) TableName() string { return "rooms" }

type ParticipantModel struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	RoomID      string    `gorm:"size:36;uniqueIndex:idx_room_participant"`
	UserID      string    `gorm:"size:64;uniqueIndex:idx_room_participant;index:idx_participant_user"`
	DisplayName string    `gorm:"size:128"`
	Role        string    `gorm:"size:16"`
	JoinedAt    time.Time
}

func (ParticipantModel) TableName() string { return "room_participants" }

func (m *RoomModel) ToDomain() *domain.Room {
	r := &domain.Room{
		ID:            m.ID,
		Name:          m.Name,
		Kind:          domain.RoomKind(m.Kind),
		CreatorID:     m.CreatorID,
		LastActivity:  m.LastActivity,
		LastMessageID: m.LastMessageID,
		CreatedAt:     m.CreatedAt,
		Participants:  make([]domain.Participant, len(m.Participants)),
	}
	for i, p := range m.Participants {
		r.Participants[i] = domain.Participant{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Role:        domain.Role(p.Role),
			JoinedAt:    p.JoinedAt,
		}
	}
	return r
}

func RoomToModel(r *domain.Room) *RoomModel {
	m := &RoomModel{
		ID:            r.ID,
		Name:          r.Name,
		Kind:          string(r.Kind),
		CreatorID:     r.CreatorID,
		LastActivity:  r.LastActivity,
		LastMessageID: r.LastMessageID,
		CreatedAt:     r.CreatedAt,
		Participants:  make([]ParticipantModel, len(r.Participants)),
	}
	if r.Kind == domain.RoomDirect {
		key := r.Name
		m.DirectKey = &key
	}
	for i, p := range r.Participants {
		m.Participants[i] = ParticipantModel{
			RoomID:      r.ID,
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Role:        string(p.Role),
			JoinedAt:    p.JoinedAt,
		}
	}
	return m
}

type MessageModel struct {
	ID                string          `gorm:"primaryKey;size:26"`
	RoomID            string          `gorm:"size:36;index:idx_messages_room"`
	SenderID          string          `gorm:"size:64;index"`
	SenderDisplayName string          `gorm:"size:128"`
	Content           string          `gorm:"type:text"`
	Type              string          `gorm:"size:16"`
	ReplyTo           *string         `gorm:"size:26"`
	Edited            bool
	Deleted           bool
	Reactions         []ReactionModel `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (MessageModel) TableName() string { return "messages" }

type ReactionModel struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	MessageID   string    `gorm:"size:26;uniqueIndex:idx_reaction_unique"`
	UserID      string    `gorm:"size:64;uniqueIndex:idx_reaction_unique"`
	Emoji       string    `gorm:"size:64;uniqueIndex:idx_reaction_unique"`
	DisplayName string    `gorm:"size:128"`
	CreatedAt   time.Time
}

func (ReactionModel) TableName() string { return "message_reactions" }

func (m *MessageModel) ToDomain() *domain.Message {
	msg := &domain.Message{
		ID:                m.ID,
		RoomID:            m.RoomID,
		SenderID:          m.SenderID,
		SenderDisplayName: m.SenderDisplayName,
		Content:           m.Content,
		Type:              domain.MessageType(m.Type),
		Edited:            m.Edited,
		Deleted:           m.Deleted,
		CreatedAt:         m.CreatedAt,
		Reactions:         reactionsToDomain(m.Reactions),
	}
	if m.ReplyTo != nil {
		msg.ReplyTo = *m.ReplyTo
	}
	return msg
}

func MessageToModel(msg *domain.Message) *MessageModel {
	m := &MessageModel{
		ID:                msg.ID,
		RoomID:            msg.RoomID,
		SenderID:          msg.SenderID,
		SenderDisplayName: msg.SenderDisplayName,
		Content:           msg.Content,
		Type:              string(msg.Type),
		Edited:            msg.Edited,
		Deleted:           msg.Deleted,
		CreatedAt:         msg.CreatedAt,
	}
	if msg.ReplyTo != "" {
		replyTo := msg.ReplyTo
		m.ReplyTo = &replyTo
	}
	return m
}

func reactionsToDomain(models []ReactionModel) []domain.Reaction {
	out := make([]domain.Reaction, len(models))
	for i, r := range models {
		out[i] = domain.Reaction{
			UserID:      r.UserID,
			DisplayName: r.DisplayName,
			Emoji:       r.Emoji,
			CreatedAt:   r.CreatedAt,
		}
	}
	return out
}

// Models lists every table for auto-migration.
func Models() []interface{} {
	return []interface{}{
		&PresenceModel{},
		&RoomModel{},
		&ParticipantModel{},
		&MessageModel{},
		&ReactionModel{},
	}
}

// isDuplicate reports a unique-constraint violation. TranslateError covers
// the drivers that support it; the message checks cover the rest.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "Duplicate entry")
}
