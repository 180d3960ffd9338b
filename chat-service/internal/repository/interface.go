package repository

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// PresenceRepository persists one presence row per user.
type PresenceRepository interface {
	Upsert(ctx context.Context, entry *domain.PresenceEntry) error
	MarkOffline(ctx context.Context, userID string, at time.Time) error
	MarkOfflineIfConnection(ctx context.Context, userID, connID string, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, userID string, status domain.Status, achievement *domain.Achievement) (*domain.PresenceEntry, error)
	SetCurrentRoom(ctx context.Context, userID, roomID string) error
	ClearCurrentRoom(ctx context.Context, userID, roomID string) error
	Get(ctx context.Context, userID string) (*domain.PresenceEntry, error)
	ListByStatus(ctx context.Context, status domain.Status) ([]domain.PresenceEntry, error)
	ListNotOffline(ctx context.Context) ([]domain.PresenceEntry, error)
}

// RoomRepository persists rooms and their participants.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id string) (*domain.Room, error)
	GetByDirectKey(ctx context.Context, key string) (*domain.Room, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Room, error)
	ListPublic(ctx context.Context, limit int) ([]domain.Room, error)
	AddParticipant(ctx context.Context, roomID string, p domain.Participant) error
	Touch(ctx context.Context, roomID, messageID string, at time.Time) error
}

// MessageRepository persists messages and their reactions.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	// ListByRoom returns up to limit messages with id < before (any id when
	// before is empty), newest first.
	ListByRoom(ctx context.Context, roomID, before string, limit int) ([]domain.Message, error)
	ToggleReaction(ctx context.Context, messageID string, r domain.Reaction) ([]domain.Reaction, bool, error)
	UpdateContent(ctx context.Context, id, content string) (*domain.Message, error)
	SoftDelete(ctx context.Context, id string) (*domain.Message, error)
}
