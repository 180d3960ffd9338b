package domain

import (
	"fmt"
	"time"
)

type RoomKind string

const (
	RoomPublic  RoomKind = "public"
	RoomPrivate RoomKind = "private"
	RoomDirect  RoomKind = "direct"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type Participant struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type Room struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Kind          RoomKind      `json:"kind"`
	CreatorID     string        `json:"creatorId"`
	Participants  []Participant `json:"participants"`
	LastActivity  time.Time     `json:"lastActivity"`
	LastMessageID string        `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

func (r *Room) Participant(userID string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (r *Room) HasParticipant(userID string) bool {
	_, ok := r.Participant(userID)
	return ok
}

func (r *Room) IsAdmin(userID string) bool {
	p, ok := r.Participant(userID)
	return ok && p.Role == RoleAdmin
}

// CanAccess is the room authorization rule: anyone may use a public room,
// private and direct rooms are restricted to participants.
func (r *Room) CanAccess(userID string) bool {
	if r.Kind == RoomPublic {
		return true
	}
	return r.HasParticipant(userID)
}

// DirectRoomName is the canonical name of the direct room between two users.
// It does not depend on argument order.
func DirectRoomName(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("direct_%s_%s", a, b)
}
