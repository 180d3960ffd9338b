package domain

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// ClientSettable reports whether a client may request the status directly.
// Offline is only ever set by the server on disconnect or reconciliation.
func (s Status) ClientSettable() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy:
		return true
	}
	return false
}

// PresenceEntry is the shared record of one user's presence. There is at
// most one per user.
type PresenceEntry struct {
	UserID        string       `json:"userId"`
	DisplayName   string       `json:"displayName"`
	ConnectionID  string       `json:"-"`
	Status        Status       `json:"status"`
	CurrentRoomID string       `json:"currentRoomId,omitempty"`
	LastSeen      time.Time    `json:"lastSeen"`
	Achievement   *Achievement `json:"achievement,omitempty"`
}

type AchievementType string

const (
	AchievementStreak        AchievementType = "streak"
	AchievementMilestone     AchievementType = "milestone"
	AchievementGoalCompleted AchievementType = "goal_completed"
)

// Achievement is a tagged variant keyed by Type. Only the fields of the
// variant named by Type may be set.
//
//	streak:         days
//	milestone:      name, count
//	goal_completed: goalId, title
type Achievement struct {
	Type   AchievementType `json:"type"`
	Days   int             `json:"days,omitempty"`
	Name   string          `json:"name,omitempty"`
	Count  int             `json:"count,omitempty"`
	GoalID string          `json:"goalId,omitempty"`
	Title  string          `json:"title,omitempty"`
}

func (a *Achievement) Validate() error {
	switch a.Type {
	case AchievementStreak:
		if a.Days <= 0 {
			return Validation("streak achievement requires days > 0")
		}
		if a.Name != "" || a.Count != 0 || a.GoalID != "" || a.Title != "" {
			return Validation("streak achievement only carries days")
		}
	case AchievementMilestone:
		if a.Name == "" || a.Count <= 0 {
			return Validation("milestone achievement requires name and count > 0")
		}
		if a.Days != 0 || a.GoalID != "" || a.Title != "" {
			return Validation("milestone achievement only carries name and count")
		}
	case AchievementGoalCompleted:
		if a.GoalID == "" || a.Title == "" {
			return Validation("goal_completed achievement requires goalId and title")
		}
		if a.Days != 0 || a.Name != "" || a.Count != 0 {
			return Validation("goal_completed achievement only carries goalId and title")
		}
	default:
		return Validation(fmt.Sprintf("unknown achievement type %q", a.Type))
	}
	return nil
}
