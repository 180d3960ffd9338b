package domain

import (
	"sort"
	"sync"
	"time"
)

type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateActive
	StateRejected
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateRejected:
		return "rejected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is the per-connection state. It is created when the socket is
// accepted and discarded after the disconnect cleanup has run.
type Session struct {
	ID              string
	CreatedAt       time.Time
	state           SessionState
	identity        Identity
	rooms           map[string]bool // roomID -> joined explicitly
	presencePending bool
	lastActiveAt    time.Time
	mu              sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		state:        StateConnecting,
		rooms:        make(map[string]bool),
		lastActiveAt: now,
	}
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// BeginAuth moves a connecting session into authentication.
func (s *Session) BeginAuth() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return false
	}
	s.state = StateAuthenticating
	return true
}

// Activate binds the verified identity. It fails unless the session is
// authenticating.
func (s *Session) Activate(id Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticating {
		return false
	}
	s.identity = id
	s.state = StateActive
	s.lastActiveAt = time.Now()
	return true
}

func (s *Session) Reject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting || s.state == StateAuthenticating {
		s.state = StateRejected
	}
}

// Disconnect marks the session disconnected and reports whether it was
// active, i.e. whether presence cleanup is owed. Only the first call can
// return true.
func (s *Session) Disconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasActive := s.state == StateActive
	s.state = StateDisconnected
	return wasActive
}

func (s *Session) IsActive() bool {
	return s.State() == StateActive
}

func (s *Session) GetIdentity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) GetUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.UserID
}

func (s *Session) GetDisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.DisplayName
}

// AddRoom records a room. An explicit join upgrades an auto-join; an
// auto-join never downgrades an explicit one.
func (s *Session) AddRoom(roomID string, explicit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = s.rooms[roomID] || explicit
	s.lastActiveAt = time.Now()
}

// RemoveRoom forgets a room and reports whether the session was in it.
func (s *Session) RemoveRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.lastActiveAt = time.Now()
	return ok
}

func (s *Session) InRoom(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// JoinedExplicitly reports whether the room was joined with join-room.
func (s *Session) JoinedExplicitly(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID]
}

// Rooms returns every room the session is in, sorted.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ExplicitRooms returns the rooms joined with join-room, sorted.
func (s *Session) ExplicitRooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for id, explicit := range s.rooms {
		if explicit {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Session) SetPresencePending(pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presencePending = pending
}

func (s *Session) PresencePending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presencePending
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}

func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}
