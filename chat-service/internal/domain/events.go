package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Events from client.
const (
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventSendMessage   = "send-message"
	EventAddReaction   = "add-reaction"
	EventTyping        = "typing"
	EventUpdateStatus  = "update-status"
	EventEditMessage   = "edit-message"
	EventDeleteMessage = "delete-message"
	EventOpenDirect    = "open-direct"
	EventPing          = "ping"
)

// Events to client.
const (
	EventOnlineUsersList   = "online-users-list"
	EventUserJoinedRoom    = "user-joined-room"
	EventUserLeftRoom      = "user-left-room"
	EventNewMessage        = "new-message"
	EventReactionUpdated   = "reaction-updated"
	EventUserTyping        = "user-typing"
	EventUserStatusChanged = "user-status-changed"
	EventError             = "error"
	EventSessionReady      = "session-ready"
	EventRoomHistory       = "room-history"
	EventMessageUpdated    = "message-updated"
	EventMessageDeleted    = "message-deleted"
	EventDirectRoom        = "direct-room"
	EventPong              = "pong"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds an outbound frame.
func Encode(event string, data interface{}) ([]byte, error) {
	frame := struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data,omitempty"`
	}{Event: event, Data: data}
	return json.Marshal(frame)
}

// Client -> Server payloads

// RoomRef accepts either a bare room id string or {"roomId": "..."}.
type RoomRef struct {
	RoomID string `json:"roomId"`
}

func (r *RoomRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.RoomID)
	}
	type plain RoomRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = RoomRef(p)
	return nil
}

type SendMessagePayload struct {
	RoomID      string      `json:"roomId"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	ReplyTo     string      `json:"replyTo,omitempty"`
}

type AddReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// StatusUpdatePayload accepts either a bare status string or
// {"status": "...", "achievement": {...}}.
type StatusUpdatePayload struct {
	Status      Status       `json:"status"`
	Achievement *Achievement `json:"achievement,omitempty"`
}

func (p *StatusUpdatePayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		p.Status = Status(strings.TrimSpace(s))
		return nil
	}
	type plain StatusUpdatePayload
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = StatusUpdatePayload(v)
	return nil
}

type EditMessagePayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
}

type OpenDirectPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// Server -> Client payloads

type RoomUserEvent struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type ReactionUpdatedEvent struct {
	MessageID string     `json:"messageId"`
	RoomID    string     `json:"roomId"`
	Reactions []Reaction `json:"reactions"`
}

type TypingEvent struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsTyping    bool   `json:"isTyping"`
}

type StatusChangedEvent struct {
	UserID      string       `json:"userId"`
	DisplayName string       `json:"displayName"`
	Status      Status       `json:"status"`
	Achievement *Achievement `json:"achievement,omitempty"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SessionReadyEvent struct {
	UserID      string   `json:"userId"`
	DisplayName string   `json:"displayName"`
	Rooms       []string `json:"rooms"`
}

type RoomHistoryEvent struct {
	RoomID     string    `json:"roomId"`
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"nextCursor,omitempty"`
	HasMore    bool      `json:"hasMore"`
}

type MessageDeletedEvent struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

// NewErrorEvent converts err into the frame sent to the originating client.
func NewErrorEvent(err error) *ErrorEvent {
	return &ErrorEvent{
		Code:    string(KindOf(err)),
		Message: PublicMessage(err),
	}
}
