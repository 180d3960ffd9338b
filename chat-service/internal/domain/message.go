package domain

import "time"

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// ClientSendable reports whether clients may send messages of this type.
func (t MessageType) ClientSendable() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

type Reaction struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Emoji       string    `json:"emoji"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Message struct {
	ID                string      `json:"id"`
	RoomID            string      `json:"roomId"`
	SenderID          string      `json:"senderId"`
	SenderDisplayName string      `json:"senderDisplayName"`
	Content           string      `json:"content"`
	Type              MessageType `json:"messageType"`
	ReplyTo           string      `json:"replyTo,omitempty"`
	Edited            bool        `json:"edited"`
	Deleted           bool        `json:"deleted"`
	Reactions         []Reaction  `json:"reactions"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// ToggleReaction removes the (userId, emoji) pair if present, otherwise
// appends r. It reports whether r was added.
func ToggleReaction(list []Reaction, r Reaction) ([]Reaction, bool) {
	for i, existing := range list {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			out := make([]Reaction, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...), false
		}
	}
	out := make([]Reaction, 0, len(list)+1)
	out = append(out, list...)
	return append(out, r), true
}
