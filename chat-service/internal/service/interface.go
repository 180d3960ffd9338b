package service

import (
	"context"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/hub"
)

// ChatService drives one websocket connection from authentication to
// disconnect.
type ChatService interface {
	HandleConnect(ctx context.Context, client *hub.Client, token string) error
	HandleMessage(client *hub.Client, raw []byte)
	HandleDisconnect(client *hub.Client)
	// TriggerPresence schedules a local online-users-list emission after a
	// change on another instance. offlineUserID is set when that change took
	// the user offline.
	TriggerPresence(offlineUserID string)
	SetNotifier(n PresenceNotifier)
	Start(ctx context.Context) error
	Stop() error
}

// PresenceNotifier tells other instances that presence changed.
// offlineUserID is empty unless the change marked that user offline.
type PresenceNotifier interface {
	NotifyPresenceChanged(offlineUserID string)
}
