package pubsub

// Default channel shared by every chat-service instance.
const ChannelChatBus = "chat:bus"

// Event types carried on the chat bus.
const (
	// EventRoomBroadcast delivers Payload to the local members of RoomID,
	// skipping the connection named by Exclude.
	EventRoomBroadcast = "room_broadcast"

	// EventAllBroadcast delivers Payload to every local connection.
	EventAllBroadcast = "all_broadcast"

	// EventPresenceChanged asks every instance to schedule a presence snapshot.
	EventPresenceChanged = "presence_changed"
)
