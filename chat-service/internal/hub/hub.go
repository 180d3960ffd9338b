package hub

import (
	"sort"
	"sync"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/metrics"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Forwarder relays broadcasts to the other service instances.
type Forwarder interface {
	ForwardRoom(roomID string, frame []byte, exclude string)
	ForwardAll(frame []byte)
}

// Hub is the registry of local connections and of the broadcast group of
// every room. All membership changes happen under its lock.
type Hub struct {
	clients   map[string]*Client            // clientID -> client
	rooms     map[string]map[string]*Client // roomID -> clientID -> client
	users     map[string]map[string]*Client // userID -> clientID -> client
	forwarder Forwarder
	mu        sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		users:   make(map[string]map[string]*Client),
	}
}

// SetForwarder enables cross-instance fan-out. It must be called before
// clients connect.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forwarder = f
}

// Register adds an authenticated client.
func (h *Hub) Register(client *Client) {
	userID := client.Session.GetUserID()

	h.mu.Lock()
	h.clients[client.ID] = client
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[string]*Client)
	}
	h.users[userID][client.ID] = client
	h.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	l := log.Ctx(client.Context())
	l.Debug().Msg("client registered")
}

// Unregister removes the client from every broadcast group and closes its
// outbound queue. It returns the rooms the client was in.
func (h *Hub) Unregister(client *Client) []string {
	h.mu.Lock()
	var rooms []string
	if _, ok := h.clients[client.ID]; ok {
		for roomID, members := range h.rooms {
			if _, in := members[client.ID]; in {
				rooms = append(rooms, roomID)
				delete(members, client.ID)
				if len(members) == 0 {
					delete(h.rooms, roomID)
				}
			}
		}
		userID := client.Session.GetUserID()
		if conns, ok := h.users[userID]; ok {
			delete(conns, client.ID)
			if len(conns) == 0 {
				delete(h.users, userID)
			}
		}
		delete(h.clients, client.ID)
		metrics.ConnectionsActive.Dec()
	}
	h.mu.Unlock()

	client.closeSend()
	sort.Strings(rooms)

	l := log.Ctx(client.Context())
	l.Debug().Int("rooms", len(rooms)).Msg("client unregistered")
	return rooms
}

// JoinRoom adds the client to the room's broadcast group and reports whether
// it was newly added. Unregistered clients are ignored.
func (h *Hub) JoinRoom(client *Client, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.joinLocked(client, roomID)
}

func (h *Hub) joinLocked(client *Client, roomID string) bool {
	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	if _, in := members[client.ID]; in {
		return false
	}
	members[client.ID] = client
	return true
}

// JoinUser adds every local connection of userID to the room and returns
// the clients that were newly added.
func (h *Hub) JoinUser(userID, roomID string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	var joined []*Client
	for _, c := range h.users[userID] {
		if h.joinLocked(c, roomID) {
			joined = append(joined, c)
		}
	}
	return joined
}

// LeaveRoom removes the client from the room and reports whether it was in.
func (h *Hub) LeaveRoom(client *Client, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	if _, in := members[client.ID]; !in {
		return false
	}
	delete(members, client.ID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
	return true
}

func (h *Hub) InRoom(client *Client, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][client.ID]
	return ok
}

// RoomSize returns the number of local connections in the room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) ClientsForUser(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// LiveConnectionIDs returns the ids of all registered local connections.
func (h *Hub) LiveConnectionIDs() map[string]struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make(map[string]struct{}, len(h.clients))
	for id := range h.clients {
		ids[id] = struct{}{}
	}
	return ids
}

// BroadcastToRoom sends an event to every member of the room, on this and
// other instances, except the connection named by exclude.
func (h *Hub) BroadcastToRoom(roomID, event string, data interface{}, exclude string) error {
	frame, err := domain.Encode(event, data)
	if err != nil {
		return err
	}

	h.DeliverRoom(roomID, frame, exclude)

	h.mu.RLock()
	f := h.forwarder
	h.mu.RUnlock()
	if f != nil {
		f.ForwardRoom(roomID, frame, exclude)
	}
	return nil
}

// BroadcastAll sends an event to every connection on every instance.
func (h *Hub) BroadcastAll(event string, data interface{}) error {
	frame, err := domain.Encode(event, data)
	if err != nil {
		return err
	}

	h.DeliverAll(frame)

	h.mu.RLock()
	f := h.forwarder
	h.mu.RUnlock()
	if f != nil {
		f.ForwardAll(frame)
	}
	return nil
}

// DeliverRoom queues a frame for the local members of a room only.
func (h *Hub) DeliverRoom(roomID string, frame []byte, exclude string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for clientID, client := range h.rooms[roomID] {
		if clientID == exclude {
			continue
		}
		client.Enqueue(frame)
	}
}

// DeliverAll queues a frame for every local connection only.
func (h *Hub) DeliverAll(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		client.Enqueue(frame)
	}
}
