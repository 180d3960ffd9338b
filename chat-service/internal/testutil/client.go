package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/hub"
)

// NewClient registers an authenticated client without a socket. Frames sent
// to it stay in its Send queue.
func NewClient(t testing.TB, h *hub.Hub, connID string, id domain.Identity) *hub.Client {
	t.Helper()

	c := hub.NewClient(connID, h, nil, config.WebSocketConfig{SendBuffer: 64, EventsPerSecond: 1000, EventBurst: 1000})
	require.True(t, c.Session.BeginAuth())
	require.True(t, c.Session.Activate(id))
	c.BindUser(id.UserID)
	h.Register(c)
	return c
}

// Drain returns every queued frame without blocking.
func Drain(c *hub.Client) []domain.Envelope {
	var out []domain.Envelope
	for {
		select {
		case frame, ok := <-c.Send:
			if !ok {
				return out
			}
			var env domain.Envelope
			if err := json.Unmarshal(frame, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

// Events lists the event names of envs in order.
func Events(envs []domain.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Event)
	}
	return out
}

// Find returns the first envelope with the event name.
func Find(envs []domain.Envelope, event string) (domain.Envelope, bool) {
	for _, e := range envs {
		if e.Event == event {
			return e, true
		}
	}
	return domain.Envelope{}, false
}
