package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/metrics"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

const defaultSendBuffer = 256

var (
	ErrClientClosed  = errors.New("client closed")
	ErrSendQueueFull = errors.New("send queue full")
)

type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.Session
	config  config.WebSocketConfig
	limiter *rate.Limiter

	mu       sync.Mutex
	closed   bool
	evicting bool
	ctx      context.Context
}

// NewClient wraps an accepted socket. conn may be nil in tests, in which
// case frames are only queued on Send.
func NewClient(id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	size := cfg.SendBuffer
	if size <= 0 {
		size = defaultSendBuffer
	}

	limit := rate.Inf
	if cfg.EventsPerSecond > 0 {
		limit = rate.Limit(cfg.EventsPerSecond)
	}
	burst := cfg.EventBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		ID:      id,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, size),
		Session: domain.NewSession(id),
		config:  cfg,
		limiter: rate.NewLimiter(limit, burst),
		ctx:     log.WithConn(context.Background(), id, ""),
	}
}

// Context returns the connection-scoped context carrying its logger. It is
// never cancelled by the connection closing.
func (c *Client) Context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// BindUser tags the connection logger with the authenticated user.
func (c *Client) BindUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = log.WithConn(context.Background(), c.ID, userID)
}

// Allow reports whether the client may submit another event now.
func (c *Client) Allow() bool {
	return c.limiter.Allow()
}

func (c *Client) ReadPump(handler func(*Client, []byte), onDisconnect func(*Client)) {
	defer func() {
		onDisconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l := log.Ctx(c.Context())
				l.Warn().Err(err).Msg("websocket read error")
			}
			break
		}

		c.Session.UpdateActivity()
		handler(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues one event for this client only.
func (c *Client) SendMessage(event string, data interface{}) error {
	frame, err := domain.Encode(event, data)
	if err != nil {
		return err
	}
	return c.Enqueue(frame)
}

// SendError reports err to this client as an error frame.
func (c *Client) SendError(err error) error {
	e := domain.NewErrorEvent(err)
	metrics.EventErrors.WithLabelValues(e.Code).Inc()
	return c.SendMessage(domain.EventError, e)
}

// Enqueue adds a frame to the outbound queue without blocking. A client whose
// queue is full is evicted: its socket is closed, which runs the normal
// disconnect path from the read pump.
func (c *Client) Enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.Send <- frame:
		return nil
	default:
	}

	if !c.evicting {
		c.evicting = true
		metrics.ClientsEvicted.Inc()
		l := log.Ctx(c.ctx)
		l.Warn().Int("queue", cap(c.Send)).Msg("send queue full, evicting client")
		if c.Conn != nil {
			go c.Conn.Close()
		}
	}
	return ErrSendQueueFull
}

// Close closes the socket. The read pump then runs the disconnect path.
func (c *Client) Close() {
	if c.Conn != nil {
		c.Conn.Close()
	}
}

// closeSend closes the outbound queue once; the write pump then sends a
// close frame and exits.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
