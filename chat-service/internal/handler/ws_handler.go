package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/service"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub     *hub.Hub
	service service.ChatService
	wsCfg   config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
	}
}

// HandleWebSocket upgrades the request and authenticates the connection with
// the token from the query string or the Authorization header.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = middleware.BearerToken(c.GetHeader(middleware.AuthHeaderKey))
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)
	if err := h.service.HandleConnect(client.Context(), client, token); err != nil {
		h.reject(client, err)
		return
	}

	go client.WritePump()
	go client.ReadPump(h.service.HandleMessage, h.service.HandleDisconnect)
}

// reject reports the failure and closes the socket. The pumps never start.
func (h *WSHandler) reject(client *hub.Client, err error) {
	l := log.Ctx(client.Context())
	l.Info().Err(err).Msg("websocket connection rejected")

	wait := h.wsCfg.WriteWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	conn := client.Conn
	deadline := time.Now().Add(wait)
	if frame, encErr := domain.Encode(domain.EventError, domain.NewErrorEvent(err)); encErr == nil {
		conn.SetWriteDeadline(deadline)
		conn.WriteMessage(websocket.TextMessage, frame)
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, domain.PublicMessage(err)), deadline)
	conn.Close()
}

func (h *WSHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET(h.wsCfg.Path, h.HandleWebSocket)
}
