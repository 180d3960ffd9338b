package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/membership"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/presence"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/relay"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
	"github.com/weiawesome/wes-io-chat/pkg/response"
)

const defaultPublicLimit = 50

type participantRequest struct {
	UserID      string `json:"userId" binding:"required"`
	DisplayName string `json:"displayName"`
}

type createRoomRequest struct {
	Name         string               `json:"name" binding:"required"`
	Kind         domain.RoomKind      `json:"kind"`
	Participants []participantRequest `json:"participants"`
}

// Handler serves the REST API next to the websocket endpoint.
type Handler struct {
	members  *membership.Service
	relay    *relay.Relay
	presence *presence.Registry
	verifier middleware.TokenVerifier
}

func NewHandler(members *membership.Service, r *relay.Relay, reg *presence.Registry, verifier middleware.TokenVerifier) *Handler {
	return &Handler{
		members:  members,
		relay:    r,
		presence: reg,
		verifier: verifier,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", middleware.RequireAuth(h.verifier))
	{
		api.GET("/presence/online", h.ListOnline)

		rooms := api.Group("/rooms")
		{
			rooms.GET("", h.ListRooms)
			rooms.POST("", h.CreateRoom)
			rooms.POST("/direct", h.OpenDirect)
			rooms.GET("/:room_id", h.GetRoom)
			rooms.POST("/:room_id/participants", h.AddParticipant)
			rooms.GET("/:room_id/messages", h.ListMessages)
		}
	}
}

func identity(c *gin.Context) domain.Identity {
	return domain.Identity{
		UserID:      middleware.GetUserID(c),
		DisplayName: middleware.GetUsername(c),
	}
}

// writeError maps a domain error onto an HTTP status.
func writeError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	msg := domain.PublicMessage(err)

	switch kind {
	case domain.KindUnauthenticated:
		response.Unauthorized(c, msg)
	case domain.KindNotAuthorized:
		response.Forbidden(c, msg)
	case domain.KindNotFound:
		response.NotFound(c, msg)
	case domain.KindBadRequest:
		response.BadRequest(c, msg)
	case domain.KindValidation:
		response.Error(c, http.StatusBadRequest, string(kind), msg)
	case domain.KindRateLimited:
		response.Error(c, http.StatusTooManyRequests, string(kind), msg)
	case domain.KindTransientStore:
		logFailure(c, err)
		response.Error(c, http.StatusServiceUnavailable, string(kind), msg)
	default:
		logFailure(c, err)
		response.InternalError(c, msg)
	}
}

func logFailure(c *gin.Context, err error) {
	l := log.Ctx(c.Request.Context())
	l.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
}

// ListOnline returns the users currently online.
func (h *Handler) ListOnline(c *gin.Context) {
	entries, err := h.presence.ListOnline(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.PresenceEntry{}
	}
	response.Success(c, entries)
}

// ListRooms lists the caller's rooms, or public rooms with ?scope=public.
func (h *Handler) ListRooms(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		rooms []domain.Room
		err   error
	)
	if c.Query("scope") == "public" {
		limit := queryInt(c, "limit", defaultPublicLimit)
		rooms, err = h.members.PublicRooms(ctx, limit)
	} else {
		rooms, err = h.members.RoomsFor(ctx, middleware.GetUserID(c))
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if rooms == nil {
		rooms = []domain.Room{}
	}
	response.Success(c, rooms)
}

func (h *Handler) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind create room request")
		response.BadRequest(c, err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = domain.RoomPublic
	}

	members := make([]domain.Identity, 0, len(req.Participants))
	for _, p := range req.Participants {
		members = append(members, domain.Identity{UserID: p.UserID, DisplayName: p.DisplayName})
	}

	room, err := h.members.CreateRoom(ctx, identity(c), req.Name, req.Kind, members)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, room)
}

func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.members.Get(c.Request.Context(), c.Param("room_id"), middleware.GetUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, room)
}

func (h *Handler) AddParticipant(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	room, err := h.members.AddParticipant(c.Request.Context(), identity(c), c.Param("room_id"),
		domain.Identity{UserID: req.UserID, DisplayName: req.DisplayName})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, room)
}

// OpenDirect returns the caller's direct room with another user.
func (h *Handler) OpenDirect(c *gin.Context) {
	var req participantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	room, err := h.members.CreateOrGetDirect(c.Request.Context(), identity(c),
		domain.Identity{UserID: req.UserID, DisplayName: req.DisplayName})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, room)
}

// ListMessages pages backwards through a room's history.
func (h *Handler) ListMessages(c *gin.Context) {
	page, err := h.relay.History(c.Request.Context(), identity(c), c.Param("room_id"),
		c.Query("before"), queryInt(c, "limit", 0))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, page)
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
