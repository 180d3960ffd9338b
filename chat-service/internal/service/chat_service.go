package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/audit"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/membership"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/metrics"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/presence"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/registry"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/relay"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/scheduler"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
)

type chatService struct {
	hub      *hub.Hub
	verifier middleware.TokenVerifier
	presence *presence.Registry
	members  *membership.Service
	relay    *relay.Relay
	registry registry.Registry
	notifier PresenceNotifier

	scheduler *scheduler.Scheduler
	ticker    *scheduler.Ticker
	timeout   time.Duration
	started   bool
}

// Deps groups the collaborators of the chat service.
type Deps struct {
	Hub      *hub.Hub
	Verifier middleware.TokenVerifier
	Presence *presence.Registry
	Members  *membership.Service
	Relay    *relay.Relay
	Registry registry.Registry
	// Notifier is nil when running as a single instance.
	Notifier PresenceNotifier
}

func NewChatService(deps Deps, cfg config.PresenceConfig) ChatService {
	s := &chatService{
		hub:      deps.Hub,
		verifier: deps.Verifier,
		presence: deps.Presence,
		members:  deps.Members,
		relay:    deps.Relay,
		registry: deps.Registry,
		notifier: deps.Notifier,
		timeout:  cfg.StoreTimeout,
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	s.scheduler = scheduler.New(cfg.Debounce, cfg.MinInterval, s.emitPresence)
	s.ticker = scheduler.NewTicker(s.scheduler, cfg.ReconcileInterval)
	return s
}

// SetNotifier installs the cluster notifier after construction, for wiring
// where the notifier itself depends on the service.
func (s *chatService) SetNotifier(n PresenceNotifier) {
	s.notifier = n
}

func (s *chatService) HandleConnect(ctx context.Context, c *hub.Client, token string) error {
	if !c.Session.BeginAuth() {
		return domain.BadRequest("connection already authenticated")
	}

	id, err := s.authenticate(token)
	if err != nil {
		c.Session.Reject()
		metrics.ConnectionsRejected.Inc()
		audit.LogWithDetail(ctx, audit.ActionAuthFailed, "", c.ID, err.Error(), "websocket authentication failed")
		return err
	}

	c.Session.Activate(id)
	c.BindUser(id.UserID)
	ctx = c.Context()
	l := log.Ctx(ctx)

	s.hub.Register(c)
	if err := s.registry.Register(ctx, c.ID, id.UserID); err != nil {
		l.Warn().Err(err).Msg("failed to register live connection, will retry")
		c.Session.SetPresencePending(true)
	}

	if _, err := s.presence.MarkOnline(ctx, id, c.ID); err != nil {
		metrics.PresenceStoreFailures.WithLabelValues("mark_online").Inc()
		l.Warn().Err(err).Msg("failed to mark user online, will retry")
		c.Session.SetPresencePending(true)
	}

	rooms, err := s.members.AutoJoin(ctx, c)
	if err != nil {
		l.Warn().Err(err).Msg("failed to join participating rooms")
	}
	if rooms == nil {
		rooms = []string{}
	}

	if err := c.SendMessage(domain.EventSessionReady, domain.SessionReadyEvent{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Rooms:       rooms,
	}); err != nil {
		l.Warn().Err(err).Msg("failed to queue session-ready")
	}

	audit.Log(ctx, audit.ActionConnect, id.UserID, c.ID, "websocket connected")
	l.Info().Str(log.FieldUsername, id.DisplayName).Int("rooms", len(rooms)).Msg("client authenticated")

	s.notifyPresence("")
	return nil
}

func (s *chatService) authenticate(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, domain.Unauthenticated("missing token", jwt.ErrMissingToken)
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrExpiredToken) {
			msg = "token expired"
		}
		return domain.Identity{}, domain.Unauthenticated(msg, err)
	}
	if claims.Subject() == "" {
		return domain.Identity{}, domain.Unauthenticated("token has no subject", jwt.ErrInvalidToken)
	}
	return domain.Identity{UserID: claims.Subject(), DisplayName: claims.DisplayName()}, nil
}

// HandleDisconnect runs the cleanup for an active connection exactly once,
// whatever ended it. Store calls use a context detached from the connection.
func (s *chatService) HandleDisconnect(c *hub.Client) {
	if !c.Session.Disconnect() {
		s.hub.Unregister(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.timeout)
	defer cancel()
	l := log.Ctx(ctx)

	id := c.Session.GetIdentity()
	explicit := c.Session.ExplicitRooms()
	s.hub.Unregister(c)

	for _, roomID := range explicit {
		if err := s.hub.BroadcastToRoom(roomID, domain.EventUserLeftRoom, domain.RoomUserEvent{
			RoomID:      roomID,
			UserID:      id.UserID,
			DisplayName: id.DisplayName,
		}, ""); err != nil {
			l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to announce leave")
		}
	}

	if err := s.registry.Deregister(ctx, c.ID); err != nil {
		l.Warn().Err(err).Msg("failed to deregister live connection")
	}

	if err := s.presence.MarkOffline(ctx, id.UserID); err != nil {
		metrics.PresenceStoreFailures.WithLabelValues("mark_offline").Inc()
		l.Warn().Err(err).Msg("failed to mark user offline")
	}
	// The user may still be connected here through another socket.
	for _, other := range s.hub.ClientsForUser(id.UserID) {
		other.Session.SetPresencePending(true)
	}

	audit.Log(ctx, audit.ActionDisconnect, id.UserID, c.ID, "websocket disconnected")
	l.Info().Msg("client disconnected")

	s.notifyPresence(id.UserID)
}

// TriggerPresence applies a presence change made on another instance. A
// non-empty offlineUserID was just marked offline there, so local sessions
// of that user rewrite their entry at the next emission.
func (s *chatService) TriggerPresence(offlineUserID string) {
	if offlineUserID != "" {
		for _, c := range s.hub.ClientsForUser(offlineUserID) {
			c.Session.SetPresencePending(true)
		}
	}
	s.scheduler.Trigger()
}

func (s *chatService) notifyPresence(offlineUserID string) {
	s.scheduler.Trigger()
	if s.notifier != nil {
		s.notifier.NotifyPresenceChanged(offlineUserID)
	}
}

// emitPresence retries deferred presence writes, sweeps entries whose
// connection is gone and sends the online list to every local connection.
func (s *chatService) emitPresence(at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	l := log.Ctx(ctx)

	restored := 0
	for _, c := range s.hub.Clients() {
		if !c.Session.IsActive() || !c.Session.PresencePending() {
			continue
		}
		id := c.Session.GetIdentity()
		if err := s.registry.Register(ctx, c.ID, id.UserID); err != nil {
			l.Warn().Err(err).Str(log.FieldConnID, c.ID).Msg("deferred registry write failed")
			continue
		}
		if _, err := s.presence.MarkOnline(ctx, id, c.ID); err != nil {
			metrics.PresenceStoreFailures.WithLabelValues("mark_online").Inc()
			l.Warn().Err(err).Str(log.FieldConnID, c.ID).Msg("deferred presence write failed")
			continue
		}
		c.Session.SetPresencePending(false)
		restored++
	}
	// Other instances may already have emitted the user as offline.
	if restored > 0 && s.notifier != nil {
		s.notifier.NotifyPresenceChanged("")
	}

	if err := s.reconcile(ctx); err != nil {
		l.Warn().Err(err).Msg("presence reconcile skipped")
	}

	entries, err := s.presence.ListOnline(ctx)
	if err != nil {
		metrics.PresenceStoreFailures.WithLabelValues("list_online").Inc()
		l.Warn().Err(err).Msg("failed to list online users, emission skipped")
		return
	}
	if entries == nil {
		entries = []domain.PresenceEntry{}
	}

	frame, err := domain.Encode(domain.EventOnlineUsersList, entries)
	if err != nil {
		l.Error().Err(err).Msg("failed to encode online users list")
		return
	}
	s.hub.DeliverAll(frame)
	metrics.PresenceEmissions.Inc()

	l.Debug().Int("online", len(entries)).Time("at", at).Msg("presence emitted")
}

// reconcile marks offline every entry whose connection is not live on any
// instance.
func (s *chatService) reconcile(ctx context.Context) error {
	live, err := s.registry.LiveConnections(ctx)
	if err != nil {
		return fmt.Errorf("failed to read live connections: %w", err)
	}
	for connID := range s.hub.LiveConnectionIDs() {
		live[connID] = struct{}{}
	}

	n, err := s.presence.Reconcile(ctx, live)
	if err != nil {
		metrics.PresenceStoreFailures.WithLabelValues("reconcile").Inc()
		return err
	}
	if n > 0 {
		metrics.PresenceReconciled.Add(float64(n))
	}
	return nil
}

func (s *chatService) Start(ctx context.Context) error {
	if err := s.registry.StartHeartbeat(ctx); err != nil {
		return fmt.Errorf("failed to start registry heartbeat: %w", err)
	}

	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.reconcile(sweepCtx); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("startup presence sweep failed")
	}

	s.ticker.Start(ctx)
	s.started = true

	l := log.L()
	l.Info().Msg("chat service started")
	return nil
}

func (s *chatService) Stop() error {
	if s.started {
		s.ticker.Stop()
		<-s.ticker.Done()
	}

	for _, c := range s.hub.Clients() {
		s.HandleDisconnect(c)
		c.Close()
	}

	s.scheduler.Stop()
	s.registry.StopHeartbeat()
	if err := s.registry.Close(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to close live registry")
	}

	l := log.L()
	l.Info().Msg("chat service stopped")
	return nil
}
