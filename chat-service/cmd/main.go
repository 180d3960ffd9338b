package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weiawesome/wes-io-chat/chat-service/internal/cluster"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/handler"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/idgen"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/kafka"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/membership"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/presence"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/registry"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/relay"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/repository"
	"github.com/weiawesome/wes-io-chat/chat-service/internal/service"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	"github.com/weiawesome/wes-io-chat/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "chat-service",
	})
	logger := pkglog.L()

	instanceID := uuid.New().String()

	// Connect to database using GORM
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db, repository.Models()...); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	verifier, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token verifier")
	}

	// Repositories
	presenceRepo := repository.NewGormPresenceRepository(db)
	roomRepo := repository.NewGormRoomRepository(db)
	messageRepo := repository.NewGormMessageRepository(db)

	// Message event sink
	var sink kafka.EventSink = kafka.NoopSink{}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize kafka producer")
		}
		sink = producer
		logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka producer connected")
	}
	defer sink.Close()

	// Live-connection registry and cluster bus
	wsHub := hub.NewHub()
	var (
		liveRegistry registry.Registry = registry.NewLocalRegistry()
		bus          *cluster.Bus
		redisPubSub  *pubsub.RedisPubSub
	)
	if cfg.Redis.Enabled {
		client, err := pubsub.NewRedisClient(cfg.Redis.Client())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()

		liveRegistry = registry.NewRedisRegistry(client, cfg.Redis, instanceID)
		redisPubSub = pubsub.NewRedisPubSub(client)
		logger.Info().Str("address", cfg.Redis.Address).Msg("redis connected")
	}

	presenceRegistry := presence.NewRegistry(presenceRepo, cfg.Presence.StoreTimeout)
	members := membership.NewService(roomRepo, presenceRegistry, wsHub, cfg.Presence.StoreTimeout)
	messageRelay := relay.NewRelay(messageRepo, roomRepo, members, wsHub, idgen.NewULIDGenerator(), sink, cfg.Relay, cfg.Presence.StoreTimeout)

	chatSvc := service.NewChatService(service.Deps{
		Hub:      wsHub,
		Verifier: verifier,
		Presence: presenceRegistry,
		Members:  members,
		Relay:    messageRelay,
		Registry: liveRegistry,
	}, cfg.Presence)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if redisPubSub != nil {
		bus = cluster.NewBus(redisPubSub, cfg.Redis.Channel, instanceID, wsHub, chatSvc.TriggerPresence)
		if err := bus.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start cluster bus")
		}
		wsHub.SetForwarder(bus)
		chatSvc.SetNotifier(bus)
	}

	if err := chatSvc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start chat service")
	}

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": wsHub.Count()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.NewHandler(members, messageRelay, presenceRegistry, verifier).RegisterRoutes(r)
	handler.NewWSHandler(wsHub, chatSvc, cfg.WebSocket).RegisterRoutes(r)

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Str("instance_id", instanceID).Bool("cluster", bus != nil).Msg("chat-service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down chat-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}

	// Disconnect clients while the bus can still carry their departure.
	if err := chatSvc.Stop(); err != nil {
		logger.Warn().Err(err).Msg("failed to stop chat service")
	}
	if bus != nil {
		bus.Stop()
		redisPubSub.Close()
	}

	logger.Info().Msg("chat-service stopped")
}
