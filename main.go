package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"chat-engine/internal/auth"
	"chat-engine/internal/config"
	"chat-engine/internal/db"
	"chat-engine/internal/grpcserver"
	"chat-engine/internal/handlers"
	"chat-engine/internal/logging"
	"chat-engine/internal/meet"
	"chat-engine/internal/middleware"
	"chat-engine/internal/observability"
	"chat-engine/internal/presence"
	"chat-engine/internal/rabbitmq"
	"chat-engine/internal/repositories"
	"chat-engine/internal/services"
	"chat-engine/internal/telemetry"
	"chat-engine/internal/ws"
)

type stores struct {
	sessions repositories.SessionRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	close    func() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.L().Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Log)
	log := logging.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, *log)

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Log.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	st, err := openStores(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	observability.SetPublisher(publisher)
	log.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Str("noop_reason", rabbitmq.PublisherNoopReason(publisher)).Msg("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.RoutingKey, cfg.Log.ServiceName, cfg.Server.Environment)

	registry := presence.NewRegistry(nil)
	hub := ws.NewHub(registry)
	registry.SetBroadcaster(hub)

	membership := services.NewMembershipManager(st.sessions, st.messages, hub, services.MembershipOptions{
		MaxRetries: cfg.Membership.MaxRetries,
		ClientURL:  cfg.Server.ClientURL,
		Audit:      audit,
	})
	broadcaster := services.NewBroadcaster(membership, st.messages, hub)
	sweeper := services.NewSweeper(membership, cfg.Membership.SweepInterval, cfg.Membership.SweepBatch)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, "")
	gateway := ws.NewGateway(hub, registry, membership, broadcaster, cfg.WS.EventTimeout)
	wsHandler := ws.NewHandler(hub, gateway, tokens, ws.ClientConfig{
		WriteWait:      cfg.WS.WriteWait,
		PongWait:       cfg.WS.PongWait,
		PingPeriod:     cfg.WS.PingPeriod,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		SendBuffer:     cfg.WS.SendBuffer,
	})

	var issuer handlers.RoomIssuer
	if cfg.Meet.Secret != "" {
		issuer = meet.NewIssuer(cfg.Meet.AppID, cfg.Meet.Secret, cfg.Meet.Domain, cfg.Meet.TTL, st.users)
	} else {
		log.Info().Msg("meeting tokens disabled: no meet secret")
	}

	if cfg.Server.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(otelgin.Middleware(cfg.Log.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(logging.GinMiddleware(*log))
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := st.sessions.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.ClientCount()})
	})

	authMiddleware := middleware.AuthMiddleware(tokens)
	api := router.Group("/api", authMiddleware)
	handlers.NewSessionHandler(membership, broadcaster).Register(api.Group("/chat"))
	api.GET("/presence", handlers.NewPresenceHandler(registry).Snapshot)
	api.POST("/meet/create", handlers.NewMeetHandler(issuer).Create)
	handlers.RegisterDebugRoutes(router, audit, cfg.Server.Environment == "dev")

	router.GET("/ws", wsHandler.Handle)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	health := grpcserver.NewHealthServer(st.sessions, 10*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return health.Serve(gctx, ":"+cfg.Server.GRPCPort)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("shutting down")
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(cleanupCtx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown failed")
	}
	if err := publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("rabbitmq close failed")
	}
	if err := st.close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
}

func openStores(ctx context.Context, cfg config.StoreConfig) (stores, error) {
	if cfg.Driver == "memory" {
		logging.Ctx(ctx).Warn().Msg("using in-memory store, data is lost on restart")
		mem := repositories.NewMemoryStore()
		return stores{sessions: mem, messages: mem, users: mem, close: func() error { return nil }}, nil
	}

	database, err := db.Connect(ctx, cfg.DSN)
	if err != nil {
		return stores{}, err
	}
	return stores{
		sessions: repositories.NewSessionRepo(database),
		messages: repositories.NewMessageRepo(database),
		users:    repositories.NewUserRepo(database),
		close:    database.Close,
	}, nil
}
