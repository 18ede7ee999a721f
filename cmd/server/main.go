package main

// @title           Coach Service API
// @version         1.0
// @description     Coaching sessions, invoices and messaging with realtime change propagation.
// @BasePath        /api/v1
// @schemes         http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"coach-service/internal/adapters/kafka"
	"coach-service/internal/adapters/storage"
	"coach-service/internal/api/routes"
	"coach-service/internal/config"
	"coach-service/internal/database"
	"coach-service/internal/repositories/postgres"
	"coach-service/internal/services"
	"coach-service/internal/websocket"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting coach service")

	redisClient, err := database.NewRedisConnection(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := websocket.NewMetrics(registry)

	redisService := services.NewRedisService(redisClient)
	userRepo := postgres.NewUserRepository(db)
	authService := services.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.ExpirationTime)

	hubOpts := []websocket.HubOption{
		websocket.WithPresenceMirror(redisService),
		websocket.WithMetrics(metrics),
		websocket.WithSendBuffer(cfg.WebSocket.SendBuffer),
	}
	if cfg.WebSocket.RequireToken {
		hubOpts = append(hubOpts, websocket.WithTokenVerifier(authService))
	}
	hub := websocket.NewHub(hubOpts...)
	go hub.Run()

	var broadcastOpts []websocket.BroadcasterOption
	if cfg.Kafka.Enabled() {
		changeLog, err := kafka.InitChangeLog(cfg.Kafka.Brokers, cfg.Kafka.ChangeTopic)
		if err != nil {
			slog.Error("Failed to start Kafka change log", "error", err)
			os.Exit(1)
		}
		defer changeLog.Close()
		broadcastOpts = append(broadcastOpts, websocket.WithChangeSink(changeLog))
	}
	broadcaster := websocket.NewHubBroadcaster(hub, broadcastOpts...)

	invoiceService := services.NewInvoiceService(postgres.NewInvoiceRepository(db), userRepo, redisService, broadcaster)
	if cfg.Storage.Enabled() {
		documents, err := storage.NewMinIOStore(context.Background(), cfg.Storage)
		if err != nil {
			slog.Error("Failed to connect to MinIO", "error", err)
			os.Exit(1)
		}
		invoiceService.WithDocuments(documents)
	}

	router := routes.NewRouter(routes.Dependencies{
		Hub:           hub,
		Upgrader:      websocket.NewUpgrader(cfg.Server.AllowedOrigins),
		Auth:          authService,
		Sessions:      services.NewSessionService(postgres.NewSessionRepository(db), userRepo, broadcaster),
		Invoices:      invoiceService,
		Conversations: services.NewConversationService(postgres.NewConversationRepository(db), userRepo, broadcaster),
		Presence:      redisService,
		RateLimiter:   redisService,
		Gatherer:      registry,
		HealthCheck: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.PingContext(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		},
	}, routes.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		RequireWSToken:   cfg.WebSocket.RequireToken,
		RateLimitRequest: cfg.RateLimit.Requests,
		RateLimitWindow:  cfg.RateLimit.Window,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting requests first so no write commits after the hub is gone.
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	hub.Stop()

	slog.Info("Server stopped")
}
