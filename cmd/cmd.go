package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"direct-messenger/internal/cipher"
	"direct-messenger/internal/config"
	"direct-messenger/internal/handlers"
	"direct-messenger/internal/middleware"
	"direct-messenger/internal/migrations"
	"direct-messenger/internal/repository"
	"direct-messenger/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	configPath := os.Getenv("MESSENGER_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	if err := migrations.Up(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	keyring, err := cipher.NewKeyringFromBase64(cfg.Crypto.KeyID, cfg.Crypto.Key, cfg.Crypto.RetiredKeys)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load message keys")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	friendRepo := repository.NewFriendRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	stickerRepo := repository.NewStickerRepository(db)

	// Initialize services
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	stickers, err := services.LoadStickerCatalog(context.Background(), stickerRepo)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load sticker catalog")
	}

	var policy services.SendPolicy = services.OpenPolicy{}
	if cfg.Messaging.FriendsOnly {
		policy = services.NewFriendPolicy(friendRepo)
	}

	presence := services.NewPresenceTracker(userRepo, cfg.Presence)
	hub := services.NewHub(services.DefaultClientBuffer, metrics)
	userService := services.NewUserService(userRepo, cfg.JWT.Secret, cfg.JWT.TokenTTL)
	messageService := services.NewMessageService(messageRepo, userRepo, policy, keyring, stickers, hub, metrics)
	friendService := services.NewFriendService(friendRepo, userRepo, presence, messageService)
	syncService := services.NewSyncService(messageService, presence)

	if cfg.Push.Enabled() {
		notifier, err := services.NewPushNotifier(cfg.Push)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create push notifier")
		}
		messageService.SetNotifier(notifier)
	}

	// attachments stays a nil interface when storage is off
	var attachments handlers.AttachmentAPI
	if cfg.AWS.Enabled() {
		attachmentService, err := services.NewAttachmentService(context.Background(), cfg.AWS, cfg.Messaging.MaxUploadBytes)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create attachment service")
		}
		attachments = attachmentService
	} else {
		log.Warn().Msg("S3 bucket not configured, attachments disabled")
	}

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService, presence)
	friendHandler := handlers.NewFriendHandler(friendService)
	messageHandler := handlers.NewMessageHandler(messageService, syncService, attachments, stickers)
	wsHandler := handlers.NewWebSocketHandler(hub, userService, messageService, presence)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.Register)
		r.Post("/sessions", userHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(userService, presence))

			r.Get("/users/me", userHandler.Me)
			r.Get("/users/search", userHandler.Search)
			r.Get("/users/{id}/presence", userHandler.Presence)
			r.Put("/users/me/push_token", userHandler.UpdatePushToken)
			r.Post("/presence/ping", userHandler.Ping)

			r.Get("/friends", friendHandler.List)
			r.Get("/friends/requests", friendHandler.Incoming)
			r.Get("/stickers", messageHandler.Stickers)
			r.Get("/conversations/{peer_id}/messages", messageHandler.History)
			r.Get("/conversations/{peer_id}/updates", messageHandler.Updates)
			r.Get("/conversations/{peer_id}/latest_id", messageHandler.LatestID)
			r.Get("/attachments/*", messageHandler.Attachment)

			// Writes are rate limited per user
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimit(limiter))
				r.Post("/friends/requests", friendHandler.Request)
				r.Post("/friends/requests/{id}/{action}", friendHandler.Respond)
				r.Delete("/friends/{friend_id}", friendHandler.Unfriend)
				r.Post("/conversations/{peer_id}/messages", messageHandler.Send)
				r.Post("/conversations/{peer_id}/attachments", messageHandler.Upload)
				r.Post("/conversations/{peer_id}/read", messageHandler.MarkRead)
				r.Delete("/messages/{id}", messageHandler.Delete)
			})
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Bool("friends_only", cfg.Messaging.FriendsOnly).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown and end
	// with the process
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
