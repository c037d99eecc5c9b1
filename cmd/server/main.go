// Skydesk - customer support bridge server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/skydesk/internal/api"
	"github.com/ashureev/skydesk/internal/chat"
	"github.com/ashureev/skydesk/internal/config"
	"github.com/ashureev/skydesk/internal/domain"
	"github.com/ashureev/skydesk/internal/identity"
	"github.com/ashureev/skydesk/internal/live"
	"github.com/ashureev/skydesk/internal/middleware"
	"github.com/ashureev/skydesk/internal/remote"
	"github.com/ashureev/skydesk/internal/store"
	"github.com/ashureev/skydesk/internal/workspace"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "api_url", cfg.APIURL)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	client, err := remote.NewClient(remote.Config{
		BaseURL: cfg.APIURL,
		Token:   cfg.APIToken,
		Timeout: cfg.RequestTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize support API client", "error", err)
		os.Exit(1)
	}

	// The hub closes streams of evicted workspaces, and reads from the
	// registry it is handed.
	var hub *live.Hub
	reg := workspace.NewRegistry(client, repo, workspace.Options{
		TTL:             cfg.WorkspaceTTL,
		DefaultPlatform: domain.Platform(cfg.DefaultPlatform),
		Chat:            chat.Options{DisableHistorySync: !cfg.HistorySync},
		OnEvict: func(userID string) {
			hub.CloseUser(userID)
		},
	}, logger)
	hub = live.NewHub(reg, cfg.AllowedOrigins(), cfg.IsDevelopment(), logger)

	baseHandler := api.NewHandler(reg, cfg.RequestTimeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	limiter.StartEviction(ctx)
	r.Use(middleware.RateLimit(limiter))

	api.Mount(r, baseHandler, repo, cfg.WorkspaceTTL)

	// WebSocket endpoint.
	r.Get("/ws/state", hub.ServeHTTP)

	// Note: state streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	workspace.StartTTLWorker(ctx, reg, 0)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Drain in-flight commands so their results are persisted.
	reg.Close(shutdownCtx)

	slog.Info("Server stopped successfully")
}
