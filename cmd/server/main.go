// Chat service for the educational portal's agent panel.
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/agent"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/api"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/backend"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/chat"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/config"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/document"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/identity"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/middleware"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/normalize"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/stream"
	"github.com/cadamar1236/sistema-educativo-sub000/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend_url", cfg.BackendURL)

	// Initialize dependencies.
	client := backend.New(cfg.BackendURL, cfg.BackendTimeout, backend.WithLogger(logger))

	catalog, err := agent.LoadCatalog(cfg.AgentCatalogPath)
	if err != nil {
		slog.Error("Failed to load agent catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("Agent catalog loaded", "agents", len(catalog.Entries()), "path", cfg.AgentCatalogPath)

	pipeline := normalize.NewPipeline(
		normalize.NewPromoter(normalize.Thresholds{
			MinLines: cfg.Promote.MinLines,
			MinChars: cfg.Promote.MinChars,
			Heading:  cfg.Promote.Heading,
		}),
		document.NewRenderer(nil),
		logger,
	)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("failed to close conversation logger", "error", closeErr)
		}
	}()

	hub := stream.NewHub(stream.Options{
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		ReplaySize:    cfg.Stream.ReplaySize,
		SendBuffer:    cfg.Stream.SendBuffer,
		Logger:        logger,
	})
	defer hub.Close()

	store := chat.NewStore()
	store.OnAppend(agent.LogAppends(conversationLogger))
	store.OnAppend(hub.Publish)

	orch := agent.NewOrchestrator(client, store, catalog, pipeline, agent.Config{
		HistorySize: cfg.HistorySize,
	}, logger)

	rateLimiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer rateLimiter.Close()

	// Initialize handlers.
	chatHandler := api.NewChatHandler(orch, store, api.ChatOptions{
		Feed:        hub,
		RateLimiter: rateLimiter,
		MaxBodySize: cfg.MaxRequestBodySize,
		Logger:      logger,
	})
	renderHandler := api.NewRenderHandler(pipeline, cfg.MaxRequestBodySize)
	healthHandler := api.NewHealthHandler(client, 5*time.Second)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// All routes use identity middleware (no auth needed).
	chatHandler.RegisterRoutes(r)
	renderHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", hub.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// Note: a fan-out waits on the backend, so WriteTimeout must exceed
	// BACKEND_TIMEOUT. WebSocket connections are hijacked and unaffected.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.BackendTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Warm the catalog's real/simulated flags; the panel refreshes them too.
	go func() {
		statusCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		statuses, err := client.Status(statusCtx)
		if err != nil {
			slog.Warn("Agent backend not reachable at startup", "error", err)
			return
		}
		catalog.Annotate(statuses)
		slog.Info("Agent status loaded", "agents", len(statuses))
	}()

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

	stats := orch.GetStats()
	slog.Info("Server stopped successfully", "turns_settled", stats.Settled, "turns_failed", stats.Failed, "turns_discarded", stats.Discarded)
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
