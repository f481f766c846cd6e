// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/ai"
	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/chatservice"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/store"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_mode", cfg.Store.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize session store.
	provider, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer provider.Close()

	// Model transport, unless a test injected one.
	transport := app.transport
	if transport == nil {
		transport = ai.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL)
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Build chat service and hydrate it from the store.
	svc := chatservice.NewService(chatservice.Options{
		Store:             provider,
		Transport:         transport,
		Broker:            broker,
		Logger:            logger,
		ChatModel:         cfg.AI.ChatModel,
		LabelModel:        cfg.AI.LabelModel,
		SystemInstruction: cfg.AI.SystemInstruction,
	})
	if err := svc.Load(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// In file mode, watch the data directory so edits made outside the
	// process (sync tools, manual fixes) show up without a restart.
	if cfg.Store.Mode == StoreModeFile {
		g.Go(func() error {
			return store.Watch(gCtx, cfg.Store.Dir, logger, func() {
				if err := svc.Load(); err != nil {
					logger.Warn("reload after external change failed", slog.String("error", err.Error()))
					return
				}
				broker.PublishSessionEvent("reloaded", "")
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Let in-flight streams and labels drain before the store closes.
		svc.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the stdio MCP server against the same store and transport.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Logs go to stderr: stdout carries the MCP protocol.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	provider, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer provider.Close()

	transport := app.transport
	if transport == nil {
		transport = ai.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL)
	}

	svc := chatservice.NewService(chatservice.Options{
		Store:             provider,
		Transport:         transport,
		Logger:            logger,
		ChatModel:         cfg.AI.ChatModel,
		LabelModel:        cfg.AI.LabelModel,
		SystemInstruction: cfg.AI.SystemInstruction,
	})
	if err := svc.Load(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	return mcpserver.New(svc).ServeStdio()
}

// openStore builds and opens the configured store backend.
func openStore(cfg *Config) (store.Provider, error) {
	var provider store.Provider
	switch cfg.Store.Mode {
	case StoreModeFile:
		provider = store.NewFile(cfg.Store.Dir)
	default:
		provider = store.NewSQLite(cfg.Store.Path)
	}
	if err := provider.Open(); err != nil {
		return nil, err
	}
	return provider, nil
}
