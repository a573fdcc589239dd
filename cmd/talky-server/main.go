// Command talky-server runs the backend for the Talky language-practice
// client: it brokers ephemeral Gemini realtime tokens, generates lesson
// material, and issues session-scoped signed URLs for Cloud Storage.
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

	"github.com/vivleap/talky-server/internal/api"
	"github.com/vivleap/talky-server/internal/config"
	"github.com/vivleap/talky-server/internal/gemini"
	"github.com/vivleap/talky-server/internal/log"
	"github.com/vivleap/talky-server/internal/observability"
	"github.com/vivleap/talky-server/internal/session"
	"github.com/vivleap/talky-server/internal/storage/gcs"
)

const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "talky-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := log.New(log.Config{
		Level: log.ParseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.Setup(ctx, cfg.OTLPEndpoint, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("shutting down tracing", "error", err)
		}
	}()

	store, err := gcs.New(ctx, cfg.Bucket, cfg.SignerEmail, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage client", "error", err)
		}
	}()

	provider, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.Model, logger)
	if err != nil {
		return fmt.Errorf("initializing Gemini client: %w", err)
	}

	sessions := session.NewService(store, cfg.Bucket, cfg.SignedURLTTL(), logger)

	server, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Sessions:    sessions,
		Tokens:      provider,
		Lessons:     provider,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   cfg.RateBurst,
		IsDev:       cfg.Dev,
	})
	if err != nil {
		return fmt.Errorf("initializing API server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.Addr,
			"bucket", cfg.Bucket,
			"model", cfg.Model,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
