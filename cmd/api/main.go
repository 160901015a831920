// Package main implements the query API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pitwall/pitwall/engine/collections"
	"github.com/pitwall/pitwall/engine/query"
	"github.com/pitwall/pitwall/pkg/mid"
	"github.com/pitwall/pitwall/pkg/store"
)

// requestTimeout bounds a single query end to end.
const requestTimeout = 20 * time.Second

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	CORSOrigin string
	Store      store.Config
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		Store:      store.ConfigFromEnv(),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close(context.Background())

	names := collections.NewRegistry(0, 0).CollectionNames()
	handler := mid.Chain(query.NewHandler(db, names, logger),
		mid.CORS(cfg.CORSOrigin),
		mid.Logger(logger),
		mid.OTel("query-api"),
		mid.Timeout(requestTimeout),
		// Innermost so panics inside the timeout goroutine are caught.
		mid.Recover(logger),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
