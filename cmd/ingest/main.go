// Command ingest runs the real-time ingestor: it supervises the feed
// recorder, tails its capture file, and writes the resulting documents to
// the store and the optional publisher.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pitwall/pitwall/engine/collections"
	"github.com/pitwall/pitwall/engine/domain"
	"github.com/pitwall/pitwall/engine/ingest"
	"github.com/pitwall/pitwall/pkg/metrics"
	"github.com/pitwall/pitwall/pkg/publish"
	"github.com/pitwall/pitwall/pkg/store"
)

var met = metrics.New()

var (
	mDocsTotal = func(collection string) *metrics.Counter {
		return met.Counter(metrics.WithLabels("pitwall_ingest_docs_total", "collection", collection), "Documents written per collection")
	}
	mLinesTotal = met.Counter("pitwall_ingest_lines_total", "Capture lines consumed")
)

// Config holds all environment-based configuration.
type Config struct {
	RecorderCommand []string
	CapturePath     string
	FeedToken       string
	BackupBucket    string
	Collections     []string
	MetricsPort     int
	Store           store.Config
	Publisher       publish.Config
}

func loadConfig() Config {
	port, _ := strconv.Atoi(envOr("METRICS_PORT", "9091"))
	return Config{
		RecorderCommand: strings.Fields(os.Getenv("RECORDER_COMMAND")),
		CapturePath:     envOr("CAPTURE_PATH", "/tmp/livetiming-capture.txt"),
		FeedToken:       os.Getenv("FEED_TOKEN"),
		BackupBucket:    os.Getenv("RAW_BACKUP_BUCKET"),
		Collections:     splitList(os.Getenv("COLLECTIONS")),
		MetricsPort:     port,
		Store:           store.ConfigFromEnv(),
		Publisher:       publish.ConfigFromEnv(),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// countingSink counts written documents on their way to the batch writer.
type countingSink struct {
	inner ingest.Sink
}

func (s countingSink) Add(collection string, docs []domain.Document) {
	mDocsTotal(collection).Add(int64(len(docs)))
	s.inner.Add(collection, docs)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil && err != context.Canceled {
		logger.Error("ingestor exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met.ServeAsync(cfg.MetricsPort)

	db, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer db.Close(context.Background())
	if err := db.EnsureIndexes(ctx, collections.NewRegistry(0, 0).CollectionNames()); err != nil {
		return err
	}

	writer := store.NewBatchWriter(db, logger, store.WithMetrics(met))
	defer writer.Close()

	deps := ingest.Deps{
		Sink:        countingSink{inner: writer},
		Logger:      logger,
		Collections: cfg.Collections,
		Metrics:     met,
	}
	if cfg.Publisher.Enabled() {
		pub, err := publish.Connect(cfg.Publisher, logger)
		if err != nil {
			return fmt.Errorf("publisher: %w", err)
		}
		defer pub.Close()
		deps.Broadcast = pub
	}

	if len(cfg.RecorderCommand) > 0 {
		recorder := &ingest.Recorder{
			Command:   cfg.RecorderCommand,
			OutPath:   cfg.CapturePath,
			FeedToken: cfg.FeedToken,
			Log:       logger,
		}
		go func() {
			if err := recorder.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("recorder supervisor stopped", "err", err)
			}
		}()
	} else {
		logger.Info("no RECORDER_COMMAND set, tailing existing capture", "path", cfg.CapturePath)
	}

	if cfg.BackupBucket != "" {
		// The uploader implementation is deployment-specific; the default
		// build runs the loop against a no-op target.
		logger.Info("raw backup enabled", "bucket", cfg.BackupBucket)
		go ingest.BackupLoop(ctx, ingest.NopUploader{}, cfg.CapturePath, logger)
	}

	raw := make(chan string, 1024)
	lines := make(chan string, 1024)
	go func() {
		for {
			select {
			case <-ctx.Done():
				close(lines)
				return
			case line := <-raw:
				mLinesTotal.Inc()
				lines <- line
			}
		}
	}()

	tailErr := make(chan error, 1)
	go func() { tailErr <- ingest.Tail(ctx, cfg.CapturePath, raw) }()

	ingestor := ingest.New(deps)
	runErr := make(chan error, 1)
	go func() { runErr <- ingestor.Run(ctx, lines) }()

	select {
	case err := <-tailErr:
		return err
	case err := <-runErr:
		return err
	}
}
