package ingest

import (
	"context"
	"log/slog"
	"time"
)

// BackupInterval is the cadence of raw-capture uploads.
const BackupInterval = time.Minute

// Uploader copies the raw capture file to durable storage so a session can
// be replayed even if the live pipeline misbehaved.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// NopUploader is used when no backup target is configured.
type NopUploader struct{}

func (NopUploader) Upload(context.Context, string) error { return nil }

// BackupLoop uploads the capture file at a fixed cadence until the context
// ends. Uploads are best effort; a failure is logged and the next cycle
// retries.
func BackupLoop(ctx context.Context, up Uploader, path string, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(BackupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// One final upload so the tail of the session is not lost.
			if err := up.Upload(context.Background(), path); err != nil {
				log.Warn("ingest: final backup failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := up.Upload(ctx, path); err != nil {
				log.Warn("ingest: backup failed", "error", err)
			}
		}
	}
}
