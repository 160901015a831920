package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"time"
)

// Recorder supervision tuning.
const (
	watchdogDelay      = 60 * time.Second
	restartInitialWait = time.Second
	restartMaxWait     = 30 * time.Second
	healthyRunMinimum  = time.Minute
)

// Recorder supervises the subprocess that captures the upstream feed into a
// file. The recorder is external; this side only keeps it alive and watches
// that it actually produces output.
type Recorder struct {
	Command   []string
	OutPath   string
	FeedToken string
	Log       *slog.Logger
}

// Run keeps the recorder running until the context ends. Exits are logged
// and followed by a restart with jittered exponential backoff; a run that
// survived for a while resets the backoff.
func (r *Recorder) Run(ctx context.Context) error {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	if len(r.Command) == 0 {
		return fmt.Errorf("ingest: no recorder command configured")
	}

	wait := restartInitialWait
	for {
		started := time.Now()
		err := r.runOnce(ctx, log)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("ingest: recorder exited", "error", err, "uptime", time.Since(started))

		if time.Since(started) >= healthyRunMinimum {
			wait = restartInitialWait
		}
		sleep := time.Duration(float64(wait) * (0.5 + rand.Float64()))
		if sleep > restartMaxWait {
			sleep = restartMaxWait
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		if wait *= 2; wait > restartMaxWait {
			wait = restartMaxWait
		}
	}
}

func (r *Recorder) runOnce(ctx context.Context, log *slog.Logger) error {
	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if r.FeedToken != "" {
		cmd.Env = append(cmd.Env, "FEED_TOKEN="+r.FeedToken)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ingest: start recorder: %w", err)
	}
	log.Info("ingest: recorder started", "pid", cmd.Process.Pid)

	// A recorder that writes nothing for a whole minute is wedged; kill it
	// and let the restart loop take over.
	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
		case <-time.After(watchdogDelay):
			if info, err := os.Stat(r.OutPath); err != nil || info.Size() == 0 {
				log.Error("ingest: recorder produced no output, killing", "path", r.OutPath)
				_ = cmd.Process.Kill()
			}
		}
	}()
	err := cmd.Wait()
	close(done)
	return err
}
