// Package ingest implements the real-time ingestor: it supervises the
// recorder subprocess, tails its capture file, and feeds each recorded frame
// through the collection processors into the sinks.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pitwall/pitwall/engine/decode"
	"github.com/pitwall/pitwall/engine/domain"
	"github.com/pitwall/pitwall/engine/process"
	"github.com/pitwall/pitwall/pkg/metrics"
)

// Sink receives the documents produced by the pipeline.
type Sink interface {
	Add(collection string, docs []domain.Document)
}

// Broadcaster mirrors documents to live consumers. Optional.
type Broadcaster interface {
	Publish(ctx context.Context, collection string, docs []domain.Document)
}

// Deps holds the external dependencies of the ingestor.
type Deps struct {
	Sink        Sink
	Broadcast   Broadcaster
	Logger      *slog.Logger
	Collections []string

	// Metrics, when set, counts frames dropped by parse or decode failures.
	Metrics *metrics.Registry
}

// Ingestor consumes recorded frames line by line. The processor set is
// created when the first SessionInfo frame identifies the session, and
// recreated when a new session starts on the same feed.
type Ingestor struct {
	deps Deps
	log  *slog.Logger

	driver     *process.Driver
	meetingKey int
	sessionKey int

	// frames seen before the session is known, replayed once it is
	pending []domain.Message
}

// New builds an Ingestor.
func New(deps Deps) *Ingestor {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{deps: deps, log: log}
}

// Run consumes lines until the channel closes or the context ends, flushing
// whatever is buffered on the way out.
func (ing *Ingestor) Run(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			ing.flush(context.Background())
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				ing.flush(ctx)
				return nil
			}
			ing.HandleLine(ctx, line)
		}
	}
}

// HandleLine parses and processes one recorded frame. Malformed lines are
// logged and dropped.
func (ing *Ingestor) HandleLine(ctx context.Context, line string) {
	msg, err := ParseLine(line)
	if err != nil {
		ing.log.Warn("ingest: bad frame", "error", err)
		if ing.deps.Metrics != nil {
			ing.deps.Metrics.Counter("pitwall_ingest_dropped_frames_total",
				"Frames dropped by parse or decode failures").Inc()
		}
		return
	}
	ing.handleMessage(ctx, msg)
}

func (ing *Ingestor) handleMessage(ctx context.Context, msg domain.Message) {
	if msg.Topic == "SessionInfo" {
		ing.maybeStartSession(msg)
	}
	if ing.driver == nil {
		ing.pending = append(ing.pending, msg)
		return
	}
	ing.driver.Process(msg)
	ing.flush(ctx)
}

// maybeStartSession reads the session identity out of a SessionInfo frame
// and swaps in a fresh processor set when it changes.
func (ing *Ingestor) maybeStartSession(msg domain.Message) {
	meeting, ok := domain.Field(msg.Content, "Meeting")
	if !ok {
		return
	}
	meetingKey, ok1 := intField(meeting, "Key")
	sessionKey, ok2 := intField(msg.Content, "Key")
	if !ok1 || !ok2 {
		ing.log.Warn("ingest: SessionInfo without keys")
		return
	}
	if ing.driver != nil && meetingKey == ing.meetingKey && sessionKey == ing.sessionKey {
		return
	}

	if ing.driver != nil {
		ing.flush(context.Background())
	}
	ing.log.Info("ingest: session started",
		"meeting_key", meetingKey, "session_key", sessionKey)
	ing.meetingKey = meetingKey
	ing.sessionKey = sessionKey
	ing.driver = process.New(meetingKey, sessionKey,
		process.WithCollections(ing.deps.Collections...),
		process.WithLogger(ing.log),
	)

	if len(ing.pending) > 0 {
		replay := ing.pending
		ing.pending = nil
		for _, m := range replay {
			ing.driver.Process(m)
		}
	}
}

func (ing *Ingestor) flush(ctx context.Context) {
	if ing.driver == nil {
		return
	}
	for collection, docs := range ing.driver.Flush() {
		ing.deps.Sink.Add(collection, docs)
		if ing.deps.Broadcast != nil {
			ing.deps.Broadcast.Publish(ctx, collection, docs)
		}
	}
}

func intField(v any, key string) (int, bool) {
	f, ok := domain.Field(v, key)
	if !ok {
		return 0, false
	}
	return domain.Int(f)
}

// ParseLine deserializes one capture line: a JSON array of topic, payload
// and wall-clock time. A payload that arrives as a string still needs
// decoding; objects come through as-is.
func ParseLine(line string) (domain.Message, error) {
	var frame [3]json.RawMessage
	if err := json.Unmarshal([]byte(line), &frame); err != nil {
		return domain.Message{}, fmt.Errorf("ingest: parse frame: %w", err)
	}
	var topic string
	if err := json.Unmarshal(frame[0], &topic); err != nil {
		return domain.Message{}, fmt.Errorf("ingest: frame topic: %w", err)
	}
	var wall string
	if err := json.Unmarshal(frame[2], &wall); err != nil {
		return domain.Message{}, fmt.Errorf("ingest: frame time: %w", err)
	}
	timepoint, err := domain.ParseUTC(wall)
	if err != nil {
		return domain.Message{}, fmt.Errorf("ingest: frame time: %w", err)
	}

	var content any
	if err := json.Unmarshal(frame[1], &content); err != nil {
		return domain.Message{}, fmt.Errorf("ingest: frame payload: %w", err)
	}
	if s, ok := content.(string); ok {
		content, err = decode.Decode(s)
		if err != nil {
			return domain.Message{}, err
		}
	}
	return domain.Message{Topic: topic, Content: content, Timepoint: timepoint}, nil
}
