package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pitwall/pitwall/engine/collections"
	"github.com/pitwall/pitwall/engine/domain"
	"github.com/pitwall/pitwall/engine/process"
	"github.com/pitwall/pitwall/engine/schedule"
)

// Sink receives the documents produced by a replay.
type Sink interface {
	Add(collection string, docs []domain.Document)
}

// Broadcaster mirrors documents to live consumers. Optional.
type Broadcaster interface {
	Publish(ctx context.Context, collection string, docs []domain.Document)
}

// Ingestor replays archived sessions through the collection processors and
// hands the results to a sink.
type Ingestor struct {
	schedule  *schedule.Client
	archive   *Archive
	sink      Sink
	broadcast Broadcaster
	log       *slog.Logger
	only      []string
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithCollections restricts the replay to the named collections.
func WithCollections(names ...string) IngestorOption {
	return func(ing *Ingestor) { ing.only = names }
}

// WithBroadcaster mirrors replayed documents to a broker.
func WithBroadcaster(b Broadcaster) IngestorOption {
	return func(ing *Ingestor) { ing.broadcast = b }
}

// WithLogger sets the ingestor's logger.
func WithLogger(log *slog.Logger) IngestorOption {
	return func(ing *Ingestor) { ing.log = log }
}

// NewIngestor builds an Ingestor writing into sink.
func NewIngestor(sched *schedule.Client, archive *Archive, sink Sink, opts ...IngestorOption) *Ingestor {
	ing := &Ingestor{
		schedule: sched,
		archive:  archive,
		sink:     sink,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// IngestSession replays one session end to end.
func (ing *Ingestor) IngestSession(ctx context.Context, year, meetingKey, sessionKey int) error {
	start := time.Now()
	ctx, span := otel.Tracer("pitwall/history").Start(ctx, "history.ingest_session")
	span.SetAttributes(
		attribute.Int("year", year),
		attribute.Int("meeting_key", meetingKey),
		attribute.Int("session_key", sessionKey),
	)
	defer span.End()

	url, err := ing.schedule.SessionURL(ctx, year, meetingKey, sessionKey)
	if err != nil {
		span.RecordError(err)
		return err
	}

	msgs, err := ing.archive.Messages(ctx, url, collections.Topics(ing.only...))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("history: session %d: %w", sessionKey, err)
	}
	ing.log.Info("history: session fetched",
		"session_key", sessionKey, "messages", len(msgs))

	driver := process.New(meetingKey, sessionKey,
		process.WithCollections(ing.only...),
		process.WithLogger(ing.log),
	)
	driver.ProcessBatch(msgs)

	total := 0
	for collection, docs := range driver.Flush() {
		ing.sink.Add(collection, docs)
		if ing.broadcast != nil {
			ing.broadcast.Publish(ctx, collection, docs)
		}
		total += len(docs)
	}
	ing.log.Info("history: session ingested",
		"session_key", sessionKey,
		"documents", total,
		"duration", time.Since(start),
	)
	return nil
}

// IngestMeeting replays every session of a meeting. A failing session is
// logged and does not abort the rest.
func (ing *Ingestor) IngestMeeting(ctx context.Context, year, meetingKey int) error {
	sessionKeys, err := ing.schedule.SessionKeys(ctx, year, meetingKey)
	if err != nil {
		return err
	}
	for _, sessionKey := range sessionKeys {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := ing.IngestSession(ctx, year, meetingKey, sessionKey); err != nil {
			ing.log.Error("history: session failed",
				"meeting_key", meetingKey, "session_key", sessionKey, "error", err)
		}
	}
	return nil
}

// IngestSeason replays every meeting of a season.
func (ing *Ingestor) IngestSeason(ctx context.Context, year int) error {
	meetingKeys, err := ing.schedule.MeetingKeys(ctx, year)
	if err != nil {
		return err
	}
	for _, meetingKey := range meetingKeys {
		if err := ing.IngestMeeting(ctx, year, meetingKey); err != nil {
			return err
		}
	}
	return nil
}
