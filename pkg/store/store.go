// Package store persists collection documents to MongoDB and serves the
// deduplicated reads the query surface builds on.
//
// Every stored document carries two side fields next to its payload: _key,
// the stable content-addressed identity derived from the document's unique
// key, and _id, a monotonically increasing integer that orders versions of
// the same _key. Readers group by _key and keep the highest _id (lowest for
// meetings, whose earliest version is authoritative).
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pitwall/pitwall/engine/domain"
)

// DefaultDatabase is used when STORE_DB_NAME is unset.
const DefaultDatabase = "f1-livetiming"

// Config holds the store connection settings.
type Config struct {
	URL      string
	Database string
}

// ConfigFromEnv reads STORE_URL and STORE_DB_NAME.
func ConfigFromEnv() Config {
	return Config{
		URL:      os.Getenv("STORE_URL"),
		Database: envOr("STORE_DB_NAME", DefaultDatabase),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Store wraps a MongoDB database holding one collection per document
// collection.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *slog.Logger
	alloc  *IDAllocator

	latestMu sync.Mutex
	latest   latestKeys
}

// Open connects to MongoDB and pings it.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store: STORE_URL not set")
	}
	if log == nil {
		log = slog.Default()
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		log:    log,
		alloc:  NewIDAllocator(),
	}, nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the readers and writers depend on for
// each named collection.
func (s *Store) EnsureIndexes(ctx context.Context, collections []string) error {
	for _, name := range collections {
		models := []mongo.IndexModel{
			{Keys: bson.D{{Key: "_key", Value: 1}, {Key: "_id", Value: -1}}},
			{Keys: bson.D{{Key: "meeting_key", Value: 1}}},
			{Keys: bson.D{{Key: "session_key", Value: 1}}},
		}
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("store: ensure indexes on %s: %w", name, err)
		}
	}
	return nil
}

// Insert writes prepared documents. Duplicate-key conflicts are expected
// when several ingestors run side by side and are silently skipped; other
// write errors are logged.
func (s *Store) Insert(ctx context.Context, collection string, docs []any) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, len(docs))
	for i, doc := range docs {
		models[i] = mongo.NewInsertOneModel().SetDocument(doc)
	}
	opts := options.BulkWrite().SetOrdered(false)
	_, err := s.db.Collection(collection).BulkWrite(ctx, models, opts)
	if err == nil {
		return nil
	}
	var bwe mongo.BulkWriteException
	if !asBulkWriteException(err, &bwe) {
		return fmt.Errorf("store: bulk write %s: %w", collection, err)
	}
	for _, we := range bwe.WriteErrors {
		if we.Code == duplicateKeyCode {
			continue
		}
		s.log.Error("store: write error", "collection", collection, "code", we.Code, "message", we.Message)
	}
	return nil
}

const duplicateKeyCode = 11000

func asBulkWriteException(err error, out *mongo.BulkWriteException) bool {
	bwe, ok := err.(mongo.BulkWriteException)
	if ok {
		*out = bwe
	}
	return ok
}

// Prepare converts emitted documents to storable form, stamping _key and a
// fresh _id on each.
func (s *Store) Prepare(docs []domain.Document) ([]any, error) {
	out := make([]any, 0, len(docs))
	for _, doc := range docs {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("store: marshal %s document: %w", doc.Collection(), err)
		}
		var m bson.M
		if err := bson.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("store: unmarshal %s document: %w", doc.Collection(), err)
		}
		m["_key"] = domain.KeyString(doc.UniqueKey())
		m["_id"] = s.alloc.Next()
		out = append(out, m)
	}
	return out, nil
}

// Query runs the dedup aggregation: match the filter, order versions by _id,
// group by _key keeping the first, and return the surviving documents.
// Meetings order ascending so the earliest version of a meeting wins.
func (s *Store) Query(ctx context.Context, collection string, filter bson.M) ([]bson.M, error) {
	dir := -1
	if collection == "meetings" {
		dir = 1
	}
	if filter == nil {
		filter = bson.M{}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: dir}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$_key"},
			{Key: "document", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$document"}}}},
	}
	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("store: aggregate %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("store: read %s results: %w", collection, err)
	}
	return results, nil
}

// latestKeys caches the newest session for the "latest" query alias.
type latestKeys struct {
	meetingKey int
	sessionKey int
	fetchedAt  time.Time
}

const latestTTL = time.Minute

// LatestSessionKeys returns the meeting and session keys of the session with
// the newest date_start, cached for one minute.
func (s *Store) LatestSessionKeys(ctx context.Context) (meetingKey, sessionKey int, err error) {
	s.latestMu.Lock()
	defer s.latestMu.Unlock()
	if time.Since(s.latest.fetchedAt) < latestTTL && s.latest.sessionKey != 0 {
		return s.latest.meetingKey, s.latest.sessionKey, nil
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "date_start", Value: -1}})
	var doc struct {
		MeetingKey int `bson:"meeting_key"`
		SessionKey int `bson:"session_key"`
	}
	err = s.db.Collection("sessions").FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err != nil {
		return 0, 0, fmt.Errorf("store: latest session: %w", err)
	}
	s.latest = latestKeys{
		meetingKey: doc.MeetingKey,
		sessionKey: doc.SessionKey,
		fetchedAt:  time.Now(),
	}
	return doc.MeetingKey, doc.SessionKey, nil
}
