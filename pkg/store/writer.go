package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pitwall/pitwall/engine/domain"
	"github.com/pitwall/pitwall/pkg/metrics"
)

// Writer batching defaults.
const (
	DefaultMaxDelay     = 2 * time.Second
	DefaultMaxBatchSize = 100000
	DefaultWriteTimeout = 10 * time.Second
	flushPollInterval   = 500 * time.Millisecond
)

// Metric names exposed when a registry is attached.
const (
	metricWritesTotal  = "pitwall_store_writes_total"
	metricFlushSeconds = "pitwall_store_flush_seconds"
	metricQueueDepth   = "pitwall_store_queue_depth"
)

// Inserter is the slice of Store the writer needs. It also lets tests swap
// in a fake sink.
type Inserter interface {
	Prepare(docs []domain.Document) ([]any, error)
	Insert(ctx context.Context, collection string, docs []any) error
}

// BatchWriter accumulates documents per collection and writes them once a
// batch grows old enough or large enough. Writes that fail are logged and
// dropped; subsequent emissions of the same rows regenerate the data.
type BatchWriter struct {
	sink         Inserter
	log          *slog.Logger
	maxDelay     time.Duration
	maxBatchSize int
	writeTimeout time.Duration
	met          *metrics.Registry

	mu      sync.Mutex
	pending map[string][]any
	oldest  map[string]time.Time

	wg   sync.WaitGroup
	stop chan struct{}
}

// WriterOption configures a BatchWriter.
type WriterOption func(*BatchWriter)

// WithMaxDelay bounds how long a document may sit unwritten.
func WithMaxDelay(d time.Duration) WriterOption {
	return func(w *BatchWriter) { w.maxDelay = d }
}

// WithMaxBatchSize caps the documents per write.
func WithMaxBatchSize(n int) WriterOption {
	return func(w *BatchWriter) { w.maxBatchSize = n }
}

// WithWriteTimeout bounds each write call.
func WithWriteTimeout(d time.Duration) WriterOption {
	return func(w *BatchWriter) { w.writeTimeout = d }
}

// WithMetrics records write counts, flush latency and queue depth into reg.
func WithMetrics(reg *metrics.Registry) WriterOption {
	return func(w *BatchWriter) { w.met = reg }
}

// NewBatchWriter starts a writer flushing into sink.
func NewBatchWriter(sink Inserter, log *slog.Logger, opts ...WriterOption) *BatchWriter {
	if log == nil {
		log = slog.Default()
	}
	w := &BatchWriter{
		sink:         sink,
		log:          log,
		maxDelay:     DefaultMaxDelay,
		maxBatchSize: DefaultMaxBatchSize,
		writeTimeout: DefaultWriteTimeout,
		pending:      make(map[string][]any),
		oldest:       make(map[string]time.Time),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Add stamps storage identity on the documents and queues them. A collection
// hitting the batch cap is flushed immediately.
func (w *BatchWriter) Add(collection string, docs []domain.Document) {
	if len(docs) == 0 {
		return
	}
	prepared, err := w.sink.Prepare(docs)
	if err != nil {
		w.log.Error("store: prepare batch", "collection", collection, "error", err)
		return
	}

	w.mu.Lock()
	if len(w.pending[collection]) == 0 {
		w.oldest[collection] = time.Now()
	}
	w.pending[collection] = append(w.pending[collection], prepared...)
	full := len(w.pending[collection]) >= w.maxBatchSize
	depth := w.queueDepthLocked()
	w.mu.Unlock()
	w.gaugeDepth(depth)

	if full {
		w.flush(collection)
	}
}

// queueDepthLocked counts queued documents; callers hold w.mu.
func (w *BatchWriter) queueDepthLocked() int {
	n := 0
	for _, docs := range w.pending {
		n += len(docs)
	}
	return n
}

func (w *BatchWriter) gaugeDepth(n int) {
	if w.met != nil {
		w.met.Gauge(metricQueueDepth, "Documents queued for write").Set(int64(n))
	}
}

func (w *BatchWriter) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.flushExpired()
		}
	}
}

func (w *BatchWriter) flushExpired() {
	w.mu.Lock()
	var due []string
	for collection, docs := range w.pending {
		if len(docs) > 0 && time.Since(w.oldest[collection]) >= w.maxDelay {
			due = append(due, collection)
		}
	}
	w.mu.Unlock()
	for _, collection := range due {
		w.flush(collection)
	}
}

func (w *BatchWriter) flush(collection string) {
	w.mu.Lock()
	docs := w.pending[collection]
	if len(docs) > w.maxBatchSize {
		w.pending[collection] = docs[w.maxBatchSize:]
		docs = docs[:w.maxBatchSize]
		w.oldest[collection] = time.Now()
	} else {
		delete(w.pending, collection)
		delete(w.oldest, collection)
	}
	depth := w.queueDepthLocked()
	w.mu.Unlock()
	w.gaugeDepth(depth)

	if len(docs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.writeTimeout)
	defer cancel()
	ctx, span := otel.Tracer("pitwall/store").Start(ctx, "store.flush")
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("doc.count", len(docs)),
	)
	defer span.End()

	start := time.Now()
	err := w.sink.Insert(ctx, collection, docs)
	if w.met != nil {
		w.met.Histogram(metricFlushSeconds, "Batch write latency", nil).Since(start)
	}
	if err != nil {
		span.RecordError(err)
		w.log.Error("store: batch write failed",
			"collection", collection, "count", len(docs), "error", err)
		return
	}
	if w.met != nil {
		w.met.Counter(metrics.WithLabels(metricWritesTotal, "collection", collection),
			"Documents written per collection").Add(int64(len(docs)))
	}
}

// Flush writes everything pending, synchronously.
func (w *BatchWriter) Flush() {
	w.mu.Lock()
	collections := make([]string, 0, len(w.pending))
	for collection := range w.pending {
		collections = append(collections, collection)
	}
	w.mu.Unlock()
	for _, collection := range collections {
		w.flush(collection)
	}
}

// Close flushes pending batches and stops the background loop.
func (w *BatchWriter) Close() {
	close(w.stop)
	w.wg.Wait()
	w.Flush()
}
