package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pitwall/pitwall/engine/collections"
	"github.com/pitwall/pitwall/engine/domain"
	"github.com/pitwall/pitwall/pkg/metrics"
)

func TestIDAllocatorMonotonic(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	a := &IDAllocator{now: func() time.Time { return now }}

	first := a.Next()
	if first != 1700000000000 {
		t.Fatalf("first id = %d, want 1700000000000", first)
	}
	// Stalled clock still advances by one.
	if second := a.Next(); second != first+1 {
		t.Errorf("second id = %d, want %d", second, first+1)
	}

	now = now.Add(5 * time.Millisecond)
	if third := a.Next(); third != 1700000000005 {
		t.Errorf("third id = %d, want 1700000000005", third)
	}
}

func TestIDAllocatorConcurrent(t *testing.T) {
	a := NewIDAllocator()
	const n = 200
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = a.Next()
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}

type fakeSink struct {
	mu      sync.Mutex
	alloc   *IDAllocator
	inserts map[string][][]any
}

func newFakeSink() *fakeSink {
	return &fakeSink{alloc: NewIDAllocator(), inserts: make(map[string][][]any)}
}

func (f *fakeSink) Prepare(docs []domain.Document) ([]any, error) {
	out := make([]any, len(docs))
	for i, doc := range docs {
		out[i] = map[string]any{
			"_key": domain.KeyString(doc.UniqueKey()),
			"_id":  f.alloc.Next(),
		}
	}
	return out, nil
}

func (f *fakeSink) Insert(_ context.Context, collection string, docs []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts[collection] = append(f.inserts[collection], docs)
	return nil
}

func (f *fakeSink) batches(collection string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts[collection]
}

func testDocs(n int) []domain.Document {
	docs := make([]domain.Document, n)
	base := time.Now()
	for i := range docs {
		docs[i] = collections.Position{
			MeetingKey: 1219, SessionKey: 9161, DriverNumber: i + 1,
			Date: base.Add(time.Duration(i) * time.Second), Position: i + 1,
		}
	}
	return docs
}

func TestBatchWriterFlushesOnDelay(t *testing.T) {
	sink := newFakeSink()
	w := NewBatchWriter(sink, nil, WithMaxDelay(50*time.Millisecond))
	defer w.Close()

	w.Add("position", testDocs(3))
	if len(sink.batches("position")) != 0 {
		t.Fatal("batch written before the delay elapsed")
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(sink.batches("position")) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	batches := sink.batches("position")
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("batches = %d, want one batch of 3", len(batches))
	}
}

func TestBatchWriterFlushesOnSize(t *testing.T) {
	sink := newFakeSink()
	w := NewBatchWriter(sink, nil, WithMaxDelay(time.Hour), WithMaxBatchSize(5))
	defer w.Close()

	w.Add("position", testDocs(5))
	batches := sink.batches("position")
	if len(batches) != 1 || len(batches[0]) != 5 {
		t.Fatalf("full batch not flushed immediately: %d batches", len(batches))
	}
}

func TestBatchWriterRecordsMetrics(t *testing.T) {
	reg := metrics.New()
	sink := newFakeSink()
	w := NewBatchWriter(sink, nil, WithMaxDelay(time.Hour), WithMetrics(reg))

	w.Add("position", testDocs(4))
	if got := reg.Gauge(metricQueueDepth, "").Value(); got != 4 {
		t.Fatalf("queue depth = %d, want 4", got)
	}

	w.Close()
	counter := reg.Counter(metrics.WithLabels(metricWritesTotal, "collection", "position"), "")
	if got := counter.Value(); got != 4 {
		t.Errorf("writes counter = %d, want 4", got)
	}
	if got := reg.Gauge(metricQueueDepth, "").Value(); got != 0 {
		t.Errorf("queue depth after flush = %d, want 0", got)
	}
	if !strings.Contains(reg.Render(), metricFlushSeconds+"_count 1") {
		t.Error("flush latency not observed")
	}
}

func TestBatchWriterCloseFlushes(t *testing.T) {
	sink := newFakeSink()
	w := NewBatchWriter(sink, nil, WithMaxDelay(time.Hour))
	w.Add("position", testDocs(2))
	w.Close()

	batches := sink.batches("position")
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("pending docs lost on close: %v", batches)
	}
}
