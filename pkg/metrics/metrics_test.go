package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	r := New()
	c := r.Counter("pitwall_ingest_lines_total", "Capture lines consumed")
	if c.Value() != 0 {
		t.Fatalf("expected 0, got %d", c.Value())
	}
	c.Inc()
	c.Inc()
	c.Add(5)
	if c.Value() != 7 {
		t.Fatalf("expected 7, got %d", c.Value())
	}
	// Same name returns the same counter.
	if r.Counter("pitwall_ingest_lines_total", "") != c {
		t.Fatal("expected same counter instance")
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("pitwall_store_queue_depth", "Documents queued for write")
	g.Set(42)
	if g.Value() != 42 {
		t.Fatalf("expected 42, got %d", g.Value())
	}
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 43 {
		t.Fatalf("expected 43, got %d", g.Value())
	}
}

func TestHistogramBuckets(t *testing.T) {
	r := New()
	h := r.Histogram("pitwall_store_flush_seconds", "Batch write latency", []float64{0.1, 0.5, 1.0})
	h.Observe(0.05)
	h.Observe(0.3)
	h.Observe(0.8)
	h.Observe(2.0)

	buckets, counts, sum, count := h.snapshot()
	if count != 4 {
		t.Fatalf("expected count 4, got %d", count)
	}
	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(buckets))
	}
	for i, want := range []uint64{1, 1, 1} {
		if counts[i] != want {
			t.Fatalf("bucket %g: expected %d, got %d", buckets[i], want, counts[i])
		}
	}
	if wantSum := 0.05 + 0.3 + 0.8 + 2.0; sum != wantSum {
		t.Fatalf("expected sum %f, got %f", wantSum, sum)
	}
}

func TestHistogramSince(t *testing.T) {
	r := New()
	h := r.Histogram("pitwall_store_flush_seconds", "", nil)
	h.Since(time.Now().Add(-100 * time.Millisecond))
	_, _, _, count := h.snapshot()
	if count != 1 {
		t.Fatal("expected 1 observation")
	}
}

func TestWithLabels(t *testing.T) {
	got := WithLabels("pitwall_ingest_docs_total", "collection", "laps")
	want := `pitwall_ingest_docs_total{collection="laps"}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if WithLabels("bare") != "bare" {
		t.Fatal("no labels should return name unchanged")
	}
}

func TestRender(t *testing.T) {
	r := New()
	r.Counter("pitwall_ingest_docs_total", "Documents written").Add(10)
	r.Counter(WithLabels("pitwall_ingest_docs_total", "collection", "laps"), "").Add(7)
	r.Counter(WithLabels("pitwall_ingest_docs_total", "collection", "weather"), "").Add(3)
	r.Gauge("pitwall_store_queue_depth", "Queued documents").Set(5)
	h := r.Histogram("pitwall_store_flush_seconds", "Batch write latency", []float64{0.1, 0.5, 1.0})
	h.Observe(0.05)
	h.Observe(0.3)

	out := r.Render()

	for _, want := range []string{
		"# TYPE pitwall_ingest_docs_total counter",
		"# TYPE pitwall_store_queue_depth gauge",
		"# TYPE pitwall_store_flush_seconds histogram",
		"pitwall_ingest_docs_total 10",
		`pitwall_ingest_docs_total{collection="laps"} 7`,
		"pitwall_store_queue_depth 5",
		`pitwall_store_flush_seconds_bucket{le="0.1"} 1`,
		`pitwall_store_flush_seconds_bucket{le="+Inf"} 2`,
		"pitwall_store_flush_seconds_count 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("pitwall_ingest_lines_total", "").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("unexpected content type: %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "pitwall_ingest_lines_total 1") {
		t.Error("missing metric in handler output")
	}
}

func TestMetricBaseName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"pitwall_ingest_lines_total", "pitwall_ingest_lines_total"},
		{`pitwall_ingest_docs_total{collection="pit"}`, "pitwall_ingest_docs_total"},
		{`x{a="1",b="2"}`, "x"},
	}
	for _, tt := range tests {
		if got := metricBaseName(tt.in); got != tt.want {
			t.Errorf("metricBaseName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
