package ingest

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pitwall/pitwall/engine/collections"
	"github.com/pitwall/pitwall/engine/domain"
	"github.com/pitwall/pitwall/pkg/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

type fakeSink struct {
	mu   sync.Mutex
	docs map[string][]domain.Document
}

func (s *fakeSink) Add(collection string, docs []domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs == nil {
		s.docs = make(map[string][]domain.Document)
	}
	s.docs[collection] = append(s.docs[collection], docs...)
}

func (s *fakeSink) count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[collection])
}

const sessionInfoLine = `["SessionInfo", {"Meeting": {"Key": 1219}, "Key": 9161, "Type": "Qualifying"}, "2023-09-16T13:00:00.000Z"]`

func TestParseLine(t *testing.T) {
	msg, err := ParseLine(`["WeatherData", {"AirTemp": "27.8"}, "2023-09-16T13:05:00.123Z"]`)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Topic != "WeatherData" {
		t.Errorf("topic = %q", msg.Topic)
	}
	want := time.Date(2023, 9, 16, 13, 5, 0, 123000000, time.UTC)
	if !msg.Timepoint.Equal(want) {
		t.Errorf("timepoint = %v, want %v", msg.Timepoint, want)
	}
	m, ok := msg.Content.(map[string]any)
	if !ok || m["AirTemp"] != "27.8" {
		t.Errorf("content = %v", msg.Content)
	}
}

func TestParseLineRejectsGarbage(t *testing.T) {
	for _, line := range []string{
		`not json`,
		`["TopicOnly"]`,
		`["WeatherData", {}, "not a time"]`,
	} {
		if _, err := ParseLine(line); err == nil {
			t.Errorf("line %q accepted", line)
		}
	}
}

func TestFramesBeforeSessionInfoAreReplayed(t *testing.T) {
	sink := &fakeSink{}
	ing := New(Deps{Sink: sink, Logger: testLogger(), Collections: []string{"weather"}})
	ctx := context.Background()

	// Weather arrives before the session is identified.
	ing.HandleLine(ctx, `["WeatherData", {"AirTemp": "27.5"}, "2023-09-16T12:59:00.000Z"]`)
	if sink.count("weather") != 0 {
		t.Fatal("document emitted before session known")
	}

	ing.HandleLine(ctx, sessionInfoLine)
	if sink.count("weather") != 1 {
		t.Fatalf("got %d weather documents after replay, want 1", sink.count("weather"))
	}
	sample := sink.docs["weather"][0].(collections.Weather)
	if sample.MeetingKey != 1219 || sample.SessionKey != 9161 {
		t.Errorf("keys = (%d, %d)", sample.MeetingKey, sample.SessionKey)
	}
}

func TestNewSessionSwapsProcessors(t *testing.T) {
	sink := &fakeSink{}
	ing := New(Deps{Sink: sink, Logger: testLogger(), Collections: []string{"weather"}})
	ctx := context.Background()

	ing.HandleLine(ctx, sessionInfoLine)
	ing.HandleLine(ctx, `["WeatherData", {"AirTemp": "27.5"}, "2023-09-16T13:01:00.000Z"]`)

	// Same feed, next session.
	ing.HandleLine(ctx, `["SessionInfo", {"Meeting": {"Key": 1219}, "Key": 9165, "Type": "Race"}, "2023-09-17T12:00:00.000Z"]`)
	ing.HandleLine(ctx, `["WeatherData", {"AirTemp": "29.1"}, "2023-09-17T12:01:00.000Z"]`)

	docs := sink.docs["weather"]
	if len(docs) != 2 {
		t.Fatalf("got %d weather documents, want 2", len(docs))
	}
	if docs[0].(collections.Weather).SessionKey != 9161 ||
		docs[1].(collections.Weather).SessionKey != 9165 {
		t.Errorf("session keys = %d, %d",
			docs[0].(collections.Weather).SessionKey, docs[1].(collections.Weather).SessionKey)
	}
}

func TestBadLinesAreDropped(t *testing.T) {
	sink := &fakeSink{}
	reg := metrics.New()
	ing := New(Deps{Sink: sink, Logger: testLogger(), Metrics: reg})
	ctx := context.Background()

	ing.HandleLine(ctx, sessionInfoLine)
	before := sink.count("weather")
	ing.HandleLine(ctx, `garbage`)
	ing.HandleLine(ctx, `["WeatherData", "%%% not decodable %%%", "2023-09-16T13:01:00.000Z"]`)
	if sink.count("weather") != before {
		t.Error("bad lines produced documents")
	}
	dropped := reg.Counter("pitwall_ingest_dropped_frames_total", "")
	if dropped.Value() != 2 {
		t.Errorf("dropped counter = %d, want 2", dropped.Value())
	}
}

func TestRunDrainsChannel(t *testing.T) {
	sink := &fakeSink{}
	ing := New(Deps{Sink: sink, Logger: testLogger(), Collections: []string{"weather"}})

	lines := make(chan string, 2)
	lines <- sessionInfoLine
	lines <- `["WeatherData", {"AirTemp": "27.5"}, "2023-09-16T13:01:00.000Z"]`
	close(lines)

	if err := ing.Run(context.Background(), lines); err != nil {
		t.Fatal(err)
	}
	if sink.count("weather") != 1 {
		t.Fatalf("got %d weather documents, want 1", sink.count("weather"))
	}
}
