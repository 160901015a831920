package process

import (
	"testing"
	"time"

	"github.com/pitwall/pitwall/engine/collections"
	"github.com/pitwall/pitwall/engine/domain"
)

func carDataMsg(utc, driver string, speed int) domain.Message {
	return domain.Message{
		Topic: "CarData.z",
		Content: map[string]any{
			"Entries": []any{
				map[string]any{
					"Utc": utc,
					"Cars": map[string]any{
						driver: map[string]any{
							"Channels": map[string]any{"2": float64(speed)},
						},
					},
				},
			},
		},
		Timepoint: time.Now(),
	}
}

func TestRewriteReplacesBufferedDocument(t *testing.T) {
	d := New(1219, 9161, WithCollections("car_data"))

	d.Process(carDataMsg("2023-09-15T13:08:19.923Z", "55", 280))
	d.Process(carDataMsg("2023-09-15T13:08:19.923Z", "55", 315))

	out := d.Flush()
	docs := out["car_data"]
	if len(docs) != 1 {
		t.Fatalf("got %d documents, want 1 after rewrite", len(docs))
	}
	got := docs[0].(collections.CarData)
	if got.Speed == nil || *got.Speed != 315 {
		t.Errorf("speed = %v, want the later value 315", got.Speed)
	}
}

func TestFlushSortsByUniqueKey(t *testing.T) {
	d := New(1219, 9161, WithCollections("car_data"))

	d.Process(carDataMsg("2023-09-15T13:08:20.100Z", "4", 300))
	d.Process(carDataMsg("2023-09-15T13:08:19.923Z", "55", 315))
	d.Process(carDataMsg("2023-09-15T13:08:19.923Z", "1", 310))

	docs := d.Flush()["car_data"]
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
	for i := 1; i < len(docs); i++ {
		if domain.CompareKeys(docs[i-1].UniqueKey(), docs[i].UniqueKey()) > 0 {
			t.Errorf("documents %d and %d out of order", i-1, i)
		}
	}
	first := docs[0].(collections.CarData)
	if first.DriverNumber != 1 {
		t.Errorf("first driver = %d, want 1 (earliest date, lowest number)", first.DriverNumber)
	}
}

func TestCollectionFilter(t *testing.T) {
	d := New(1219, 9161, WithCollections("weather"))

	d.Process(carDataMsg("2023-09-15T13:08:19.923Z", "55", 315))
	d.Process(domain.Message{
		Topic: "WeatherData",
		Content: map[string]any{
			"AirTemp": "28.5", "Humidity": "70.0", "Pressure": "1008.5",
			"Rainfall": "0", "TrackTemp": "34.1", "WindDirection": "190", "WindSpeed": "1.2",
		},
		Timepoint: time.Now(),
	})

	out := d.Flush()
	if _, ok := out["car_data"]; ok {
		t.Error("filtered-out collection appeared in flush")
	}
	if len(out["weather"]) != 1 {
		t.Fatalf("got %d weather documents, want 1", len(out["weather"]))
	}
}

func TestProcessBatchMatchesSerial(t *testing.T) {
	msgs := []domain.Message{
		carDataMsg("2023-09-15T13:08:19.923Z", "55", 280),
		carDataMsg("2023-09-15T13:08:20.203Z", "55", 290),
		carDataMsg("2023-09-15T13:08:20.483Z", "55", 301),
	}

	serial := New(1219, 9161, WithCollections("car_data"))
	for _, m := range msgs {
		serial.Process(m)
	}
	batched := New(1219, 9161, WithCollections("car_data"), WithWorkers(4))
	batched.ProcessBatch(msgs)

	a := serial.Flush()["car_data"]
	b := batched.Flush()["car_data"]
	if len(a) != len(b) {
		t.Fatalf("serial emitted %d, batch emitted %d", len(a), len(b))
	}
	for i := range a {
		ka := domain.KeyString(a[i].UniqueKey())
		kb := domain.KeyString(b[i].UniqueKey())
		if ka != kb {
			t.Errorf("document %d: key %q != %q", i, ka, kb)
		}
	}
}

func TestPendingAndEmptyFlush(t *testing.T) {
	d := New(1219, 9161)
	if d.Pending() != 0 {
		t.Errorf("fresh driver pending = %d", d.Pending())
	}
	if out := d.Flush(); out != nil {
		t.Errorf("empty flush = %v, want nil", out)
	}

	d.Process(carDataMsg("2023-09-15T13:08:19.923Z", "55", 315))
	if d.Pending() != 1 {
		t.Errorf("pending = %d, want 1", d.Pending())
	}
	d.Flush()
	if d.Pending() != 0 {
		t.Errorf("pending after flush = %d, want 0", d.Pending())
	}
}
