package schedule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
)

const seasonIndex = `{
	"Year": 2023,
	"Meetings": [
		{
			"Key": 1219,
			"Name": "Singapore Grand Prix",
			"Sessions": [
				{"Key": 9158, "Name": "Practice 1", "Path": "2023/2023-09-17_Singapore_Grand_Prix/2023-09-15_Practice_1/"},
				{"Key": -1, "Name": "Practice 2", "Path": ""},
				{"Key": 9161, "Name": "Qualifying", "Path": "2023/2023-09-17_Singapore_Grand_Prix/2023-09-16_Qualifying/"}
			]
		},
		{
			"Key": 1220,
			"Name": "Japanese Grand Prix",
			"Sessions": [
				{"Key": 9165, "Name": "Race", "Path": "2023/2023-09-24_Japanese_Grand_Prix/2023-09-24_Race/"}
			]
		}
	]
}`

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(WithBaseURL(srv.URL)), srv
}

func TestMeetingAndSessionKeys(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2023/Index.json" {
			http.NotFound(w, r)
			return
		}
		// The upstream serves the index with a BOM.
		_, _ = w.Write([]byte("\xEF\xBB\xBF" + seasonIndex))
	}))

	meetings, err := c.MeetingKeys(context.Background(), 2023)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(meetings, []int{1219, 1220}) {
		t.Errorf("meetings = %v", meetings)
	}

	sessions, err := c.SessionKeys(context.Background(), 2023, 1219)
	if err != nil {
		t.Fatal(err)
	}
	// Key -1 marks a session that never took place.
	if !reflect.DeepEqual(sessions, []int{9158, 9161}) {
		t.Errorf("sessions = %v", sessions)
	}

	if _, err := c.SessionKeys(context.Background(), 2023, 9999); err == nil {
		t.Error("unknown meeting accepted")
	}
}

func TestSessionURL(t *testing.T) {
	c, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(seasonIndex))
	}))

	url, err := c.SessionURL(context.Background(), 2023, 1219, 9161)
	if err != nil {
		t.Fatal(err)
	}
	want := srv.URL + "/2023/2023-09-17_Singapore_Grand_Prix/2023-09-16_Qualifying"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}

	if _, err := c.SessionURL(context.Background(), 2023, 1219, 1234); err == nil {
		t.Error("unknown session accepted")
	}
}

func TestSeasonIndexCached(t *testing.T) {
	var hits atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(seasonIndex))
	}))

	for i := 0; i < 3; i++ {
		if _, err := c.Fetch(context.Background(), 2023); err != nil {
			t.Fatal(err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("index fetched %d times, want 1", hits.Load())
	}
}
