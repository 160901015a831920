// Package history replays archived sessions: it fetches the raw topic
// streams from the static archive, reconstructs absolute message times, and
// drives the collection processors over the result.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pitwall/pitwall/engine/decode"
	"github.com/pitwall/pitwall/engine/domain"
	"github.com/pitwall/pitwall/pkg/resilience"
)

// streamSuffix is the extension of the per-topic archive files.
const streamSuffix = ".jsonStream"

// Archived lines start with a session-relative offset, e.g.
// "00:17:44.335{...}".
var lineRE = regexp.MustCompile(`^(\d+:\d+:\d+\.\d+)(.*)$`)

// Archive fetches raw topic streams for one session. Like the schedule
// client it rate limits itself against the shared upstream host.
type Archive struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.Breaker
	log        *slog.Logger
}

// NewArchive builds an Archive.
func NewArchive(log *slog.Logger) *Archive {
	if log == nil {
		log = slog.Default()
	}
	return &Archive{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
		log:        log,
	}
}

// fetch performs one rate-limited GET. Transport failures and 5xx responses
// count against the circuit breaker; a 404 for a missing topic does not.
func (a *Archive) fetch(ctx context.Context, url string) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var body []byte
	var missing error
	err = a.breaker.Call(ctx, func(ctx context.Context) error {
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("history: fetch %s: %w", url, err)
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("history: fetch %s: status %d", url, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			missing = fmt.Errorf("history: fetch %s: status %d", url, resp.StatusCode)
			return nil
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	if missing != nil {
		return nil, missing
	}
	return body, nil
}

// Topics lists the topics archived for a session, from the session's own
// index file.
func (a *Archive) Topics(ctx context.Context, sessionURL string) ([]string, error) {
	data, err := a.fetch(ctx, sessionURL+"/Index.json")
	if err != nil {
		return nil, err
	}
	var index struct {
		Feeds map[string]struct {
			StreamPath string `json:"StreamPath"`
		} `json:"Feeds"`
	}
	if err := decodeIndex(data, &index); err != nil {
		return nil, fmt.Errorf("history: parse session index: %w", err)
	}
	topics := []string{}
	for _, feed := range index.Feeds {
		if strings.HasSuffix(feed.StreamPath, streamSuffix) {
			topics = append(topics, strings.TrimSuffix(feed.StreamPath, streamSuffix))
		}
	}
	sort.Strings(topics)
	return topics, nil
}

// record is one archived line: a session-relative offset and its decoded
// payload.
type record struct {
	offset  time.Duration
	content any
}

// fetchTopic downloads and parses one topic stream. Lines that fail to
// parse or decode are logged and dropped.
func (a *Archive) fetchTopic(ctx context.Context, sessionURL, topic string) ([]record, error) {
	data, err := a.fetch(ctx, sessionURL+"/"+topic+streamSuffix)
	if err != nil {
		return nil, err
	}
	var records []record
	for _, line := range strings.Split(string(data), "\r\n") {
		if line == "" {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			a.log.Warn("history: bad archive line", "topic", topic, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseLine(line string) (record, error) {
	m := lineRE.FindStringSubmatch(strings.TrimSuffix(line, "\r"))
	if m == nil {
		return record{}, fmt.Errorf("no session time prefix in %q", truncate(line, 40))
	}
	offset, err := domain.ParseSessionTime(m[1])
	if err != nil {
		return record{}, err
	}
	content, err := decode.Decode(m[2])
	if err != nil {
		return record{}, err
	}
	return record{offset: offset, content: content}, nil
}

// decodeIndex unmarshals an archive index file, tolerating the BOM the
// upstream serves it with.
func decodeIndex(data []byte, v any) error {
	return json.Unmarshal(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF}), v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Messages fetches the given topics and returns their lines as messages with
// absolute timepoints, sorted by time then topic. Topics missing from the
// archive are logged and skipped.
//
// The archive only records session-relative offsets. The absolute session
// start is recovered from the timestamped telemetry records: each carries
// both a wall-clock time and the offset of the line that delivered it, and
// the largest difference between the two is the best estimate of t0 (smaller
// differences reflect delivery latency).
func (a *Archive) Messages(ctx context.Context, sessionURL string, topics []string) ([]domain.Message, error) {
	fetchSet := make([]string, len(topics))
	copy(fetchSet, topics)
	requested := make(map[string]bool, len(topics))
	for _, t := range topics {
		requested[t] = true
	}
	// Position.z and CarData.z anchor the start estimate even when the
	// caller did not ask for them.
	for _, anchor := range []string{"Position.z", "CarData.z"} {
		if !requested[anchor] {
			fetchSet = append(fetchSet, anchor)
		}
	}

	lines := make(map[string][]record, len(fetchSet))
	for _, topic := range fetchSet {
		records, err := a.fetchTopic(ctx, sessionURL, topic)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			a.log.Warn("history: topic unavailable", "topic", topic, "error", err)
			continue
		}
		lines[topic] = records
	}

	t0, err := sessionStart(lines)
	if err != nil {
		return nil, err
	}

	var msgs []domain.Message
	for topic, records := range lines {
		if !requested[topic] {
			continue
		}
		for _, rec := range records {
			msgs = append(msgs, domain.Message{
				Topic:     topic,
				Content:   rec.content,
				Timepoint: t0.Add(rec.offset),
			})
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timepoint.Equal(msgs[j].Timepoint) {
			return msgs[i].Timepoint.Before(msgs[j].Timepoint)
		}
		return msgs[i].Topic < msgs[j].Topic
	})
	return msgs, nil
}

// sessionStart estimates t0 from the telemetry topics: the maximum over all
// timestamped records of (record wall time - line offset).
func sessionStart(lines map[string][]record) (time.Time, error) {
	var t0 time.Time
	scan := func(records []record, listKey, timeKey string) {
		for _, rec := range records {
			m, ok := rec.content.(map[string]any)
			if !ok {
				continue
			}
			list, ok := m[listKey].([]any)
			if !ok {
				continue
			}
			for _, item := range list {
				entry, ok := item.(map[string]any)
				if !ok {
					continue
				}
				ts, ok := entry[timeKey].(string)
				if !ok {
					continue
				}
				at, err := domain.ParseUTC(ts)
				if err != nil {
					continue
				}
				if candidate := at.Add(-rec.offset); candidate.After(t0) {
					t0 = candidate
				}
			}
		}
	}
	scan(lines["Position.z"], "Position", "Timestamp")
	scan(lines["CarData.z"], "Entries", "Utc")
	if t0.IsZero() {
		return time.Time{}, fmt.Errorf("history: no telemetry records to estimate session start")
	}
	return t0, nil
}
