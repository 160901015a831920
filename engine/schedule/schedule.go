// Package schedule resolves season, meeting and session identifiers against
// the upstream static archive index.
package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BaseURL is the root of the static live-timing archive.
const BaseURL = "https://livetiming.formula1.com/static"

// Season is the decoded year index.
type Season struct {
	Year     int       `json:"Year"`
	Meetings []Meeting `json:"Meetings"`
}

// Meeting is one race weekend in the index.
type Meeting struct {
	Key      int       `json:"Key"`
	Name     string    `json:"Name"`
	Sessions []Session `json:"Sessions"`
}

// Session is one archived session. Path is relative to BaseURL; sessions
// that never took place carry key -1.
type Session struct {
	Key  int    `json:"Key"`
	Name string `json:"Name"`
	Path string `json:"Path"`
}

// Client fetches and caches season indexes. Requests to the archive are
// rate limited; it is a shared public host.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string

	mu      sync.Mutex
	seasons map[int]*Season
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at an alternative archive root.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// NewClient builds a Client with archive-friendly defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		baseURL:    BaseURL,
		seasons:    make(map[int]*Season),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// fetch performs one rate-limited GET and returns the body.
func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("schedule: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("schedule: fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Fetch returns the season index for a year, cached for the client's
// lifetime. The upstream file is encoded as UTF-8 with a BOM.
func (c *Client) Fetch(ctx context.Context, year int) (*Season, error) {
	c.mu.Lock()
	cached := c.seasons[year]
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	data, err := c.fetch(ctx, fmt.Sprintf("%s/%d/Index.json", c.baseURL, year))
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	var season Season
	if err := json.Unmarshal(data, &season); err != nil {
		return nil, fmt.Errorf("schedule: parse season %d index: %w", year, err)
	}

	c.mu.Lock()
	c.seasons[year] = &season
	c.mu.Unlock()
	return &season, nil
}

// MeetingKeys lists the meeting keys of a season, in index order.
func (c *Client) MeetingKeys(ctx context.Context, year int) ([]int, error) {
	season, err := c.Fetch(ctx, year)
	if err != nil {
		return nil, err
	}
	keys := make([]int, 0, len(season.Meetings))
	for _, m := range season.Meetings {
		keys = append(keys, m.Key)
	}
	return keys, nil
}

// SessionKeys lists the session keys of a meeting, skipping placeholder
// sessions.
func (c *Client) SessionKeys(ctx context.Context, year, meetingKey int) ([]int, error) {
	season, err := c.Fetch(ctx, year)
	if err != nil {
		return nil, err
	}
	for _, m := range season.Meetings {
		if m.Key != meetingKey {
			continue
		}
		var keys []int
		for _, s := range m.Sessions {
			if s.Key == -1 {
				continue
			}
			keys = append(keys, s.Key)
		}
		return keys, nil
	}
	return nil, fmt.Errorf("schedule: meeting %d not found in season %d", meetingKey, year)
}

// SessionURL returns the archive URL holding a session's raw topic files.
func (c *Client) SessionURL(ctx context.Context, year, meetingKey, sessionKey int) (string, error) {
	season, err := c.Fetch(ctx, year)
	if err != nil {
		return "", err
	}
	for _, m := range season.Meetings {
		if m.Key != meetingKey {
			continue
		}
		for _, s := range m.Sessions {
			if s.Key == sessionKey && s.Path != "" {
				return joinURL(c.baseURL, s.Path), nil
			}
		}
	}
	return "", fmt.Errorf("schedule: session not found (year %d, meeting %d, session %d)",
		year, meetingKey, sessionKey)
}

func joinURL(parts ...string) string {
	trimmed := make([]string, len(parts))
	for i, p := range parts {
		trimmed[i] = strings.Trim(p, "/")
	}
	return strings.Join(trimmed, "/")
}
