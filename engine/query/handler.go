package query

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Storage is the slice of the store the query surface needs.
type Storage interface {
	Query(ctx context.Context, collection string, filter bson.M) ([]bson.M, error)
	LatestSessionKeys(ctx context.Context) (meetingKey, sessionKey int, err error)
}

const (
	cacheTTL     = 3 * time.Second
	cacheMaxSize = 1024
)

var collectionPath = regexp.MustCompile(`^/v1/(\w+)$`)

// Handler serves the read-only query API.
type Handler struct {
	store       Storage
	log         *slog.Logger
	cache       *requestCache
	collections map[string]struct{}

	faviconMu  sync.Mutex
	favicon    []byte
	faviconURL string
}

// NewHandler builds the handler. Known collection names gate the /v1 paths;
// anything else is a 400.
func NewHandler(store Storage, collections []string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	known := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		known[c] = struct{}{}
	}
	return &Handler{
		store:       store,
		log:         log,
		cache:       newRequestCache(cacheTTL, cacheMaxSize),
		collections: known,
		faviconURL:  os.Getenv("FAVICON_URL"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/" || r.URL.Path == "":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, "Welcome")
	case r.URL.Path == "/favicon.ico":
		h.serveFavicon(w, r)
	default:
		h.serveCollection(w, r)
	}
}

func (h *Handler) serveCollection(w http.ResponseWriter, r *http.Request) {
	m := collectionPath.FindStringSubmatch(strings.ToLower(r.URL.Path))
	if m == nil {
		badRequest(w, "invalid route")
		return
	}
	collection := m[1]
	if _, ok := h.collections[collection]; !ok {
		badRequest(w, fmt.Sprintf("unknown collection %q", collection))
		return
	}

	params, useCSV, err := ParseQuery(r.URL.RawQuery)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if NeedsLatest(params) {
		meetingKey, sessionKey, err := h.store.LatestSessionKeys(r.Context())
		if err != nil {
			h.log.Error("query: latest session lookup", "error", err)
			http.Error(w, "could not resolve latest session", http.StatusInternalServerError)
			return
		}
		params = ResolveLatest(params, meetingKey, sessionKey)
	}

	key := cacheKey(collection, params)
	rows, cached := h.cache.get(key)
	if !cached {
		raw, err := h.store.Query(r.Context(), collection, BuildFilter(params))
		if err != nil {
			if r.Context().Err() != nil {
				// The timeout middleware owns the 408; just stop.
				return
			}
			h.log.Error("query: store query", "collection", collection, "error", err)
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		rows = Shape(raw)
		h.cache.put(key, rows)
	}

	if useCSV {
		data, err := EncodeCSV(rows)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", collection))
		_, _ = io.WriteString(w, data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if rows == nil {
		rows = []map[string]any{}
	}
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		h.log.Warn("query: encode response", "error", err)
	}
}

// serveFavicon proxies and caches the favicon. Without a configured source
// there is nothing to serve.
func (h *Handler) serveFavicon(w http.ResponseWriter, r *http.Request) {
	h.faviconMu.Lock()
	cached := h.favicon
	h.faviconMu.Unlock()

	if cached == nil {
		if h.faviconURL == "" {
			http.NotFound(w, r)
			return
		}
		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, h.faviconURL, nil)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil || resp.StatusCode != http.StatusOK {
			if resp != nil {
				resp.Body.Close()
			}
			http.NotFound(w, r)
			return
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		h.faviconMu.Lock()
		h.favicon = data
		cached = data
		h.faviconMu.Unlock()
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(cached)
}

func badRequest(w http.ResponseWriter, msg string) {
	http.Error(w, msg, http.StatusBadRequest)
}
