package query

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Sort key priority for query responses. A key participates only when it is
// present and non-null in every row.
var sortKeys = []string{
	"date_start", "date", "meeting_key", "session_key", "position",
	"lap_start", "lap_number", "lap_end", "date_end", "stint_number",
	"driver_number",
}

// Shape post-processes raw store rows into response rows: internal fields
// stripped, datetimes normalized to UTC, exact duplicates removed, and the
// result ordered by the standard key list.
func Shape(rows []bson.M) []map[string]any {
	shaped := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out := make(map[string]any, len(row))
		for k, v := range row {
			if strings.HasPrefix(k, "_") {
				continue
			}
			out[k] = normalizeValue(v)
		}
		shaped = append(shaped, out)
	}
	shaped = dedupRows(shaped)
	sortRows(shaped)
	return shaped
}

// normalizeValue maps store-native values to response values. Datetimes
// come back in UTC so encoding always carries an explicit offset.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	case int32:
		return int64(t)
	default:
		return v
	}
}

// dedupRows removes rows whose visible content is identical, keeping the
// first occurrence.
func dedupRows(rows []map[string]any) []map[string]any {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0]
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			out = append(out, row)
			continue
		}
		key := string(data)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}

func sortRows(rows []map[string]any) {
	if len(rows) <= 1 {
		return
	}
	var keys []string
	for _, key := range sortKeys {
		usable := true
		for _, row := range rows {
			if v, ok := row[key]; !ok || v == nil {
				usable = false
				break
			}
		}
		if usable {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range keys {
			if c := compareValues(rows[i][key], rows[j][key]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}
