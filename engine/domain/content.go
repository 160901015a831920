package domain

import (
	"sort"
	"strconv"
)

// Helpers for navigating decoded upstream payloads. The feed is schemaless:
// the same field may arrive as a map one message and a list the next, numbers
// arrive as float64 after JSON decoding, and driver numbers are string keys.

// AsMap returns v as a JSON object, or false.
func AsMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// AsSlice returns v as a JSON array, or false.
func AsSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// Field returns m[key] when v is a map containing key.
func Field(v any, key string) (any, bool) {
	m, ok := AsMap(v)
	if !ok {
		return nil, false
	}
	val, ok := m[key]
	return val, ok
}

// Str returns v as a string.
func Str(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// Float returns v as a float64, accepting JSON numbers and numeric strings.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns v as an int, accepting JSON numbers with no fractional part and
// numeric strings.
func Int(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// Bool returns v as a bool.
func Bool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// Indexed is a positioned element of a payload field that alternates between
// list and map shape upstream.
type Indexed struct {
	Index int
	Value any
}

// IndexedItems normalizes a field that arrives either as a list or as a map
// keyed by stringified integers into an ordered sequence of (index, value)
// pairs. Non-integer map keys are dropped.
func IndexedItems(v any) []Indexed {
	switch vv := v.(type) {
	case []any:
		items := make([]Indexed, len(vv))
		for i, e := range vv {
			items[i] = Indexed{Index: i, Value: e}
		}
		return items
	case map[string]any:
		items := make([]Indexed, 0, len(vv))
		for k, e := range vv {
			i, err := strconv.Atoi(k)
			if err != nil {
				continue
			}
			items = append(items, Indexed{Index: i, Value: e})
		}
		sort.Slice(items, func(a, b int) bool { return items[a].Index < items[b].Index })
		return items
	}
	return nil
}

// DriverEntry is one entry of a payload map keyed by stringified driver
// numbers.
type DriverEntry struct {
	Number int
	Value  any
}

// DriverEntries iterates a payload map keyed by stringified driver numbers,
// returning (driver number, entry) pairs in ascending driver order.
func DriverEntries(v any) []DriverEntry {
	m, ok := AsMap(v)
	if !ok {
		return nil
	}
	out := make([]DriverEntry, 0, len(m))
	for k, e := range m {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out = append(out, DriverEntry{Number: n, Value: e})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Number < out[b].Number })
	return out
}
