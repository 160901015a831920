// Package domain defines the core types shared by the ingestion pipeline:
// the decoded upstream Message, the Document contract implemented by every
// collection record, and the identity helpers used to detect duplicate and
// superseded rows.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// Message is a single decoded upstream frame.
type Message struct {
	Topic     string
	Content   any
	Timepoint time.Time
}

// Document is an element of a collection, computed from topic messages.
// Implementations are plain structs owned by the processor that emits them;
// once handed to a sink they must not be mutated.
type Document interface {
	// Collection returns the name of the collection this document belongs to.
	Collection() string

	// UniqueKey returns the content-addressed identity of the document.
	// Two emissions of the same logical row return equal keys.
	UniqueKey() []any
}

// KeyString renders a unique key as a stable string: datetimes become integer
// milliseconds since epoch, everything else is stringified, components are
// joined with '_'. It is the value stored in the '_key' field.
func KeyString(key []any) string {
	parts := make([]string, len(key))
	for i, k := range key {
		switch v := k.(type) {
		case time.Time:
			parts[i] = strconv.FormatInt(v.UnixMilli(), 10)
		case *time.Time:
			if v == nil {
				parts[i] = "<nil>"
			} else {
				parts[i] = strconv.FormatInt(v.UnixMilli(), 10)
			}
		case string:
			parts[i] = v
		case int:
			parts[i] = strconv.Itoa(v)
		case int64:
			parts[i] = strconv.FormatInt(v, 10)
		case float64:
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		case bool:
			parts[i] = strconv.FormatBool(v)
		case nil:
			parts[i] = "<nil>"
		default:
			parts[i] = stringify(v)
		}
	}
	return strings.Join(parts, "_")
}

func stringify(v any) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	return "?"
}

// CompareKeys orders two unique keys component-wise. A component pair that
// cannot be compared (nil, or mismatched types) is treated as equal and the
// comparison moves on to the next component.
func CompareKeys(a, b []any) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c, ok := compareComponent(a[i], b[i]); ok && c != 0 {
			return c
		}
	}
	return 0
}

func compareComponent(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if ta, ok := asTime(a); ok {
		tb, ok := asTime(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	if fa, ok := asNumber(a); ok {
		fb, ok := asNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	}
	return time.Time{}, false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
