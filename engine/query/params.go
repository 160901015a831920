// Package query implements the read-only HTTP surface: URL predicate
// parsing, the filter algebra, result shaping, and the handler itself.
package query

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Op is a comparison operator from the URL grammar.
type Op string

const (
	OpEq  Op = "="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Operator lookup order matters: two-character operators must be tried
// before their one-character prefixes.
var operators = []Op{OpGte, OpLte, OpEq, OpGt, OpLt}

// Param is a single parsed predicate, e.g. lap_number>=3.
type Param struct {
	Field string
	Op    Op
	Value any // string, bool, int64, float64 or time.Time
}

// Fields whose values look numeric or date-like but must stay strings.
var uncastedFields = map[string]struct{}{
	"gmt_offset":  {},
	"team_colour": {},
}

// A URL-decoded space followed by HH:MM at end of value is a timezone
// suffix whose '+' was eaten by form decoding.
var tzSuffix = regexp.MustCompile(` \d{2}:\d{2}$`)

// ParseQuery parses a raw query string into predicates. The csv switch is
// extracted separately. Repeated parameter keys are preserved.
func ParseQuery(rawQuery string) (params []Param, csv bool, err error) {
	if rawQuery == "" {
		return nil, false, nil
	}
	for _, segment := range strings.Split(rawQuery, "&") {
		if segment == "" {
			continue
		}
		decoded, err := decodeSegment(segment)
		if err != nil {
			return nil, false, err
		}
		if tzSuffix.MatchString(decoded) && strings.Contains(decoded, "date") {
			decoded = strings.Replace(decoded, " ", "+", 1)
		}

		param, raw, err := parseParam(decoded)
		if err != nil {
			return nil, false, err
		}
		if param.Field == "csv" {
			if b, ok := param.Value.(bool); ok {
				csv = b
			}
			continue
		}
		params = append(params, expandDateOnly(param, raw)...)
	}
	return params, csv, nil
}

func decodeSegment(segment string) (string, error) {
	key, value, found := strings.Cut(segment, "=")
	k, err := url.QueryUnescape(key)
	if err != nil {
		return "", fmt.Errorf("bad query parameter %q", segment)
	}
	if !found {
		return k, nil
	}
	v, err := url.QueryUnescape(value)
	if err != nil {
		return "", fmt.Errorf("bad query parameter %q", segment)
	}
	return k + "=" + v, nil
}

func parseParam(s string) (Param, string, error) {
	for _, op := range operators {
		idx := strings.Index(s, string(op))
		if idx < 0 {
			continue
		}
		field := strings.ToLower(s[:idx])
		raw := s[idx+len(op):]

		var value any = raw
		if _, skip := uncastedFields[field]; !skip {
			value = castValue(raw)
		}
		return Param{Field: field, Op: op, Value: value}, raw, nil
	}
	return Param{}, "", fmt.Errorf("no valid operator in %q", s)
}

// castValue converts a raw string to its most specific type.
func castValue(s string) any {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if t, ok := parseQueryDate(s); ok {
		return t
	}
	return s
}

var queryDateLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseQueryDate(s string) (time.Time, bool) {
	for _, layout := range queryDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// hasTimeInfo reports whether a raw date value specified a time of day.
func hasTimeInfo(raw string) bool {
	return strings.ContainsAny(raw, ":T")
}

// expandDateOnly widens a date-only predicate to cover the whole day:
// date=D becomes date>=D and date<D+1d; date<=D becomes date<D+1d;
// date>D becomes date>=D+1d. date<D and date>=D pass through.
func expandDateOnly(p Param, raw string) []Param {
	t, isDate := p.Value.(time.Time)
	if !isDate || hasTimeInfo(raw) {
		return []Param{p}
	}
	nextDay := t.AddDate(0, 0, 1)
	switch p.Op {
	case OpGt:
		return []Param{{Field: p.Field, Op: OpGte, Value: nextDay}}
	case OpEq:
		return []Param{
			{Field: p.Field, Op: OpGte, Value: t},
			{Field: p.Field, Op: OpLt, Value: nextDay},
		}
	case OpLte:
		return []Param{{Field: p.Field, Op: OpLt, Value: nextDay}}
	default:
		return []Param{p}
	}
}

// ResolveLatest substitutes the literal value "latest" on meeting_key and
// session_key with the keys of the newest known session.
func ResolveLatest(params []Param, meetingKey, sessionKey int) []Param {
	out := make([]Param, len(params))
	for i, p := range params {
		if s, ok := p.Value.(string); ok && s == "latest" {
			switch p.Field {
			case "meeting_key":
				p.Value = int64(meetingKey)
			case "session_key":
				p.Value = int64(sessionKey)
			}
		}
		out[i] = p
	}
	return out
}

// NeedsLatest reports whether any parameter uses the latest alias.
func NeedsLatest(params []Param) bool {
	for _, p := range params {
		if s, ok := p.Value.(string); ok && s == "latest" &&
			(p.Field == "meeting_key" || p.Field == "session_key") {
			return true
		}
	}
	return false
}
