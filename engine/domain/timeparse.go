package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseUTC parses an upstream timestamp such as "2023-09-15T13:08:19.923Z".
// The trailing 'Z' is optional and fractional seconds may carry 1 to 6
// digits. The result is always in UTC.
func ParseUTC(s string) (time.Time, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "Z")
	datePart, timePart, ok := strings.Cut(s, "T")
	if !ok {
		return time.Time{}, fmt.Errorf("parse timestamp %q: missing 'T'", s)
	}

	var year, month, day int
	if _, err := fmt.Sscanf(datePart, "%d-%d-%d", &year, &month, &day); err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}

	hms := strings.SplitN(timePart, ":", 3)
	if len(hms) != 3 {
		return time.Time{}, fmt.Errorf("parse timestamp %q: bad time-of-day", s)
	}
	hour, err1 := strconv.Atoi(hms[0])
	minute, err2 := strconv.Atoi(hms[1])
	sec, micro, err3 := parseSeconds(hms[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: bad time-of-day", s)
	}

	return time.Date(year, time.Month(month), day, hour, minute, sec, micro*1000, time.UTC), nil
}

// ParseSessionTime parses a session-relative offset such as "01:17:44.335"
// or "26.966". Hours and minutes are optional; fractional seconds may carry
// 1 to 6 digits.
func ParseSessionTime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse session time: empty")
	}
	parts := strings.Split(s, ":")
	var hours, minutes int
	var secPart string
	var err error
	switch len(parts) {
	case 3:
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("parse session time %q: %w", s, err)
		}
		if minutes, err = strconv.Atoi(parts[1]); err != nil {
			return 0, fmt.Errorf("parse session time %q: %w", s, err)
		}
		secPart = parts[2]
	case 2:
		if minutes, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("parse session time %q: %w", s, err)
		}
		secPart = parts[1]
	case 1:
		secPart = parts[0]
	default:
		return 0, fmt.Errorf("parse session time %q: too many components", s)
	}
	sec, micro, err := parseSeconds(secPart)
	if err != nil {
		return 0, fmt.Errorf("parse session time %q: %w", s, err)
	}
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(micro)*time.Microsecond, nil
}

// parseSeconds splits "15.32" into whole seconds and microseconds, padding or
// truncating the fraction to 6 digits.
func parseSeconds(s string) (sec, micro int, err error) {
	whole, frac, _ := strings.Cut(s, ".")
	sec, err = strconv.Atoi(whole)
	if err != nil {
		return 0, 0, err
	}
	if frac == "" {
		return sec, 0, nil
	}
	if len(frac) < 6 {
		frac += strings.Repeat("0", 6-len(frac))
	} else if len(frac) > 6 {
		frac = frac[:6]
	}
	micro, err = strconv.Atoi(frac)
	if err != nil {
		return 0, 0, err
	}
	return sec, micro, nil
}

// ApplyGMTOffset interprets a naive local datetime against a signed
// "HH:MM:SS" GMT offset and converts it to UTC.
func ApplyGMTOffset(local time.Time, gmtOffset string) (time.Time, error) {
	neg := strings.HasPrefix(gmtOffset, "-")
	trimmed := strings.TrimPrefix(strings.TrimPrefix(gmtOffset, "-"), "+")
	parts := strings.Split(trimmed, ":")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("parse gmt offset %q", gmtOffset)
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return time.Time{}, fmt.Errorf("parse gmt offset %q", gmtOffset)
	}
	offsetSec := hours*3600 + minutes*60
	if neg {
		offsetSec = -offsetSec
	}
	zone := time.FixedZone("", offsetSec)
	localized := time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), zone)
	return localized.UTC(), nil
}
