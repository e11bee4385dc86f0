package epias

import (
	"encoding/json"
	"strconv"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime reads a timestamp as the platform writes it. Values without an
// offset are taken as UTC.
func ParseTime(v any) (time.Time, bool) {
	switch s := v.(type) {
	case time.Time:
		return s, true
	case string:
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// RecordTime returns the parsed date field of a record.
func RecordTime(r Record) (time.Time, bool) {
	return ParseTime(r["date"])
}

// Float converts a numeric record value. Numeric strings count; nil, bools and
// text do not.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
