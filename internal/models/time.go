package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime accepts epoch milliseconds (number or numeric string), the ISO-8601
// shapes the backend services emit and Jackson's LocalDateTime arrays. Zone-less values
// are read as UTC.
func ParseTime(raw json.RawMessage) (time.Time, bool) {
	return ParseTimeIn(raw, time.UTC)
}

// ParseTimeIn is ParseTime with zone-less values read in loc.
func ParseTimeIn(raw json.RawMessage, loc *time.Location) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	if raw[0] == '[' {
		return parseArrayTime(raw, loc)
	}

	if raw[0] != '"' {
		ms, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)), true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseArrayTime decodes [year, month, day, hour, minute, second, nanos].
func parseArrayTime(raw json.RawMessage, loc *time.Location) (time.Time, bool) {
	var parts []int
	if err := json.Unmarshal(raw, &parts); err != nil || len(parts) < 3 {
		return time.Time{}, false
	}
	for len(parts) < 7 {
		parts = append(parts, 0)
	}
	return time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6], loc), true
}

// Timestamp is a time.Time that tolerates the backend's mixed timestamp encodings.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler. Unparseable values leave the zero time.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	parsed, _ := ParseTime(data)
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339))
}
