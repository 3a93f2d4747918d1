package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Layouts used when rendering timestamps for axis labels and tables
const (
	LayoutDateTime = "2006-01-02 15:04"
	LayoutDate     = "2006-01-02"
	LayoutTime     = "15:04"
)

// parseLayouts are tried in order by ParseTimestamp
var parseLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// Epoch values above epochMillisThreshold are treated as milliseconds. Numbers
// outside [epochMinSeconds, epochMaxMillis] are not timestamps (e.g. 20240301).
const (
	epochMillisThreshold = 1e11
	epochMinSeconds      = 1e8
	epochMaxMillis       = 1e14
)

// Timestamp is a parsed sample time. An invalid Timestamp keeps the raw input so
// it can still be displayed and reported.
type Timestamp struct {
	Time  time.Time
	Raw   string
	Valid bool
}

// NewTimestamp wraps an already parsed time
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t, Raw: t.Format(time.RFC3339Nano), Valid: true}
}

// Invalid returns an invalid Timestamp carrying raw
func Invalid(raw string) Timestamp {
	return Timestamp{Raw: raw}
}

// ParseTimestamp parses a timestamp value taken from an API payload, reading
// zone-less input as UTC. It never fails: unparseable input yields a Timestamp
// with Valid == false.
func ParseTimestamp(input string) Timestamp {
	return ParseTimestampIn(input, time.UTC)
}

// ParseTimestampIn is ParseTimestamp with zone-less input read as wall time in
// loc. A nil loc means time.Local.
func ParseTimestampIn(input string, loc *time.Location) Timestamp {
	if loc == nil {
		loc = time.Local
	}
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Invalid(input)
	}

	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return Timestamp{Time: t, Raw: input, Valid: true}
		}
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		if ts, ok := fromEpoch(f); ok {
			ts.Raw = input
			return ts
		}
	}

	return Invalid(input)
}

// parseTimestampValue accepts the loosely typed values found in decoded JSON
func parseTimestampValue(v any, loc *time.Location) Timestamp {
	switch val := v.(type) {
	case string:
		return ParseTimestampIn(val, loc)
	case json.Number:
		return ParseTimestampIn(val.String(), loc)
	case float64:
		if ts, ok := fromEpoch(val); ok {
			ts.Raw = strconv.FormatFloat(val, 'f', -1, 64)
			return ts
		}
		return Invalid(strconv.FormatFloat(val, 'f', -1, 64))
	case nil:
		return Invalid("")
	default:
		return Invalid("")
	}
}

func fromEpoch(f float64) (Timestamp, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < epochMinSeconds || f > epochMaxMillis {
		return Timestamp{}, false
	}
	if f >= epochMillisThreshold {
		return Timestamp{Time: time.UnixMilli(int64(f)).UTC(), Valid: true}, true
	}
	sec, frac := math.Modf(f)
	return Timestamp{Time: time.Unix(int64(sec), int64(frac*1e9)).UTC(), Valid: true}, true
}

// FormatTimestamp formats ts with a Go time layout. Invalid timestamps format to
// their raw input.
func FormatTimestamp(ts Timestamp, layout string) string {
	if !ts.Valid {
		return ts.Raw
	}
	return ts.Time.Format(layout)
}

// In returns the timestamp converted to loc; invalid timestamps are returned unchanged
func (ts Timestamp) In(loc *time.Location) Timestamp {
	if !ts.Valid || loc == nil {
		return ts
	}
	ts.Time = ts.Time.In(loc)
	return ts
}

// Equal compares the instant for valid timestamps and the raw input otherwise
func (ts Timestamp) Equal(other Timestamp) bool {
	if ts.Valid != other.Valid {
		return false
	}
	if !ts.Valid {
		return ts.Raw == other.Raw
	}
	return ts.Time.Equal(other.Time)
}

// MarshalJSON renders valid timestamps as RFC 3339 and invalid ones as null
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if !ts.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(ts.Time.Format(time.RFC3339Nano))
}
