package telemetry

import (
	"encoding/json"
	"math"
	"sort"
)

// Sample is one telemetry reading at a point in time. A field missing from the
// sample means "no reading"; Value still defaults it to 0 for display.
type Sample struct {
	Time        Timestamp
	Charging    bool
	Discharging bool

	values map[string]float64
}

// NewSample creates a sample from a set of readings. Non-finite values and
// "sensor absent" markers (see IsNoReading) are dropped so they never reach
// downstream statistics.
func NewSample(ts Timestamp, readings map[string]float64) Sample {
	s := Sample{Time: ts, values: make(map[string]float64, len(readings))}
	for field, v := range readings {
		s.set(field, v)
	}
	return s
}

// WithFlags returns a copy of the sample with the charging flags set
func (s Sample) WithFlags(charging, discharging bool) Sample {
	s.Charging = charging
	s.Discharging = discharging
	return s
}

func (s *Sample) set(field string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) || IsNoReading(field, v) {
		return
	}
	s.values[field] = v
}

// Reading returns the value of field and whether a reading is present
func (s Sample) Reading(field string) (float64, bool) {
	v, ok := s.values[field]
	return v, ok
}

// Value returns the value of field, or 0 when there is no reading
func (s Sample) Value(field string) float64 {
	return s.values[field]
}

// Has reports whether the sample carries a reading for field
func (s Sample) Has(field string) bool {
	_, ok := s.values[field]
	return ok
}

// Fields returns the names of the fields with a reading, sorted
func (s Sample) Fields() []string {
	fields := make([]string, 0, len(s.values))
	for field := range s.values {
		fields = append(fields, field)
	}
	sort.Slice(fields, func(i, j int) bool { return fieldLess(fields[i], fields[j]) })
	return fields
}

// Readings returns a copy of the present readings
func (s Sample) Readings() map[string]float64 {
	out := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// MarshalJSON flattens the sample into a single JSON record
func (s Sample) MarshalJSON() ([]byte, error) {
	record := make(map[string]any, len(s.values)+3)
	for k, v := range s.values {
		record[k] = v
	}
	record["time"] = s.Time
	record[FlagCharging] = s.Charging
	record[FlagDischarging] = s.Discharging
	return json.Marshal(record)
}

// Series is the chronologically ordered samples of one device over one query window
type Series struct {
	DeviceID string   `json:"deviceId"`
	Samples  []Sample `json:"samples"`
}

// Len returns the number of samples
func (s Series) Len() int {
	return len(s.Samples)
}

// IsEmpty reports whether the series has no samples
func (s Series) IsEmpty() bool {
	return len(s.Samples) == 0
}

// Last returns the chronologically last sample
func (s Series) Last() (Sample, bool) {
	if len(s.Samples) == 0 {
		return Sample{}, false
	}
	return s.Samples[len(s.Samples)-1], true
}

// Values returns the present readings of field in series order
func (s Series) Values(field string) []float64 {
	var values []float64
	for _, sample := range s.Samples {
		if v, ok := sample.Reading(field); ok {
			values = append(values, v)
		}
	}
	return values
}

// SortByTime returns a copy of the series ordered by timestamp. The sort is stable
// and samples with invalid timestamps are placed last in their original order.
func (s Series) SortByTime() Series {
	samples := make([]Sample, len(s.Samples))
	copy(samples, s.Samples)
	sort.SliceStable(samples, func(i, j int) bool {
		a, b := samples[i].Time, samples[j].Time
		if a.Valid != b.Valid {
			return a.Valid
		}
		if !a.Valid {
			return false
		}
		return a.Time.Before(b.Time)
	})
	return Series{DeviceID: s.DeviceID, Samples: samples}
}
