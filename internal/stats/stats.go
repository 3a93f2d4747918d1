// Package stats computes summary statistics and deviation classes over telemetry series.
package stats

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

// FieldStatistics summarizes the readings of one field over a series
type FieldStatistics struct {
	Field   string  `json:"field"`
	Count   int     `json:"count"`
	Current float64 `json:"current"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	StdDev  float64 `json:"stdDev"`
	Trend   float64 `json:"trend"`
}

// ComputeFieldStatistics summarizes the readings of field in series. Samples
// without a reading for the field are skipped; ok is false when none remain.
//
// The median is the upper-middle element of the sorted values for even counts and
// the standard deviation is the population one (divide by N).
func ComputeFieldStatistics(series telemetry.Series, field string) (FieldStatistics, bool) {
	values := series.Values(field)
	if len(values) == 0 {
		return FieldStatistics{}, false
	}

	return summarize(field, values), true
}

func summarize(field string, values []float64) FieldStatistics {
	n := len(values)
	first, last := values[0], values[n-1]

	fs := FieldStatistics{
		Field:   field,
		Count:   n,
		Current: last,
		Min:     floats.Min(values),
		Max:     floats.Max(values),
		Trend:   last - first,
	}

	if fs.Min == fs.Max {
		// Constant series; avoid rounding noise from sum/n.
		fs.Mean = fs.Min
		fs.Median = fs.Min
		fs.StdDev = 0
		return fs
	}

	fs.Mean, fs.StdDev = stat.PopMeanStdDev(values, nil)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	fs.Median = sorted[n/2]

	return fs
}

// ComputeAll summarizes every field in fields, omitting those without readings
func ComputeAll(series telemetry.Series, fields []string) []FieldStatistics {
	out := make([]FieldStatistics, 0, len(fields))
	for _, field := range fields {
		if fs, ok := ComputeFieldStatistics(series, field); ok {
			out = append(out, fs)
		}
	}
	return out
}
