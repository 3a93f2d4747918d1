package stats

import (
	"math"

	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

// Severity classifies how far a value sits from the mean of its series
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Deviation thresholds, in standard deviations
const (
	WarningDeviations  = 2.0
	CriticalDeviations = 3.0
)

// DeviationScore returns |current - mean| / stdDev, or 0 when stdDev is zero or
// not finite.
func DeviationScore(current, mean, stdDev float64) float64 {
	if stdDev == 0 || math.IsNaN(stdDev) || math.IsInf(stdDev, 0) {
		return 0
	}
	d := math.Abs(current-mean) / stdDev
	if math.IsNaN(d) {
		return 0
	}
	return d
}

// ClassifyDeviation returns critical at 3 or more standard deviations from the
// mean, warning at 2 or more and normal otherwise. A zero stdDev is always normal.
func ClassifyDeviation(current, mean, stdDev float64) Severity {
	d := DeviationScore(current, mean, stdDev)
	switch {
	case d >= CriticalDeviations:
		return SeverityCritical
	case d >= WarningDeviations:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}

// DeviationRow is one line of the deviation report table
type DeviationRow struct {
	FieldStatistics
	Kind      string   `json:"kind"`
	Deviation float64  `json:"deviation"`
	Severity  Severity `json:"severity"`
}

// BuildDeviationReport computes one row per field that has readings. Fields
// without data are left out of the report.
func BuildDeviationReport(series telemetry.Series, fields []string) []DeviationRow {
	rows := make([]DeviationRow, 0, len(fields))
	for _, fs := range ComputeAll(series, fields) {
		rows = append(rows, DeviationRow{
			FieldStatistics: fs,
			Kind:            telemetry.KindOf(fs.Field).String(),
			Deviation:       DeviationScore(fs.Current, fs.Mean, fs.StdDev),
			Severity:        ClassifyDeviation(fs.Current, fs.Mean, fs.StdDev),
		})
	}
	return rows
}

// CrossFieldReport compares the current value of each field against the spread
// of the current values of all given fields (cell balance table).
func CrossFieldReport(series telemetry.Series, fields []string) []DeviationRow {
	all := ComputeAll(series, fields)
	if len(all) == 0 {
		return []DeviationRow{}
	}

	currents := make([]float64, len(all))
	for i, fs := range all {
		currents[i] = fs.Current
	}
	group := summarize("", currents)

	rows := make([]DeviationRow, 0, len(all))
	for _, fs := range all {
		rows = append(rows, DeviationRow{
			FieldStatistics: fs,
			Kind:            telemetry.KindOf(fs.Field).String(),
			Deviation:       DeviationScore(fs.Current, group.Mean, group.StdDev),
			Severity:        ClassifyDeviation(fs.Current, group.Mean, group.StdDev),
		})
	}
	return rows
}
