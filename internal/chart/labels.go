package chart

import (
	"strings"
	"time"

	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

// IndexAxis spreads n sample indices evenly across [Left, Right]
type IndexAxis struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
	Count int     `json:"count"`
}

// Map returns the x position of index i. A single sample sits in the middle.
func (a IndexAxis) Map(i int) float64 {
	if a.Count <= 1 {
		return (a.Left + a.Right) / 2
	}
	return a.Left + float64(i)/float64(a.Count-1)*(a.Right-a.Left)
}

// TimeAxisLabel is one two-line label on the time axis
type TimeAxisLabel struct {
	Position    float64 `json:"position"`
	Date        string  `json:"date"`
	Time        string  `json:"time"`
	SourceIndex int     `json:"sourceIndex"`
}

// LabelIndices returns up to maxLabelCount indices spread evenly over a series of
// the given length, always starting at 0.
func LabelIndices(length, maxLabelCount int) []int {
	if length <= 0 || maxLabelCount <= 0 {
		return nil
	}

	labelCount := maxLabelCount
	if length < labelCount {
		labelCount = length
	}
	if labelCount == 1 {
		return []int{0}
	}

	indices := make([]int, 0, labelCount)
	for i := 0; i < labelCount; i++ {
		indices = append(indices, i*(length-1)/(labelCount-1))
	}
	return indices
}

// BuildTimeAxisLabels selects up to maxLabelCount evenly spaced samples and renders
// their timestamps as a date line and a time line, positioned with x.
func BuildTimeAxisLabels(series telemetry.Series, maxLabelCount int, x IndexAxis, layout string, loc *time.Location) []TimeAxisLabel {
	indices := LabelIndices(series.Len(), maxLabelCount)
	labels := make([]TimeAxisLabel, 0, len(indices))
	for _, idx := range indices {
		date, clock := splitLabel(series.Samples[idx].Time, layout, loc)
		labels = append(labels, TimeAxisLabel{
			Position:    x.Map(idx),
			Date:        date,
			Time:        clock,
			SourceIndex: idx,
		})
	}
	return labels
}

func splitLabel(ts telemetry.Timestamp, layout string, loc *time.Location) (string, string) {
	if !ts.Valid {
		return ts.Raw, ""
	}
	formatted := telemetry.FormatTimestamp(ts.In(loc), layout)
	date, clock, _ := strings.Cut(formatted, " ")
	return date, clock
}
