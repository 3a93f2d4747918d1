// Package chart derives pixel-space chart geometry from telemetry series.
package chart

import (
	"strconv"
	"strings"

	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

// BuildPointSubsample returns the indices that get a marker dot in a line chart of
// length points: every ceil(length/targetPointCount)-th index plus the final one.
// All points still belong to the line; only the dots are thinned.
func BuildPointSubsample(length, targetPointCount int) []int {
	if length <= 0 {
		return nil
	}

	step := 1
	if targetPointCount > 0 {
		step = (length + targetPointCount - 1) / targetPointCount
	}
	if step < 1 {
		step = 1
	}

	indices := make([]int, 0, length/step+1)
	for i := 0; i < length; i += step {
		indices = append(indices, i)
	}
	if indices[len(indices)-1] != length-1 {
		indices = append(indices, length-1)
	}
	return indices
}

// Point is one plotted sample
type Point struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Value       float64 `json:"value"`
	SourceIndex int     `json:"sourceIndex"` // index in the unfiltered series
}

// Geometry is everything a renderer needs to draw one field as a line/area chart
type Geometry struct {
	Field      string          `json:"field"`
	Width      float64         `json:"width"`
	Height     float64         `json:"height"`
	Points     []Point         `json:"points"`
	YAxis      LinearAxis      `json:"yAxis"`
	XAxis      IndexAxis       `json:"xAxis"`
	TimeLabels []TimeAxisLabel `json:"timeLabels"`
	ValueTicks []ValueTick     `json:"valueTicks"`
	Markers    []int           `json:"markers"` // indices into Points
}

// BuildGeometry lays out field of series inside layout. Samples without a
// reading for field are left out; ok is false when none remain or the layout has
// no plot area.
func BuildGeometry(series telemetry.Series, field string, layout Layout) (Geometry, bool) {
	if !layout.Valid() {
		return Geometry{}, false
	}

	filtered := telemetry.Series{DeviceID: series.DeviceID}
	var sourceIdx []int
	var values []float64
	for i, sample := range series.Samples {
		if v, ok := sample.Reading(field); ok {
			filtered.Samples = append(filtered.Samples, sample)
			sourceIdx = append(sourceIdx, i)
			values = append(values, v)
		}
	}

	yAxis, ok := BuildLinearAxis(values, layout.PlotTop(), layout.PlotBottom())
	if !ok {
		return Geometry{}, false
	}
	xAxis := IndexAxis{Left: layout.PlotLeft(), Right: layout.PlotRight(), Count: len(values)}

	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{X: xAxis.Map(i), Y: yAxis.Map(v), Value: v, SourceIndex: sourceIdx[i]}
	}

	labels := BuildTimeAxisLabels(filtered, layout.MaxTimeLabels, xAxis, layout.LabelLayout, layout.Location)
	for i := range labels {
		labels[i].SourceIndex = sourceIdx[labels[i].SourceIndex]
	}

	return Geometry{
		Field:      field,
		Width:      layout.Width,
		Height:     layout.Height,
		Points:     points,
		YAxis:      yAxis,
		XAxis:      xAxis,
		TimeLabels: labels,
		ValueTicks: BuildValueTicks(yAxis, layout.ValueTicks),
		Markers:    BuildPointSubsample(len(points), layout.MarkerTarget),
	}, true
}

// LinePath returns SVG path data connecting the points
func (g Geometry) LinePath() string {
	var b strings.Builder
	for i, p := range g.Points {
		if i == 0 {
			b.WriteString("M")
		} else {
			b.WriteString(" L")
		}
		writeCoord(&b, p.X, p.Y)
	}
	return b.String()
}

// AreaPath returns SVG path data for the area between the line and the bottom of
// the plot area
func (g Geometry) AreaPath() string {
	if len(g.Points) == 0 {
		return ""
	}
	baseline := g.YAxis.PixelHigh
	first, last := g.Points[0], g.Points[len(g.Points)-1]

	var b strings.Builder
	b.WriteString(g.LinePath())
	b.WriteString(" L")
	writeCoord(&b, last.X, baseline)
	b.WriteString(" L")
	writeCoord(&b, first.X, baseline)
	b.WriteString(" Z")
	return b.String()
}

func writeCoord(b *strings.Builder, x, y float64) {
	b.WriteString(strconv.FormatFloat(x, 'f', 2, 64))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(y, 'f', 2, 64))
}
