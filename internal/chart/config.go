package chart

import (
	"time"

	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

// Layout holds the drawing parameters for one chart
type Layout struct {
	// Canvas size in pixels
	Width  float64
	Height float64

	// Space reserved around the plot area for axes and labels
	PaddingTop    float64
	PaddingRight  float64
	PaddingBottom float64
	PaddingLeft   float64

	// Axis decoration
	MaxTimeLabels int // Maximum labels on the time axis
	ValueTicks    int // Ticks on the value axis
	MarkerTarget  int // Approximate number of marker dots

	// Timestamp rendering
	LabelLayout string         // Go layout; the date and time parts are split on the first space
	Location    *time.Location // Zone labels are rendered in
}

// DefaultLayout returns the layout used by the dashboard line charts
func DefaultLayout() Layout {
	return Layout{
		Width:         800,
		Height:        300,
		PaddingTop:    20,
		PaddingRight:  20,
		PaddingBottom: 50, // two-line time labels
		PaddingLeft:   60,
		MaxTimeLabels: 6,
		ValueTicks:    5,
		MarkerTarget:  25,
		LabelLayout:   telemetry.LayoutDateTime,
		Location:      time.Local,
	}
}

// PlotLeft returns the x coordinate of the left edge of the plot area
func (l Layout) PlotLeft() float64 { return l.PaddingLeft }

// PlotRight returns the x coordinate of the right edge of the plot area
func (l Layout) PlotRight() float64 { return l.Width - l.PaddingRight }

// PlotTop returns the y coordinate of the top edge of the plot area
func (l Layout) PlotTop() float64 { return l.PaddingTop }

// PlotBottom returns the y coordinate of the bottom edge of the plot area
func (l Layout) PlotBottom() float64 { return l.Height - l.PaddingBottom }

// Valid reports whether the plot area has a positive size
func (l Layout) Valid() bool {
	return l.PlotRight() > l.PlotLeft() && l.PlotBottom() > l.PlotTop()
}
