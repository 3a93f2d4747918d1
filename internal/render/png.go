// Package render draws telemetry charts as PNG images.
package render

import (
	"errors"
	"fmt"
	"io"
	"time"

	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/aaronlmathis/voltwatch/internal/chart"
	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

// ErrNoPoints is returned when the field has no plottable reading
var ErrNoPoints = errors.New("no plottable readings")

var (
	lineColor   = drawing.ColorFromHex("2563eb")
	markerColor = drawing.ColorFromHex("1e40af")
)

// markerStyle renders points only (no connecting line)
func markerStyle(col drawing.Color) gochart.Style {
	return gochart.Style{
		StrokeWidth: gochart.Disabled,
		DotWidth:    3,
		DotColor:    col,
	}
}

// PNG renders field of series as a line chart with marker dots. Samples without
// a reading or with an unparseable timestamp are skipped.
func PNG(w io.Writer, series telemetry.Series, field string, layout chart.Layout) error {
	var times []time.Time
	var values []float64
	for _, sample := range series.Samples {
		v, ok := sample.Reading(field)
		if !ok || !sample.Time.Valid {
			continue
		}
		times = append(times, sample.Time.Time.In(location(layout)))
		values = append(values, v)
	}
	if len(values) == 0 {
		return fmt.Errorf("%s: %w", field, ErrNoPoints)
	}

	axis, _ := chart.BuildLinearAxis(values, layout.PlotTop(), layout.PlotBottom())
	lo, hi := axis.DomainMin, axis.DomainMax
	if axis.Degenerate() {
		lo, hi = lo-1, hi+1
	}

	var ticks []gochart.Tick
	for _, t := range chart.BuildValueTicks(chart.LinearAxis{DomainMin: lo, DomainMax: hi}, layout.ValueTicks) {
		ticks = append(ticks, gochart.Tick{Value: t.Value, Label: t.Label})
	}

	// go-chart needs two distinct x values
	if len(times) == 1 {
		times = append(times, times[0].Add(time.Second))
		values = append(values, values[0])
	}

	var markerTimes []time.Time
	var markerValues []float64
	for _, idx := range chart.BuildPointSubsample(len(values), layout.MarkerTarget) {
		markerTimes = append(markerTimes, times[idx])
		markerValues = append(markerValues, values[idx])
	}

	ch := gochart.Chart{
		Width:  int(layout.Width),
		Height: int(layout.Height),
		Background: gochart.Style{Padding: gochart.Box{
			Top:    int(layout.PaddingTop),
			Right:  int(layout.PaddingRight),
			Bottom: int(layout.PaddingBottom),
			Left:   int(layout.PaddingLeft),
		}},
		XAxis: gochart.XAxis{
			ValueFormatter: gochart.TimeValueFormatterWithFormat(layout.LabelLayout),
		},
		YAxis: gochart.YAxis{
			Name:  field,
			Range: &gochart.ContinuousRange{Min: lo, Max: hi},
			Ticks: ticks,
		},
		Series: []gochart.Series{
			gochart.TimeSeries{
				Name:    field,
				XValues: times,
				YValues: values,
				Style:   gochart.Style{StrokeColor: lineColor, StrokeWidth: 2},
			},
			gochart.TimeSeries{
				Name:    field + " markers",
				XValues: markerTimes,
				YValues: markerValues,
				Style:   markerStyle(markerColor),
			},
		},
	}

	if err := ch.Render(gochart.PNG, w); err != nil {
		return fmt.Errorf("failed to render %s chart: %w", field, err)
	}
	return nil
}

func location(layout chart.Layout) *time.Location {
	if layout.Location == nil {
		return time.Local
	}
	return layout.Location
}
