package chart

import (
	"math"
	"strconv"
)

// LinearAxis maps values in [DomainMin, DomainMax] onto the pixel range
// [PixelLow, PixelHigh].
type LinearAxis struct {
	DomainMin float64 `json:"domainMin"`
	DomainMax float64 `json:"domainMax"`
	PixelLow  float64 `json:"pixelLow"`
	PixelHigh float64 `json:"pixelHigh"`

	// Mirrored axes map DomainMin to PixelLow (bar encoding)
	Mirrored bool `json:"mirrored"`
}

// BuildLinearAxis builds the y axis for line and area charts. Larger values map
// closer to pixelLow (the top of the plot). ok is false when values holds no
// finite number.
func BuildLinearAxis(values []float64, pixelLow, pixelHigh float64) (LinearAxis, bool) {
	lo, hi, ok := domain(values)
	if !ok {
		return LinearAxis{}, false
	}
	return LinearAxis{DomainMin: lo, DomainMax: hi, PixelLow: pixelLow, PixelHigh: pixelHigh}, true
}

// BuildBarAxis builds the mirrored axis used for bar and horizontal encodings:
// DomainMin maps to pixelLow and DomainMax to pixelHigh.
func BuildBarAxis(values []float64, pixelLow, pixelHigh float64) (LinearAxis, bool) {
	axis, ok := BuildLinearAxis(values, pixelLow, pixelHigh)
	axis.Mirrored = ok
	return axis, ok
}

// Degenerate reports whether every value in the domain is equal
func (a LinearAxis) Degenerate() bool {
	return a.DomainMax == a.DomainMin
}

// Span returns the width of the domain; a degenerate domain has span 1
func (a LinearAxis) Span() float64 {
	if a.Degenerate() {
		return 1
	}
	return a.DomainMax - a.DomainMin
}

// Map converts a value to its pixel position. In a degenerate domain every value
// maps to the center of the pixel range.
func (a LinearAxis) Map(v float64) float64 {
	if a.Degenerate() {
		return (a.PixelLow + a.PixelHigh) / 2
	}
	ratio := (v - a.DomainMin) / a.Span()
	if a.Mirrored {
		return a.PixelLow + ratio*(a.PixelHigh-a.PixelLow)
	}
	return a.PixelHigh - ratio*(a.PixelHigh-a.PixelLow)
}

// ValueTick is a labelled position on the value axis
type ValueTick struct {
	Value    float64 `json:"value"`
	Position float64 `json:"position"`
	Label    string  `json:"label"`
}

// BuildValueTicks returns count evenly spaced ticks from DomainMin to DomainMax.
// A degenerate domain yields a single tick.
func BuildValueTicks(axis LinearAxis, count int) []ValueTick {
	if count <= 0 {
		return nil
	}
	if axis.Degenerate() || count == 1 {
		return []ValueTick{newTick(axis, axis.DomainMin)}
	}

	ticks := make([]ValueTick, 0, count)
	step := (axis.DomainMax - axis.DomainMin) / float64(count-1)
	for i := 0; i < count; i++ {
		v := axis.DomainMin + float64(i)*step
		if i == count-1 {
			v = axis.DomainMax
		}
		ticks = append(ticks, newTick(axis, v))
	}
	return ticks
}

func newTick(axis LinearAxis, v float64) ValueTick {
	return ValueTick{Value: v, Position: axis.Map(v), Label: formatValue(v, axis.Span())}
}

// formatValue picks enough decimals to tell ticks on this span apart
func formatValue(v, span float64) string {
	decimals := 0
	switch {
	case span < 0.1:
		decimals = 3
	case span < 1:
		decimals = 2
	case span < 10:
		decimals = 1
	}
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

func domain(values []float64) (float64, float64, bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	found := false
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		found = true
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, found
}
