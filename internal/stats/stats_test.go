package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

func seriesOf(field string, values ...float64) telemetry.Series {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := telemetry.Series{DeviceID: "bat-1"}
	for i, v := range values {
		ts := telemetry.NewTimestamp(start.Add(time.Duration(i) * 6 * time.Hour))
		s.Samples = append(s.Samples, telemetry.NewSample(ts, map[string]float64{field: v}))
	}
	return s
}

func TestComputeFieldStatistics_SOCScenario(t *testing.T) {
	series := seriesOf(telemetry.FieldSOC, 80, 60, 40, 90)

	fs, ok := ComputeFieldStatistics(series, telemetry.FieldSOC)
	require.True(t, ok)

	assert.Equal(t, 4, fs.Count)
	assert.Equal(t, 90.0, fs.Current)
	assert.Equal(t, 40.0, fs.Min)
	assert.Equal(t, 90.0, fs.Max)
	assert.Equal(t, 67.5, fs.Mean)
	assert.Equal(t, 80.0, fs.Median, "even count takes the upper-middle element")
	assert.InDelta(t, math.Sqrt(368.75), fs.StdDev, 1e-9)
	assert.Equal(t, 10.0, fs.Trend)
}

func TestComputeFieldStatistics_OddMedian(t *testing.T) {
	fs, ok := ComputeFieldStatistics(seriesOf("voltage", 3, 1, 2), "voltage")
	require.True(t, ok)
	assert.Equal(t, 2.0, fs.Median)
}

func TestComputeFieldStatistics_TemperatureSentinels(t *testing.T) {
	field := telemetry.TemperatureField(1)
	series := seriesOf(field, 0, -40, 22.5, 23.1)

	fs, ok := ComputeFieldStatistics(series, field)
	require.True(t, ok)

	assert.Equal(t, 2, fs.Count)
	assert.Equal(t, 23.1, fs.Current)
	assert.Equal(t, 22.5, fs.Min)
	assert.Equal(t, 23.1, fs.Max)
	assert.InDelta(t, 0.6, fs.Trend, 1e-9)
}

func TestComputeFieldStatistics_ZeroIsAReadingOutsideTemperature(t *testing.T) {
	fs, ok := ComputeFieldStatistics(seriesOf(telemetry.FieldCurrent, 0, -40, 5), telemetry.FieldCurrent)
	require.True(t, ok)
	assert.Equal(t, 3, fs.Count)
	assert.Equal(t, -40.0, fs.Min)
}

func TestComputeFieldStatistics_Absent(t *testing.T) {
	tests := []struct {
		name   string
		series telemetry.Series
		field  string
	}{
		{name: "empty series", series: telemetry.Series{}, field: telemetry.FieldSOC},
		{name: "field never present", series: seriesOf(telemetry.FieldVoltage, 50, 51), field: telemetry.FieldSOC},
		{name: "only sentinels", series: seriesOf(telemetry.TemperatureField(2), 0, -40, 0), field: telemetry.TemperatureField(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ComputeFieldStatistics(tt.series, tt.field)
			assert.False(t, ok)
		})
	}
}

func TestComputeFieldStatistics_ConstantSeries(t *testing.T) {
	for _, v := range []float64{0.1, 3.3, 52.75} {
		fs, ok := ComputeFieldStatistics(seriesOf(telemetry.FieldVoltage, v, v, v), telemetry.FieldVoltage)
		require.True(t, ok)

		assert.Equal(t, v, fs.Min)
		assert.Equal(t, v, fs.Max)
		assert.Equal(t, v, fs.Mean)
		assert.Equal(t, v, fs.Median)
		assert.Equal(t, v, fs.Current)
		assert.Equal(t, 0.0, fs.StdDev)
		assert.Equal(t, 0.0, fs.Trend)
	}
}

func TestComputeFieldStatistics_Idempotent(t *testing.T) {
	series := seriesOf(telemetry.FieldVoltage, 51.2, 52.9, 50.1, 53.3, 52.0)

	first, ok1 := ComputeFieldStatistics(series, telemetry.FieldVoltage)
	second, ok2 := ComputeFieldStatistics(series, telemetry.FieldVoltage)

	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
	assert.Equal(t, math.Float64bits(first.StdDev), math.Float64bits(second.StdDev))
}

func TestComputeFieldStatistics_TrendSkipsMissing(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	series := telemetry.Series{Samples: []telemetry.Sample{
		telemetry.NewSample(telemetry.NewTimestamp(start), map[string]float64{}),
		telemetry.NewSample(telemetry.NewTimestamp(start.Add(time.Hour)), map[string]float64{"soc": 70}),
		telemetry.NewSample(telemetry.NewTimestamp(start.Add(2*time.Hour)), map[string]float64{"soc": 65}),
		telemetry.NewSample(telemetry.NewTimestamp(start.Add(3*time.Hour)), map[string]float64{}),
	}}

	fs, ok := ComputeFieldStatistics(series, "soc")
	require.True(t, ok)
	assert.Equal(t, 65.0, fs.Current)
	assert.Equal(t, -5.0, fs.Trend)
}

func TestComputeAll(t *testing.T) {
	series := seriesOf(telemetry.FieldSOC, 10, 20)

	all := ComputeAll(series, []string{telemetry.FieldSOC, telemetry.FieldSOH})
	require.Len(t, all, 1)
	assert.Equal(t, telemetry.FieldSOC, all[0].Field)
}
