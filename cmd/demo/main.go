package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/aaronlmathis/voltwatch/internal/chart"
	"github.com/aaronlmathis/voltwatch/internal/render"
	"github.com/aaronlmathis/voltwatch/internal/stats"
	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

func main() {
	payloadPath := flag.String("payload", "", "telemetry JSON file (columnar or records); synthetic data when empty")
	field := flag.String("field", telemetry.FieldSOC, "field to chart")
	pngPath := flag.String("png", "", "write a PNG chart of -field to this path")
	minHour := flag.Int("min-hour", 0, "first hour of day to keep")
	maxHour := flag.Int("max-hour", 23, "last hour of day to keep")
	flag.Parse()

	fmt.Println("voltwatch telemetry report")
	fmt.Println("==========================")

	raw, err := loadPayload(*payloadPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load payload: %v\n", err)
		os.Exit(1)
	}

	result := telemetry.NormalizeRawPayload("demo", raw)
	fmt.Printf("Payload shape: %s\n", result.Shape)
	switch {
	case result.UnknownFormat:
		fmt.Println("Unrecognized payload format, nothing to report")
		return
	case result.NoDataForRange:
		fmt.Println("No data for the selected range")
		return
	}

	series := telemetry.FilterByHourRange(result.Series.SortByTime(), *minHour, *maxHour, time.UTC, printReporter{})
	fmt.Printf("Samples: %d (%d after hour filter %02d-%02d)\n\n", result.Series.Len(), series.Len(), *minHour, *maxHour)

	fmt.Println("Statistics:")
	var fields []string
	for _, kind := range []telemetry.Kind{telemetry.KindPercent, telemetry.KindVoltage, telemetry.KindCurrent, telemetry.KindTemperature, telemetry.KindCellVoltage} {
		fields = append(fields, telemetry.FieldsOfKind(series, kind)...)
	}
	for _, fs := range stats.ComputeAll(series, fields) {
		fmt.Printf("  %-8s current %8.3f  min %8.3f  max %8.3f  mean %8.3f  median %8.3f  stddev %7.3f  trend %+8.3f\n",
			fs.Field, fs.Current, fs.Min, fs.Max, fs.Mean, fs.Median, fs.StdDev, fs.Trend)
	}

	fmt.Println("\nCell balance:")
	cells := telemetry.FieldsOfKind(series, telemetry.KindCellVoltage)
	for _, row := range stats.CrossFieldReport(series, cells) {
		fmt.Printf("  %-8s %.3f V  %.2fσ  %s\n", row.Field, row.Current, row.Deviation, row.Severity)
	}

	if *pngPath != "" {
		if err := writePNG(*pngPath, series, *field); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write chart: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote %s chart to %s\n", *field, *pngPath)
	}
}

func loadPayload(path string) (any, error) {
	if path == "" {
		return syntheticPayload(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return telemetry.DecodePayload(data)
}

// syntheticPayload returns one day of 10 minute records for a 4 cell pack whose
// last cell sags during the evening discharge
func syntheticPayload(day time.Time) any {
	var records []any
	for i := 0; i < 144; i++ {
		t := day.Add(time.Duration(i) * 10 * time.Minute)
		phase := float64(i) / 144 * 2 * math.Pi
		soc := 60 + 30*math.Sin(phase)
		charging := math.Cos(phase) > 0

		cell := 3.30 + 0.05*math.Sin(phase)
		lastCell := cell
		if i > 120 {
			lastCell -= 0.01 * float64(i-120)
		}

		records = append(records, map[string]any{
			"time":        t.Format(time.RFC3339),
			"soc":         soc,
			"soh":         97.5,
			"voltage":     4 * cell,
			"current":     20 * math.Cos(phase),
			"temperature": 21 + 3*math.Sin(phase),
			"cell1":       cell,
			"cell2":       cell + 0.002,
			"cell3":       cell - 0.001,
			"cell4":       lastCell,
			"charging":    charging,
			"discharging": !charging,
		})
	}
	return records
}

func writePNG(path string, series telemetry.Series, field string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	layout := chart.DefaultLayout()
	layout.Location = time.UTC
	if err := render.PNG(f, series, telemetry.CanonicalField(field), layout); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type printReporter struct{}

func (printReporter) ReportUnparseableTimestamp(_ string, index int, raw string) {
	fmt.Printf("  warning: sample %d has unparseable timestamp %q\n", index, raw)
}
