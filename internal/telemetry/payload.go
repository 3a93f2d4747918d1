package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Shape identifies which of the known upstream payload layouts a response uses
type Shape int

const (
	ShapeUnknown  Shape = iota // none of the known layouts
	ShapeColumnar              // InfluxDB-style columns + rows of values
	ShapeRecords               // flat array of keyed records
	ShapeNoData                // explicit "no data for this window" marker
)

// String returns the shape name used in logs and metrics labels
func (s Shape) String() string {
	switch s {
	case ShapeColumnar:
		return "columnar"
	case ShapeRecords:
		return "records"
	case ShapeNoData:
		return "no_data"
	default:
		return "unknown"
	}
}

// Table is one columnar block: column names and the rows of values under them
type Table struct {
	Columns []string
	Rows    [][]any
}

// Payload is the classified form of a raw response. Only the member matching
// Shape is populated.
type Payload struct {
	Shape   Shape
	Tables  []Table
	Records []map[string]any
}

// NormalizeResult is the outcome of normalizing one raw response
type NormalizeResult struct {
	Series         Series `json:"series"`
	Shape          Shape  `json:"-"`
	NoDataForRange bool   `json:"noDataForRange"`
	UnknownFormat  bool   `json:"unknownFormat"`
}

var timeKeys = map[string]bool{
	"time":      true,
	"timestamp": true,
	"ts":        true,
	"datetime":  true,
	"date_time": true,
}

// Identifying keys carried by some record payloads; they are not readings.
var metaKeys = map[string]bool{
	"id":        true,
	"device":    true,
	"device_id": true,
	"deviceid":  true,
	"name":      true,
	"serial":    true,
}

// DecodePayload decodes a JSON response body into the loosely typed form consumed
// by ClassifyPayload. Numbers are kept as json.Number.
func DecodePayload(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry payload: %w", err)
	}
	return raw, nil
}

// ClassifyPayload inspects a decoded response once and returns a tagged variant
func ClassifyPayload(raw any) Payload {
	switch v := raw.(type) {
	case []any:
		return classifyRecords(v)
	case map[string]any:
		return classifyObject(v)
	default:
		return Payload{Shape: ShapeUnknown}
	}
}

func classifyObject(obj map[string]any) Payload {
	if results, ok := obj["results"]; ok {
		list, ok := results.([]any)
		if !ok {
			if results == nil {
				return Payload{Shape: ShapeNoData}
			}
			return Payload{Shape: ShapeUnknown}
		}
		if len(list) == 0 {
			return Payload{Shape: ShapeNoData}
		}
		first, ok := list[0].(map[string]any)
		if !ok {
			return Payload{Shape: ShapeUnknown}
		}
		series, has := first["series"]
		if !has || series == nil {
			return Payload{Shape: ShapeNoData}
		}
		return classifySeriesList(series)
	}

	if series, ok := obj["series"]; ok {
		if series == nil {
			return Payload{Shape: ShapeNoData}
		}
		return classifySeriesList(series)
	}

	if _, ok := obj["columns"]; ok {
		table, ok := toTable(obj)
		if !ok {
			return Payload{Shape: ShapeUnknown}
		}
		return Payload{Shape: ShapeColumnar, Tables: []Table{table}}
	}

	for _, key := range []string{"data", "records"} {
		if inner, ok := obj[key]; ok {
			if inner == nil {
				return Payload{Shape: ShapeNoData}
			}
			if list, ok := inner.([]any); ok {
				return classifyRecords(list)
			}
		}
	}

	return Payload{Shape: ShapeUnknown}
}

func classifySeriesList(series any) Payload {
	list, ok := series.([]any)
	if !ok {
		return Payload{Shape: ShapeUnknown}
	}
	if len(list) == 0 {
		return Payload{Shape: ShapeNoData}
	}

	tables := make([]Table, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return Payload{Shape: ShapeUnknown}
		}
		table, ok := toTable(obj)
		if !ok {
			return Payload{Shape: ShapeUnknown}
		}
		tables = append(tables, table)
	}
	return Payload{Shape: ShapeColumnar, Tables: tables}
}

func classifyRecords(list []any) Payload {
	records := make([]map[string]any, 0, len(list))
	for _, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			return Payload{Shape: ShapeUnknown}
		}
		records = append(records, record)
	}
	return Payload{Shape: ShapeRecords, Records: records}
}

func toTable(obj map[string]any) (Table, bool) {
	rawColumns, ok := obj["columns"].([]any)
	if !ok {
		return Table{}, false
	}
	columns := make([]string, 0, len(rawColumns))
	for _, c := range rawColumns {
		name, ok := c.(string)
		if !ok {
			return Table{}, false
		}
		columns = append(columns, name)
	}

	table := Table{Columns: columns}
	values, present := obj["values"]
	if !present || values == nil {
		return table, true
	}
	rows, ok := values.([]any)
	if !ok {
		return Table{}, false
	}
	for _, r := range rows {
		row, ok := r.([]any)
		if !ok {
			return Table{}, false
		}
		table.Rows = append(table.Rows, row)
	}
	return table, true
}

// NormalizeRawPayload converts a decoded upstream response into the canonical Series.
// Missing or unparseable numeric fields have no reading (and read as 0), missing
// flags are false. Payloads of an unknown layout produce an empty Series with
// UnknownFormat set; the explicit null series marker sets NoDataForRange.
// Zone-less timestamps are read as UTC.
func NormalizeRawPayload(deviceID string, raw any) NormalizeResult {
	return NormalizeRawPayloadIn(deviceID, raw, time.UTC)
}

// NormalizeRawPayloadIn is NormalizeRawPayload with zone-less timestamps read as
// wall time in loc
func NormalizeRawPayloadIn(deviceID string, raw any, loc *time.Location) NormalizeResult {
	payload := ClassifyPayload(raw)
	result := NormalizeResult{
		Shape:  payload.Shape,
		Series: Series{DeviceID: deviceID, Samples: []Sample{}},
	}

	switch payload.Shape {
	case ShapeColumnar:
		for _, table := range payload.Tables {
			for _, row := range table.Rows {
				record := make(map[string]any, len(table.Columns))
				for i, column := range table.Columns {
					if i < len(row) {
						record[column] = row[i]
					}
				}
				result.Series.Samples = append(result.Series.Samples, sampleFromRecord(record, loc))
			}
		}
	case ShapeRecords:
		for _, record := range payload.Records {
			result.Series.Samples = append(result.Series.Samples, sampleFromRecord(record, loc))
		}
	case ShapeNoData:
		result.NoDataForRange = true
	default:
		result.UnknownFormat = true
	}

	return result
}

func sampleFromRecord(record map[string]any, loc *time.Location) Sample {
	ts := Invalid("")
	readings := make(map[string]float64, len(record))
	var charging, discharging bool

	for key, value := range record {
		lower := strings.ToLower(strings.TrimSpace(key))
		if timeKeys[lower] {
			ts = parseTimestampValue(value, loc)
			continue
		}
		if metaKeys[lower] {
			continue
		}

		switch field := CanonicalField(key); field {
		case FlagCharging:
			charging = toFlag(value)
		case FlagDischarging:
			discharging = toFlag(value)
		default:
			if f, ok := toFloat(value); ok {
				readings[field] = f
			}
		}
	}

	return NewSample(ts, readings).WithFlags(charging, discharging)
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toFlag(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "on":
			return true
		}
		return false
	default:
		f, ok := toFloat(val)
		return ok && f != 0
	}
}
