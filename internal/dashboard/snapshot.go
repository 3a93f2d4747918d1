package dashboard

import (
	"time"

	"github.com/aaronlmathis/voltwatch/internal/chart"
	"github.com/aaronlmathis/voltwatch/internal/stats"
	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

// Snapshot is the normalized, hour-filtered series of one refresh
type Snapshot struct {
	DeviceID       string           `json:"deviceId"`
	Start          time.Time        `json:"start"`
	End            time.Time        `json:"end"`
	Series         telemetry.Series `json:"series"`
	Shape          string           `json:"shape"`
	NoDataForRange bool             `json:"noDataForRange"`
	UnknownFormat  bool             `json:"unknownFormat"`
	FetchedAt      time.Time        `json:"fetchedAt"`

	// Samples returned upstream before the hour filter
	TotalSamples int `json:"totalSamples"`
}

// Card is one headline value on the status panel
type Card struct {
	Field   string  `json:"field"`
	Kind    string  `json:"kind"`
	Value   float64 `json:"value"`
	Trend   float64 `json:"trend"`
	Present bool    `json:"present"`
}

// Status is the latest charge state of the device
type Status struct {
	DeviceID       string              `json:"deviceId"`
	Charging       bool                `json:"charging"`
	Discharging    bool                `json:"discharging"`
	LastSample     telemetry.Timestamp `json:"lastSample"`
	Samples        int                 `json:"samples"`
	Cards          []Card              `json:"cards"`
	NoDataForRange bool                `json:"noDataForRange"`
	UnknownFormat  bool                `json:"unknownFormat"`
	FetchedAt      time.Time           `json:"fetchedAt"`
}

var statusFields = []string{telemetry.FieldSOC, telemetry.FieldSOH, telemetry.FieldVoltage, telemetry.FieldCurrent}

// kindOrder is the order fields are listed in when none are requested
var kindOrder = []telemetry.Kind{
	telemetry.KindPercent,
	telemetry.KindVoltage,
	telemetry.KindCurrent,
	telemetry.KindGeneric,
	telemetry.KindTemperature,
	telemetry.KindCellVoltage,
}

// Fields returns every field with a reading, grouped by kind
func (s *Snapshot) Fields() []string {
	var fields []string
	for _, kind := range kindOrder {
		fields = append(fields, telemetry.FieldsOfKind(s.Series, kind)...)
	}
	return fields
}

// DeviationFields returns the cell voltage and temperature fields of the series
func (s *Snapshot) DeviationFields() []string {
	return append(
		telemetry.FieldsOfKind(s.Series, telemetry.KindCellVoltage),
		telemetry.FieldsOfKind(s.Series, telemetry.KindTemperature)...)
}

// Statistics summarizes fields, or every field when none are given. Fields
// without readings are omitted.
func (s *Snapshot) Statistics(fields []string) []stats.FieldStatistics {
	if len(fields) == 0 {
		fields = s.Fields()
	}
	return stats.ComputeAll(s.Series, fields)
}

// Deviations scores the current value of each field against its own history.
// With crossField the current values are compared with each other instead.
func (s *Snapshot) Deviations(fields []string, crossField bool) []stats.DeviationRow {
	if len(fields) == 0 {
		fields = s.DeviationFields()
	}
	if crossField {
		return stats.CrossFieldReport(s.Series, fields)
	}
	return stats.BuildDeviationReport(s.Series, fields)
}

// Chart lays out field for drawing; ok is false when the field has no readings
func (s *Snapshot) Chart(field string, layout chart.Layout) (chart.Geometry, bool) {
	return chart.BuildGeometry(s.Series, field, layout)
}

// Status returns the charge flags of the last sample and the headline cards
func (s *Snapshot) Status() Status {
	status := Status{
		DeviceID:       s.DeviceID,
		Samples:        s.Series.Len(),
		NoDataForRange: s.NoDataForRange,
		UnknownFormat:  s.UnknownFormat,
		FetchedAt:      s.FetchedAt,
		Cards:          make([]Card, 0, len(statusFields)),
	}
	if last, ok := s.Series.Last(); ok {
		status.Charging = last.Charging
		status.Discharging = last.Discharging
		status.LastSample = last.Time
	}

	for _, field := range statusFields {
		card := Card{Field: field, Kind: telemetry.KindOf(field).String()}
		if fs, ok := stats.ComputeFieldStatistics(s.Series, field); ok {
			card.Value = fs.Current
			card.Trend = fs.Trend
			card.Present = true
		}
		status.Cards = append(status.Cards, card)
	}
	return status
}
