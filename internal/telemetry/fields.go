package telemetry

import (
	"sort"
	"strconv"
	"strings"
)

// Canonical field names for battery telemetry
const (
	FieldVoltage = "voltage"
	FieldCurrent = "current"
	FieldSOC     = "soc"
	FieldSOH     = "soh"
	FieldPower   = "power"

	// Flags
	FlagCharging    = "charging"
	FlagDischarging = "discharging"

	// Indexed fields: temp_1..temp_N, cell_1..cell_N
	temperaturePrefix = "temp_"
	cellPrefix        = "cell_"
)

// Kind classifies a field by what the reading measures
type Kind int

const (
	KindGeneric Kind = iota
	KindVoltage
	KindCurrent
	KindPercent
	KindTemperature
	KindCellVoltage
)

// String returns the kind name used in API responses
func (k Kind) String() string {
	switch k {
	case KindVoltage:
		return "voltage"
	case KindCurrent:
		return "current"
	case KindPercent:
		return "percent"
	case KindTemperature:
		return "temperature"
	case KindCellVoltage:
		return "cell_voltage"
	default:
		return "generic"
	}
}

// Temperature probes report these values when unplugged.
var temperatureSentinels = []float64{0, -40}

// TemperatureField returns the canonical name of temperature sensor n (1-based)
func TemperatureField(n int) string {
	return temperaturePrefix + strconv.Itoa(n)
}

// CellField returns the canonical name of cell n (1-based)
func CellField(n int) string {
	return cellPrefix + strconv.Itoa(n)
}

// KindOf returns the kind of a canonical field name
func KindOf(field string) Kind {
	switch field {
	case FieldVoltage:
		return KindVoltage
	case FieldCurrent:
		return KindCurrent
	case FieldSOC, FieldSOH:
		return KindPercent
	}
	if _, ok := indexSuffix(field, temperaturePrefix); ok {
		return KindTemperature
	}
	if _, ok := indexSuffix(field, cellPrefix); ok {
		return KindCellVoltage
	}
	return KindGeneric
}

// IsNoReading reports whether v is a "sensor absent" marker for the field
func IsNoReading(field string, v float64) bool {
	if KindOf(field) != KindTemperature {
		return false
	}
	for _, s := range temperatureSentinels {
		if v == s {
			return true
		}
	}
	return false
}

var fieldAliases = map[string]string{
	"volt":            FieldVoltage,
	"volts":           FieldVoltage,
	"pack_voltage":    FieldVoltage,
	"total_voltage":   FieldVoltage,
	"amps":            FieldCurrent,
	"pack_current":    FieldCurrent,
	"state_of_charge": FieldSOC,
	"stateofcharge":   FieldSOC,
	"state_of_health": FieldSOH,
	"stateofhealth":   FieldSOH,
	"temperature":     temperaturePrefix + "1",
	"temp":            temperaturePrefix + "1",
	"is_charging":     FlagCharging,
	"is_discharging":  FlagDischarging,
}

// CanonicalField maps an upstream column or key name to its canonical field name.
// Temperature and cell columns are accepted in the forms "temp1", "temp_1",
// "temperature1", "temperature_1", "cell1", "cell_1", "cell_voltage_1".
func CanonicalField(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")

	if alias, ok := fieldAliases[key]; ok {
		return alias
	}

	for _, prefix := range []string{"temperature_", "temperature", "temp_", "temp"} {
		if n, ok := indexSuffix(key, prefix); ok {
			return TemperatureField(n)
		}
	}
	for _, prefix := range []string{"cell_voltage_", "cell_voltage", "cell_", "cell"} {
		if n, ok := indexSuffix(key, prefix); ok {
			return CellField(n)
		}
	}

	return key
}

// indexSuffix parses "<prefix><n>" with n >= 1
func indexSuffix(field, prefix string) (int, bool) {
	if !strings.HasPrefix(field, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(field[len(prefix):])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// FieldsOfKind returns the sorted field names of the given kind present in the series
func FieldsOfKind(series Series, kind Kind) []string {
	seen := make(map[string]bool)
	for _, s := range series.Samples {
		for field := range s.values {
			if KindOf(field) == kind {
				seen[field] = true
			}
		}
	}

	fields := make([]string, 0, len(seen))
	for field := range seen {
		fields = append(fields, field)
	}
	sort.Slice(fields, func(i, j int) bool {
		return fieldLess(fields[i], fields[j])
	})
	return fields
}

// fieldLess orders indexed fields numerically (cell_2 before cell_10)
func fieldLess(a, b string) bool {
	for _, prefix := range []string{temperaturePrefix, cellPrefix} {
		na, okA := indexSuffix(a, prefix)
		nb, okB := indexSuffix(b, prefix)
		if okA && okB {
			return na < nb
		}
	}
	return a < b
}
