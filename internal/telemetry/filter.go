package telemetry

import "time"

// AnomalyReporter receives data-quality events noticed while processing a series.
// Implementations must be safe for concurrent use.
type AnomalyReporter interface {
	ReportUnparseableTimestamp(deviceID string, index int, raw string)
}

// FilterByHourRange keeps the samples whose local hour of day (in loc) falls in
// [minHour, maxHour]. Samples with an unparseable timestamp are kept and reported
// to reporter, which may be nil. A nil loc means time.Local.
func FilterByHourRange(series Series, minHour, maxHour int, loc *time.Location, reporter AnomalyReporter) Series {
	if loc == nil {
		loc = time.Local
	}

	out := Series{DeviceID: series.DeviceID, Samples: make([]Sample, 0, len(series.Samples))}
	for i, sample := range series.Samples {
		if !sample.Time.Valid {
			if reporter != nil {
				reporter.ReportUnparseableTimestamp(series.DeviceID, i, sample.Time.Raw)
			}
			out.Samples = append(out.Samples, sample)
			continue
		}

		hour := sample.Time.Time.In(loc).Hour()
		if hour >= minHour && hour <= maxHour {
			out.Samples = append(out.Samples, sample)
		}
	}
	return out
}

// FilterByWindow keeps the samples with start <= t < end. A zero bound is open.
// Samples with an unparseable timestamp are kept.
func FilterByWindow(series Series, start, end time.Time) Series {
	out := Series{DeviceID: series.DeviceID, Samples: make([]Sample, 0, len(series.Samples))}
	for _, sample := range series.Samples {
		if sample.Time.Valid {
			if !start.IsZero() && sample.Time.Time.Before(start) {
				continue
			}
			if !end.IsZero() && !sample.Time.Time.Before(end) {
				continue
			}
		}
		out.Samples = append(out.Samples, sample)
	}
	return out
}
