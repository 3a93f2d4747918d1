// Package alerts publishes deviation alerts for out-of-range battery readings.
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aaronlmathis/voltwatch/internal/metrics"
	"github.com/aaronlmathis/voltwatch/internal/stats"
)

// Alert is one field of one device crossing the warning or critical threshold
type Alert struct {
	ID        string         `json:"id"`
	DeviceID  string         `json:"deviceId"`
	Field     string         `json:"field"`
	Kind      string         `json:"kind"`
	Severity  stats.Severity `json:"severity"`
	Current   float64        `json:"current"`
	Mean      float64        `json:"mean"`
	StdDev    float64        `json:"stdDev"`
	Deviation float64        `json:"deviation"`
	Time      time.Time      `json:"time"`
}

// Publisher delivers alerts to a sink
type Publisher interface {
	Publish(ctx context.Context, alert Alert) error
	Name() string
	Close()
}

// FromRows turns the warning and critical rows of a deviation report into alerts
func FromRows(deviceID string, rows []stats.DeviationRow, now time.Time) []Alert {
	var out []Alert
	for _, row := range rows {
		if row.Severity == stats.SeverityNormal {
			continue
		}
		out = append(out, Alert{
			ID:        uuid.NewString(),
			DeviceID:  deviceID,
			Field:     row.Field,
			Kind:      row.Kind,
			Severity:  row.Severity,
			Current:   row.Current,
			Mean:      row.Mean,
			StdDev:    row.StdDev,
			Deviation: row.Deviation,
			Time:      now,
		})
	}
	return out
}

// Notifier publishes an alert when the severity of a device field changes to
// warning or critical. Repeated reports at the same severity are suppressed.
type Notifier struct {
	logger    *zap.Logger
	publisher Publisher
	now       func() time.Time

	mu   sync.Mutex
	last map[string]stats.Severity
}

// NewNotifier creates a notifier; a nil publisher discards alerts
func NewNotifier(logger *zap.Logger, publisher Publisher) *Notifier {
	return &Notifier{
		logger:    logger,
		publisher: publisher,
		now:       time.Now,
		last:      make(map[string]stats.Severity),
	}
}

// Notify publishes alerts for the rows whose severity changed since the last
// report for deviceID and returns them.
func (n *Notifier) Notify(ctx context.Context, deviceID string, rows []stats.DeviationRow) []Alert {
	if n == nil || n.publisher == nil {
		return nil
	}

	n.mu.Lock()
	changed := make([]stats.DeviationRow, 0, len(rows))
	for _, row := range rows {
		key := deviceID + "/" + row.Field
		if n.last[key] == row.Severity {
			continue
		}
		n.last[key] = row.Severity
		changed = append(changed, row)
	}
	n.mu.Unlock()

	alerts := FromRows(deviceID, changed, n.now())
	for _, alert := range alerts {
		err := n.publisher.Publish(ctx, alert)
		metrics.RecordAlert(string(alert.Severity), n.publisher.Name(), err)
		if err != nil {
			n.logger.Error("Failed to publish alert",
				zap.String("sink", n.publisher.Name()),
				zap.String("device", alert.DeviceID),
				zap.String("field", alert.Field),
				zap.Error(err))
		}
	}
	return alerts
}

// Close closes the underlying publisher
func (n *Notifier) Close() {
	if n != nil && n.publisher != nil {
		n.publisher.Close()
	}
}

// LogPublisher writes alerts to the application log
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the alert at warn level
func (p *LogPublisher) Publish(_ context.Context, alert Alert) error {
	p.logger.Warn("Battery reading deviates from its history",
		zap.String("alert_id", alert.ID),
		zap.String("device", alert.DeviceID),
		zap.String("field", alert.Field),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("current", alert.Current),
		zap.Float64("mean", alert.Mean),
		zap.Float64("deviation", alert.Deviation))
	return nil
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Close() {}
