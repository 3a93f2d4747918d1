package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aaronlmathis/voltwatch/internal/alerts"
	"github.com/aaronlmathis/voltwatch/internal/metrics"
	"github.com/aaronlmathis/voltwatch/internal/stats"
	"github.com/aaronlmathis/voltwatch/internal/telemetry"
)

// Fetcher returns the raw telemetry payload of a device for a window
type Fetcher interface {
	FetchTelemetry(ctx context.Context, deviceID string, start, end time.Time) (any, error)
}

// Notifier publishes deviation alerts
type Notifier interface {
	Notify(ctx context.Context, deviceID string, rows []stats.DeviationRow) []alerts.Alert
}

// Broadcaster pushes events to the clients watching a device
type Broadcaster interface {
	BroadcastToRoom(room string, messageType string, data interface{})
}

// Event types sent to WebSocket clients
const (
	EventSnapshot = "snapshot"
	EventAlert    = "alert"
)

// SnapshotEvent is broadcast after every successful refresh
type SnapshotEvent struct {
	DeviceID       string    `json:"deviceId"`
	Samples        int       `json:"samples"`
	NoDataForRange bool      `json:"noDataForRange"`
	UnknownFormat  bool      `json:"unknownFormat"`
	FetchedAt      time.Time `json:"fetchedAt"`
	Status         Status    `json:"status"`
}

// Service refreshes the dashboard snapshot and answers queries against it
type Service struct {
	logger      *zap.Logger
	state       *State
	fetcher     Fetcher
	notifier    Notifier
	broadcaster Broadcaster
	location    *time.Location
	now         func() time.Time

	// Serializes refreshes
	refreshMu sync.Mutex
}

// Option configures a Service
type Option func(*Service)

// WithNotifier publishes deviation alerts after each refresh
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithBroadcaster pushes snapshot and alert events after each refresh
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) { s.broadcaster = b }
}

// WithLocation sets the zone the hour-of-day filter is evaluated in
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a dashboard service
func NewService(logger *zap.Logger, state *State, fetcher Fetcher, opts ...Option) *Service {
	s := &Service{
		logger:   logger.Named("dashboard"),
		state:    state,
		fetcher:  fetcher,
		location: time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the shared state
func (s *Service) State() *State {
	return s.state
}

// Snapshot returns the latest snapshot, or nil before the first refresh
func (s *Service) Snapshot() *Snapshot {
	return s.state.Snapshot()
}

// Location returns the zone used for hour filtering
func (s *Service) Location() *time.Location {
	return s.location
}

// Select replaces the selection and refreshes
func (s *Service) Select(ctx context.Context, sel Selection) (*Snapshot, error) {
	if err := s.state.SetSelection(sel); err != nil {
		return nil, err
	}
	return s.Refresh(ctx)
}

// Refresh fetches the selected window, normalizes and filters it and publishes
// the result. On error the previous snapshot is kept.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	sel, generation := s.state.current()
	if sel.DeviceID == "" {
		return nil, ErrNoDeviceSelected
	}

	started := s.now()
	start, end := sel.Bounds(started)

	raw, err := s.fetcher.FetchTelemetry(ctx, sel.DeviceID, start, end)
	if err != nil {
		metrics.RecordRefresh("error", s.now().Sub(started))
		s.logger.Error("Failed to fetch telemetry",
			zap.String("device", sel.DeviceID),
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Error(err))
		return nil, fmt.Errorf("refresh %s: %w", sel.DeviceID, err)
	}

	result := telemetry.NormalizeRawPayloadIn(sel.DeviceID, raw, s.location)
	metrics.RecordPayloadShape(result.Shape.String())

	sorted := result.Series.SortByTime()
	filtered := telemetry.FilterByHourRange(sorted, sel.MinHour, sel.MaxHour, s.location, &anomalyReporter{logger: s.logger})

	snap := &Snapshot{
		DeviceID:       sel.DeviceID,
		Start:          start,
		End:            end,
		Series:         filtered,
		Shape:          result.Shape.String(),
		NoDataForRange: result.NoDataForRange,
		UnknownFormat:  result.UnknownFormat,
		FetchedAt:      started,
		TotalSamples:   sorted.Len(),
	}

	if !s.state.publish(snap, generation) {
		s.logger.Debug("Selection changed during refresh, discarding result", zap.String("device", sel.DeviceID))
		return s.state.Snapshot(), nil
	}

	outcome := "ok"
	switch {
	case result.UnknownFormat:
		outcome = "unknown_format"
		s.logger.Warn("Unrecognized telemetry payload format", zap.String("device", sel.DeviceID))
	case result.NoDataForRange:
		outcome = "no_data"
	}
	metrics.RecordRefresh(outcome, s.now().Sub(started))
	metrics.SetSeriesSamples(sel.DeviceID, filtered.Len())

	s.logger.Info("Dashboard refreshed",
		zap.String("device", sel.DeviceID),
		zap.String("shape", snap.Shape),
		zap.Int("samples", filtered.Len()),
		zap.Int("filtered_out", snap.TotalSamples-filtered.Len()))

	var raised []alerts.Alert
	if s.notifier != nil {
		raised = s.notifier.Notify(ctx, sel.DeviceID, snap.Deviations(nil, false))
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToRoom(sel.DeviceID, EventSnapshot, SnapshotEvent{
			DeviceID:       snap.DeviceID,
			Samples:        filtered.Len(),
			NoDataForRange: snap.NoDataForRange,
			UnknownFormat:  snap.UnknownFormat,
			FetchedAt:      snap.FetchedAt,
			Status:         snap.Status(),
		})
		for _, a := range raised {
			s.broadcaster.BroadcastToRoom(sel.DeviceID, EventAlert, a)
		}
	}

	return snap, nil
}

// anomalyReporter logs and counts data-quality events
type anomalyReporter struct {
	logger *zap.Logger
}

func (r *anomalyReporter) ReportUnparseableTimestamp(deviceID string, index int, raw string) {
	metrics.RecordUnparseableTimestamp(deviceID)
	r.logger.Warn("Unparseable sample timestamp",
		zap.String("device", deviceID),
		zap.Int("index", index),
		zap.String("raw", raw))
}
