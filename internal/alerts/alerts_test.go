package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aaronlmathis/voltwatch/internal/stats"
)

type recordingPublisher struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, a Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, a)
	return p.err
}

func (p *recordingPublisher) Name() string { return "test" }
func (p *recordingPublisher) Close()       {}

func row(field string, severity stats.Severity) stats.DeviationRow {
	return stats.DeviationRow{
		FieldStatistics: stats.FieldStatistics{Field: field, Current: 3.6, Mean: 3.3, StdDev: 0.05},
		Kind:            "cell_voltage",
		Deviation:       6,
		Severity:        severity,
	}
}

func TestFromRows(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	alerts := FromRows("pack-1", []stats.DeviationRow{
		row("cell_1", stats.SeverityNormal),
		row("cell_2", stats.SeverityWarning),
		row("cell_3", stats.SeverityCritical),
	}, now)

	require.Len(t, alerts, 2)
	assert.Equal(t, "cell_2", alerts[0].Field)
	assert.Equal(t, stats.SeverityCritical, alerts[1].Severity)
	assert.Equal(t, now, alerts[1].Time)
	assert.NotEqual(t, alerts[0].ID, alerts[1].ID)
	_, err := uuid.Parse(alerts[0].ID)
	assert.NoError(t, err)
}

func TestNotifier_PublishesOnSeverityChange(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNotifier(zaptest.NewLogger(t), pub)
	ctx := context.Background()

	n.Notify(ctx, "pack-1", []stats.DeviationRow{row("cell_1", stats.SeverityWarning)})
	n.Notify(ctx, "pack-1", []stats.DeviationRow{row("cell_1", stats.SeverityWarning)})
	n.Notify(ctx, "pack-1", []stats.DeviationRow{row("cell_1", stats.SeverityCritical)})
	n.Notify(ctx, "pack-1", []stats.DeviationRow{row("cell_1", stats.SeverityNormal)})
	n.Notify(ctx, "pack-1", []stats.DeviationRow{row("cell_1", stats.SeverityWarning)})
	n.Notify(ctx, "pack-2", []stats.DeviationRow{row("cell_1", stats.SeverityWarning)})

	require.Len(t, pub.alerts, 4)
	assert.Equal(t, stats.SeverityWarning, pub.alerts[0].Severity)
	assert.Equal(t, stats.SeverityCritical, pub.alerts[1].Severity)
	assert.Equal(t, stats.SeverityWarning, pub.alerts[2].Severity)
	assert.Equal(t, "pack-2", pub.alerts[3].DeviceID)
}

func TestNotifier_LogsPublishErrors(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	n := NewNotifier(zap.New(core), pub)

	alerts := n.Notify(context.Background(), "pack-1", []stats.DeviationRow{row("temp_1", stats.SeverityCritical)})
	assert.Len(t, alerts, 1)
	assert.Equal(t, 1, logs.FilterMessage("Failed to publish alert").Len())
}

func TestNotifier_NilPublisher(t *testing.T) {
	n := NewNotifier(zaptest.NewLogger(t), nil)
	assert.Nil(t, n.Notify(context.Background(), "pack-1", []stats.DeviationRow{row("cell_1", stats.SeverityCritical)}))
	n.Close()
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), Alert{ID: "a1", DeviceID: "pack-1", Field: "cell_4", Severity: stats.SeverityWarning}))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "cell_4", entries[0].ContextMap()["field"])
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "voltwatch/alerts/pack-1/cell_3", Topic("voltwatch/alerts/", "pack-1", "cell_3"))
	assert.Equal(t, "site_a_pack_/soc", Topic("", "site/a/pack#", "soc"))
	assert.Equal(t, "x/dev_1/temp_1", Topic("/x", "dev+1", "temp_1"))
}
