package dashboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Refresher is the part of Service the poller drives
type Refresher interface {
	Refresh(ctx context.Context) (*Snapshot, error)
}

// Poller refreshes the dashboard on a fixed interval
type Poller struct {
	logger    *zap.Logger
	refresher Refresher
	interval  time.Duration

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewPoller creates a poller; interval <= 0 means one minute
func NewPoller(logger *zap.Logger, refresher Refresher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		logger:    logger.Named("poller"),
		refresher: refresher,
		interval:  interval,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start refreshes once immediately and then on every tick until ctx is
// cancelled or Stop is called
func (p *Poller) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.logger.Info("Starting dashboard poller", zap.Duration("interval", p.interval))
	go p.run(ctx)
}

// Stop halts the poller and waits for an in-flight refresh to finish
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.started.Load() {
		<-p.done
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped due to context cancellation")
			return
		case <-p.stopCh:
			p.logger.Info("Poller stopped gracefully")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	if _, err := p.refresher.Refresh(ctx); err != nil {
		if errors.Is(err, ErrNoDeviceSelected) {
			p.logger.Debug("Skipping refresh, no device selected")
			return
		}
		// Refresh already logged the cause
		p.logger.Debug("Scheduled refresh failed", zap.Error(err))
	}
}
