// Package monitoring schedules the sync tick and watches sync health.
package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TickFunc is one unit of scheduled work. Errors are logged and never stop
// the poller.
type TickFunc func(ctx context.Context) error

// Poller runs a TickFunc at a fixed interval. The first tick runs immediately
// and a tick always completes before the next one starts.
type Poller struct {
	name     string
	interval time.Duration
	tick     TickFunc
}

// NewPoller creates a Poller. A non-positive interval defaults to 5 minutes.
func NewPoller(name string, interval time.Duration, tick TickFunc) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{name: name, interval: interval, tick: tick}
}

// Interval returns the effective tick interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.poller"), zap.String("poller", p.name))
	log.Info("starting poller", zap.Duration("interval", p.interval))

	if ctx.Err() != nil {
		log.Info("poller stopped")
		return
	}
	p.runOnce(ctx, log)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("poller stopped")
			return
		case <-ticker.C:
			p.runOnce(ctx, log)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context, log *zap.Logger) {
	start := time.Now()
	if err := p.tick(ctx); err != nil {
		log.Error("monitoring: tick failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	log.Debug("monitoring: tick complete", zap.Duration("elapsed", time.Since(start)))
}
