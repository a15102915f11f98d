package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Reaper periodically evicts polling sessions that stopped polling. It is
// the only cleanup path a polling session has; streaming sessions are
// removed by their connection close instead.
type Reaper struct {
	reg       *Registry
	clk       clock.Clock
	interval  time.Duration
	threshold time.Duration
}

// NewReaper creates a reaper sweeping reg every interval, evicting polling
// sessions idle for longer than threshold.
func NewReaper(reg *Registry, clk clock.Clock, interval, threshold time.Duration) *Reaper {
	return &Reaper{reg: reg, clk: clk, interval: interval, threshold: threshold}
}

// Run sweeps until ctx is cancelled. Each sweep holds the registry lock only
// briefly; per-request work is never blocked behind it.
func (r *Reaper) Run(ctx context.Context) {
	ticker := r.clk.Ticker(r.interval)
	defer ticker.Stop()

	slog.Info("idle reaper started", "interval", r.interval, "threshold", r.threshold)
	for {
		select {
		case <-ctx.Done():
			slog.Info("idle reaper stopped")
			return
		case <-ticker.C:
			if n := r.reg.ReapIdle(r.threshold); n > 0 {
				slog.Info("idle sweep complete", "evicted", n)
			}
		}
	}
}
