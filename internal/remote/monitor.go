package remote

import (
	"context"
	"log/slog"
	"time"
)

// Monitor probes a runner's liveness on a fixed interval, independent of
// individual run timeouts. A failed probe triggers the reset callback and
// the monitor keeps going against whatever runner Reset installed.
type Monitor struct {
	Interval time.Duration
	Logger   *slog.Logger

	// Probe is called every interval, typically the runner's Alive.
	// With no probe configured Run returns immediately.
	Probe func(ctx context.Context) error
	// OnFailure is invoked when a probe fails. It should tear down and
	// re-establish the target session.
	OnFailure func(ctx context.Context, err error)
}

// Run blocks until ctx is cancelled, probing every Interval.
func (m *Monitor) Run(ctx context.Context) {
	if m.Probe == nil {
		return
	}
	log := m.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := m.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		err := m.Probe(probeCtx)
		cancel()
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("heartbeat failed", "error", err)
		if m.OnFailure != nil {
			m.OnFailure(ctx, err)
		}
	}
}
