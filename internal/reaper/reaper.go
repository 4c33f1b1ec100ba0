// Package reaper returns slots to the pool when their lease runs out or
// their browser dies.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/firefly-engineering/browserpool/internal/instance"
	"github.com/firefly-engineering/browserpool/internal/logging"
	"github.com/firefly-engineering/browserpool/internal/metrics"
)

// Pool is what the reaper needs from the allocator.
type Pool interface {
	Expired(ctx context.Context, now time.Time) ([]instance.Slot, error)
	ExpireSlot(ctx context.Context, instanceID string, now time.Time) (bool, error)
	LiveHandles() []instance.Handle
	Probe(ctx context.Context, h instance.Handle) (bool, error)
	ReclaimCrashed(ctx context.Context, h instance.Handle) (bool, error)
}

// SweepResult counts what one cycle did.
type SweepResult struct {
	Expired int
	Crashed int
	Errors  int
}

// Reaper periodically runs the expiry and crash sweeps.
type Reaper struct {
	interval time.Duration
	pool     Pool
	now      func() time.Time
	metrics  metrics.Collector
	log      *slog.Logger
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		r.now = now
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(r *Reaper) {
		r.metrics = c
	}
}

// New creates a new Reaper.
func New(interval time.Duration, pool Pool, opts ...Option) *Reaper {
	r := &Reaper{
		interval: interval,
		pool:     pool,
		now:      time.Now,
		metrics:  metrics.Noop{},
		log:      logging.Component("reaper"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the reaper loop. It blocks until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.log.Debug("starting reaper", "interval", r.interval)

	// Run an immediate sweep, then loop on interval.
	r.Sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Debug("reaper stopping")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry sweep and one crash sweep. An error on one slot
// is logged and counted; the remaining slots are still processed.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	began := time.Now()
	var res SweepResult

	r.sweepExpired(ctx, &res)
	r.sweepCrashed(ctx, &res)

	if res.Expired > 0 || res.Crashed > 0 || res.Errors > 0 {
		r.log.Info("reaper sweep", "expired", res.Expired, "crashed", res.Crashed, "errors", res.Errors)
	}
	r.metrics.SweepCompleted(res.Expired, res.Crashed, res.Errors, time.Since(began))
	return res
}

func (r *Reaper) sweepExpired(ctx context.Context, res *SweepResult) {
	now := r.now()
	slots, err := r.pool.Expired(ctx, now)
	if err != nil {
		r.log.Warn("reaper failed to list expired slots", "error", err)
		res.Errors++
		return
	}

	for _, slot := range slots {
		if ctx.Err() != nil {
			return
		}
		ok, err := r.pool.ExpireSlot(ctx, slot.InstanceID, now)
		if err != nil {
			r.log.Warn("failed to expire slot", "instance", slot.InstanceID, "error", err)
			res.Errors++
			continue
		}
		if ok {
			r.log.Info("lease expired", "instance", slot.InstanceID, "agent", slot.AgentID, "expires_at", slot.ExpiresAt)
			res.Expired++
		}
	}
}

func (r *Reaper) sweepCrashed(ctx context.Context, res *SweepResult) {
	for _, h := range r.pool.LiveHandles() {
		if ctx.Err() != nil {
			return
		}
		running, err := r.pool.Probe(ctx, h)
		if err != nil {
			r.log.Warn("failed to probe browser", "instance", h.InstanceID, "error", err)
			res.Errors++
			continue
		}
		if running {
			continue
		}

		ok, err := r.pool.ReclaimCrashed(ctx, h)
		if err != nil {
			r.log.Warn("failed to reclaim crashed slot", "instance", h.InstanceID, "error", err)
			res.Errors++
			continue
		}
		if ok {
			r.log.Warn("browser died, slot reclaimed", "instance", h.InstanceID, "pid", h.ProcessID, "tunnel_pid", h.TunnelID)
			res.Crashed++
		}
	}
}
