// Copyright 2025 Mech Services, Inc.
package reaper

import (
	"context"
	"time"

	"github.com/dundas/mech-queue/internal/backend"
	"github.com/dundas/mech-queue/internal/obs"
	"go.uber.org/zap"
)

const sweepBatch = 100

// Reaper is the housekeeping sweep: it promotes due delayed jobs into
// waiting and reclaims active jobs whose visibility deadline has passed
// (worker died mid-execution). Reclamation does not count as an attempt;
// the next worker's reserve does.
type Reaper struct {
	backend  *backend.Backend
	interval time.Duration
	log      *zap.Logger
}

func New(b *backend.Backend, interval time.Duration, log *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reaper{backend: b, interval: interval, log: log}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context) {
	names, err := r.backend.QueueNames(ctx)
	if err != nil {
		r.log.Warn("reaper queue scan error", obs.Err(err))
		return
	}
	for _, q := range names {
		promoted, err := r.backend.PromoteDue(ctx, q, sweepBatch)
		if err != nil {
			r.log.Warn("promote sweep error", obs.String("queue", q), obs.Err(err))
		} else if promoted > 0 {
			obs.DelayedPromoted.Add(float64(promoted))
			r.log.Debug("promoted delayed jobs", obs.String("queue", q), obs.Int("count", promoted))
		}

		reclaimed, err := r.backend.ReclaimExpired(ctx, q, sweepBatch)
		if err != nil {
			r.log.Warn("reclaim sweep error", obs.String("queue", q), obs.Err(err))
		} else if reclaimed > 0 {
			obs.ReaperReclaimed.Add(float64(reclaimed))
			r.log.Warn("reclaimed abandoned jobs", obs.String("queue", q), obs.Int("count", reclaimed))
		}
	}
}
