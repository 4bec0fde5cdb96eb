// Copyright 2025 Mech Services, Inc.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dundas/mech-queue/internal/obs"
	"github.com/dundas/mech-queue/internal/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// firingData is the scheduler-queue job payload.
type firingData struct {
	ScheduleID string `json:"scheduleId"`
}

// Service owns schedule CRUD and the periodic tick that turns due schedules
// into scheduler-queue jobs.
type Service struct {
	store Store
	mgr   *queue.Manager
	tick  time.Duration
	log   *zap.Logger
}

func NewService(store Store, mgr *queue.Manager, tick time.Duration, log *zap.Logger) *Service {
	return &Service{store: store, mgr: mgr, tick: tick, log: log}
}

// Create validates, applies defaults, computes the first fire time and
// persists the schedule.
func (s *Service) Create(ctx context.Context, sched *Schedule) (*Schedule, error) {
	sched.ApplyDefaults()
	if err := sched.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sched.ID = uuid.New().String()
	sched.Enabled = true
	sched.CreatedAt = now
	sched.UpdatedAt = now

	if sched.Spec.Cron != "" {
		next, err := NextFire(sched.Spec.Cron, sched.Spec.Timezone, now)
		if err != nil {
			return nil, err
		}
		sched.NextExecutionAt = &next
	} else {
		// One-shot schedules keep their at time even when it is already in
		// the past: the next tick fires them once and disables them.
		at := sched.Spec.At.UTC()
		sched.NextExecutionAt = &at
	}

	if err := s.store.Insert(ctx, sched); err != nil {
		return nil, err
	}
	s.log.Info("schedule created",
		obs.String("schedule_id", sched.ID),
		obs.String("name", sched.Name),
		obs.String("cron", sched.Spec.Cron))
	return sched, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Schedule, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Schedule, error) {
	return s.store.List(ctx)
}

// Update replaces the mutable fields and recomputes the next fire time.
func (s *Service) Update(ctx context.Context, id string, in *Schedule) (*Schedule, error) {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	in.ApplyDefaults()
	in.ID = existing.ID
	in.CreatedAt = existing.CreatedAt
	in.CreatedBy = existing.CreatedBy
	in.ExecutionCount = existing.ExecutionCount
	in.Enabled = existing.Enabled
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	in.UpdatedAt = now
	if in.Spec.Cron != "" {
		next, err := NextFire(in.Spec.Cron, in.Spec.Timezone, now)
		if err != nil {
			return nil, err
		}
		in.NextExecutionAt = &next
	} else {
		at := in.Spec.At.UTC()
		in.NextExecutionAt = &at
	}
	if err := s.store.Update(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Toggle flips enablement. Re-enabling a cron schedule recomputes the next
// fire so it does not immediately fire for every missed window.
func (s *Service) Toggle(ctx context.Context, id string) (*Schedule, error) {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sched.Enabled = !sched.Enabled
	if sched.Enabled && sched.Spec.Cron != "" {
		next, err := NextFire(sched.Spec.Cron, sched.Spec.Timezone, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		sched.NextExecutionAt = &next
	}
	sched.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// ExecuteNow enqueues a firing immediately, outside the tick cadence.
func (s *Service) ExecuteNow(ctx context.Context, id string) (string, error) {
	sched, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.enqueueFiring(ctx, sched)
}

// Run drives the tick loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.log.Info("scheduler started", obs.String("tick", s.tick.String()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickOnce(ctx)
		}
	}
}

// tickOnce fires every due schedule. One schedule's failure never affects
// the others; errors are logged and retried on the next tick.
func (s *Service) tickOnce(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		s.log.Error("scheduler tick query failed", obs.Err(err))
		return
	}
	for _, sched := range due {
		if err := s.fire(ctx, sched, now); err != nil {
			s.log.Error("schedule firing failed",
				obs.String("schedule_id", sched.ID),
				obs.Err(err))
		}
	}
}

func (s *Service) fire(ctx context.Context, sched *Schedule, now time.Time) error {
	var next *time.Time
	if sched.Spec.Cron != "" {
		n, err := NextFire(sched.Spec.Cron, sched.Spec.Timezone, now)
		if err != nil {
			return fmt.Errorf("compute next fire: %w", err)
		}
		next = &n
	}

	// The conditional advance is the dedup point across instances: only the
	// winner enqueues.
	won, err := s.store.Advance(ctx, sched.ID, sched.NextExecutionAt, next)
	if err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	if !won {
		return nil
	}

	if _, err := s.enqueueFiring(ctx, sched); err != nil {
		return err
	}
	obs.SchedulesFired.Inc()
	s.log.Info("schedule fired",
		obs.String("schedule_id", sched.ID),
		obs.String("name", sched.Name))
	return nil
}

func (s *Service) enqueueFiring(ctx context.Context, sched *Schedule) (string, error) {
	data, err := json.Marshal(firingData{ScheduleID: sched.ID})
	if err != nil {
		return "", err
	}
	opts := &queue.Options{
		Attempts: sched.RetryPolicy.Attempts,
		Backoff: queue.Backoff{
			Type:  queue.BackoffType(sched.RetryPolicy.Backoff.Type),
			Delay: sched.RetryPolicy.Backoff.Delay,
		},
		Timeout: (time.Duration(sched.Endpoint.Timeout) * time.Second).Milliseconds() + 5000,
	}
	job, err := s.mgr.Enqueue(ctx, queue.EnqueueRequest{
		Queue:   QueueName,
		Name:    "schedule-execute",
		Data:    data,
		Options: opts,
		Metadata: queue.Metadata{
			ApplicationID:   "scheduler",
			ApplicationName: "scheduler",
		},
	})
	if err != nil {
		return "", fmt.Errorf("enqueue firing: %w", err)
	}
	return job.ID, nil
}
