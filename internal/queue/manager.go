// Copyright 2025 Mech Services, Inc.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dundas/mech-queue/internal/backend"
	"github.com/dundas/mech-queue/internal/config"
	"github.com/dundas/mech-queue/internal/events"
	"github.com/dundas/mech-queue/internal/obs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// removedJobTTL keeps cancelled job documents around briefly for status reads.
const removedJobTTL = time.Hour

// EnqueueRequest carries everything needed to submit a job. Access control
// happens before the manager: callers resolve the tenant and its allowed
// queues first, the manager only records the identity.
type EnqueueRequest struct {
	Queue    string
	Name     string
	Data     json.RawMessage
	Extra    map[string]interface{}
	Options  *Options
	Webhooks map[string]string
	Metadata Metadata
}

// Manager owns the queue registry and the job lifecycle. Queues come into
// existence on first reference; the registry map only tracks names so
// repeated references stay cheap.
type Manager struct {
	cfg     *config.Config
	backend *backend.Backend
	bus     *events.Bus
	log     *zap.Logger

	mu     sync.Mutex
	queues map[string]time.Time // name -> first seen

	// cancelActive is installed by the worker runtime so Cancel can signal
	// in-flight executions. Returns true when a handler was signalled.
	cancelActive func(jobID string) bool
}

func NewManager(cfg *config.Config, b *backend.Backend, bus *events.Bus, log *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		backend: b,
		bus:     bus,
		log:     log,
		queues:  make(map[string]time.Time),
	}
}

// SetCanceller installs the in-flight cancellation hook.
func (m *Manager) SetCanceller(fn func(jobID string) bool) {
	m.mu.Lock()
	m.cancelActive = fn
	m.mu.Unlock()
}

func (m *Manager) ensureQueue(ctx context.Context, name string) error {
	m.mu.Lock()
	_, known := m.queues[name]
	if !known {
		m.queues[name] = time.Now()
	}
	m.mu.Unlock()
	if known {
		return nil
	}
	return m.backend.RegisterQueue(ctx, name)
}

// Enqueue validates options, persists the job and makes it runnable. Jobs
// with a positive delay park in the delayed set until due.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (*Job, error) {
	if err := m.ensureQueue(ctx, req.Queue); err != nil {
		return nil, err
	}

	opts := m.normalizeOptions(req.Options)
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New().String(),
		Queue:     req.Queue,
		Name:      req.Name,
		Data:      req.Data,
		Extra:     req.Extra,
		Metadata:  req.Metadata,
		Options:   opts,
		Status:    StatusWaiting,
		Webhooks:  req.Webhooks,
		CreatedAt: now,
	}
	if job.Metadata.SubmittedAt == "" {
		job.Metadata.SubmittedAt = now.Format(time.RFC3339Nano)
	}

	delayed := opts.Delay > 0
	if delayed {
		job.Status = StatusDelayed
	}

	doc, err := job.Marshal()
	if err != nil {
		return nil, err
	}
	if err := m.backend.SaveJob(ctx, job.ID, doc, string(job.Status), opts.Priority); err != nil {
		return nil, err
	}

	if delayed {
		due := now.Add(time.Duration(opts.Delay) * time.Millisecond)
		if err := m.backend.DelayUntil(ctx, req.Queue, job.ID, due); err != nil {
			return nil, err
		}
	} else {
		if err := m.backend.Push(ctx, req.Queue, job.ID, opts.Priority); err != nil {
			return nil, err
		}
	}

	obs.JobsEnqueued.WithLabelValues(req.Queue).Inc()
	m.emit(job, events.StatusCreated, nil)
	m.log.Debug("job enqueued",
		obs.String("job_id", job.ID),
		obs.String("queue", job.Queue),
		obs.String("name", job.Name),
		obs.Bool("delayed", delayed))
	return job, nil
}

func (m *Manager) normalizeOptions(in *Options) Options {
	opts := Options{}
	if in != nil {
		opts = *in
	}
	if opts.Attempts <= 0 {
		opts.Attempts = m.cfg.Workers.DefaultAttempts
	}
	if opts.Backoff.Type == "" {
		opts.Backoff.Type = BackoffExponential
	}
	if opts.Backoff.Delay <= 0 {
		opts.Backoff.Delay = m.cfg.Workers.DefaultBackoff.Milliseconds()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = m.cfg.Workers.DefaultTimeout.Milliseconds()
	}
	if opts.Priority < 0 {
		opts.Priority = 0
	}
	return opts
}

// GetJob loads a job and verifies queue ownership.
func (m *Manager) GetJob(ctx context.Context, queueName, jobID string) (*Job, error) {
	doc, found, err := m.backend.LoadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrJobNotFound
	}
	job, err := UnmarshalJob(doc)
	if err != nil {
		return nil, err
	}
	if queueName != "" && job.Queue != queueName {
		return nil, ErrJobWrongQueue
	}
	return job, nil
}

// Cancel removes a waiting or delayed job and signals an active one.
// Cancelling an already-removed job is a no-op; terminal jobs report
// ErrJobTerminal.
func (m *Manager) Cancel(ctx context.Context, queueName, jobID string) error {
	job, err := m.GetJob(ctx, queueName, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case StatusRemoved:
		return nil
	case StatusCompleted, StatusFailed:
		return ErrJobTerminal
	case StatusActive:
		m.mu.Lock()
		cancel := m.cancelActive
		m.mu.Unlock()
		if cancel != nil && cancel(jobID) {
			m.log.Info("cancellation signalled", obs.String("job_id", jobID))
			return nil
		}
		// No local handler holds it; drop the claim so it is not reclaimed.
		if err := m.backend.RemoveActive(ctx, job.Queue, jobID); err != nil {
			return err
		}
	default:
		if _, err := m.backend.RemovePending(ctx, job.Queue, jobID); err != nil {
			return err
		}
	}

	job.Status = StatusRemoved
	doc, err := job.Marshal()
	if err != nil {
		return err
	}
	if err := m.backend.UpdateJob(ctx, jobID, doc, string(StatusRemoved)); err != nil {
		return err
	}
	_ = m.backend.ExpireJob(ctx, jobID, removedJobTTL)
	m.log.Info("job cancelled", obs.String("job_id", jobID), obs.String("queue", job.Queue))
	return nil
}

// Reserve claims the next eligible job of a queue for execution.
func (m *Manager) Reserve(ctx context.Context, queueName string) (*Job, error) {
	id, err := m.backend.Reserve(ctx, queueName, m.cfg.Workers.VisibilityTimeout)
	if err != nil {
		return nil, err
	}
	return m.GetJob(ctx, queueName, id)
}

// MarkStarted records the attempt and emits the started event.
func (m *Manager) MarkStarted(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.Status = StatusActive
	job.ProcessedAt = &now
	job.AttemptsMade++
	doc, err := job.Marshal()
	if err != nil {
		return err
	}
	if err := m.backend.UpdateJob(ctx, job.ID, doc, string(StatusActive)); err != nil {
		return err
	}
	m.emit(job, events.StatusStarted, nil)
	return nil
}

// UpdateProgress persists handler-reported progress and emits the event.
func (m *Manager) UpdateProgress(ctx context.Context, job *Job, progress interface{}) error {
	job.Progress = progress
	doc, err := job.Marshal()
	if err != nil {
		return err
	}
	if err := m.backend.UpdateJob(ctx, job.ID, doc, string(job.Status)); err != nil {
		return err
	}
	ev := m.event(job, events.StatusProgress)
	ev.Progress = progress
	m.bus.Emit(ev)
	return nil
}

// CompleteJob records the terminal success state.
func (m *Manager) CompleteJob(ctx context.Context, job *Job, result interface{}) error {
	now := time.Now().UTC()
	job.Status = StatusCompleted
	job.Result = result
	job.FinishedAt = &now
	doc, err := job.Marshal()
	if err != nil {
		return err
	}
	if err := m.backend.UpdateJob(ctx, job.ID, doc, string(StatusCompleted)); err != nil {
		return err
	}
	if err := m.backend.Complete(ctx, job.Queue, job.ID, now); err != nil {
		return err
	}
	obs.JobsCompleted.WithLabelValues(job.Queue).Inc()
	ev := m.event(job, events.StatusCompleted)
	ev.Result = result
	m.bus.Emit(ev)
	m.trimRetention(ctx, job.Queue)
	return nil
}

// FailJobFinal records a terminal failure regardless of remaining attempts.
// Used for cancellations and out-of-band failure reports, where a retry
// would resurrect work nobody wants re-run.
func (m *Manager) FailJobFinal(ctx context.Context, job *Job, reason string) error {
	return m.failTerminal(ctx, job, reason)
}

// FailJob either schedules a retry (delayed, backoff per options) or records
// the terminal failure once attempts are exhausted. Returns whether a retry
// was scheduled.
func (m *Manager) FailJob(ctx context.Context, job *Job, reason string) (bool, error) {
	if job.AttemptsMade < job.Options.Attempts {
		delay := job.NextBackoff()
		job.Status = StatusDelayed
		job.FailedReason = reason
		doc, err := job.Marshal()
		if err != nil {
			return false, err
		}
		if err := m.backend.UpdateJob(ctx, job.ID, doc, string(StatusDelayed)); err != nil {
			return false, err
		}
		if err := m.backend.DelayUntil(ctx, job.Queue, job.ID, time.Now().Add(delay)); err != nil {
			return false, err
		}
		obs.JobsRetried.WithLabelValues(job.Queue).Inc()
		m.log.Warn("job scheduled for retry",
			obs.String("job_id", job.ID),
			obs.String("queue", job.Queue),
			obs.Int("attempts_made", job.AttemptsMade),
			obs.String("reason", reason))
		return true, nil
	}
	return false, m.failTerminal(ctx, job, reason)
}

func (m *Manager) failTerminal(ctx context.Context, job *Job, reason string) error {
	now := time.Now().UTC()
	job.Status = StatusFailed
	job.FailedReason = reason
	job.FinishedAt = &now
	doc, err := job.Marshal()
	if err != nil {
		return err
	}
	if err := m.backend.UpdateJob(ctx, job.ID, doc, string(StatusFailed)); err != nil {
		return err
	}
	if err := m.backend.Fail(ctx, job.Queue, job.ID, now); err != nil {
		return err
	}
	obs.JobsFailed.WithLabelValues(job.Queue).Inc()
	ev := m.event(job, events.StatusFailed)
	ev.Error = reason
	m.bus.Emit(ev)
	m.trimRetention(ctx, job.Queue)
	m.log.Error("job failed permanently",
		obs.String("job_id", job.ID),
		obs.String("queue", job.Queue),
		obs.String("reason", reason))
	return nil
}

func (m *Manager) trimRetention(ctx context.Context, queueName string) {
	r := m.cfg.Retention
	if _, err := m.backend.Clean(ctx, queueName, backend.BucketCompleted, r.CompletedAge, r.CompletedCount); err != nil {
		m.log.Warn("completed retention trim failed", obs.String("queue", queueName), obs.Err(err))
	}
	if _, err := m.backend.Clean(ctx, queueName, backend.BucketFailed, r.FailedAge, r.FailedCount); err != nil {
		m.log.Warn("failed retention trim failed", obs.String("queue", queueName), obs.Err(err))
	}
}

// Pause blocks reservations on a queue.
func (m *Manager) Pause(ctx context.Context, queueName string) error {
	if err := m.ensureQueue(ctx, queueName); err != nil {
		return err
	}
	return m.backend.Pause(ctx, queueName)
}

// Resume lifts a pause.
func (m *Manager) Resume(ctx context.Context, queueName string) error {
	return m.backend.Resume(ctx, queueName)
}

// Clean trims a terminal bucket on demand. bucket is "completed" or "failed".
func (m *Manager) Clean(ctx context.Context, queueName string, bucket string, olderThan time.Duration, keep int64) (int, error) {
	return m.backend.Clean(ctx, queueName, backend.TerminalBucket(bucket), olderThan, keep)
}

// Stats returns bucket counts for one queue.
func (m *Manager) Stats(ctx context.Context, queueName string) (backend.Counts, error) {
	return m.backend.Stats(ctx, queueName)
}

// AllStats returns bucket counts for every known queue.
func (m *Manager) AllStats(ctx context.Context) (map[string]backend.Counts, error) {
	names, err := m.backend.QueueNames(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]backend.Counts, len(names))
	for _, n := range names {
		c, err := m.backend.Stats(ctx, n)
		if err != nil {
			return nil, err
		}
		out[n] = c
	}
	return out, nil
}

// ListQueues returns every queue name ever referenced.
func (m *Manager) ListQueues(ctx context.Context) ([]string, error) {
	return m.backend.QueueNames(ctx)
}

// Backend exposes the raw primitives to housekeeping components.
func (m *Manager) Backend() *backend.Backend { return m.backend }

func (m *Manager) event(job *Job, status events.Status) events.Event {
	var data interface{}
	if len(job.Data) > 0 {
		data = json.RawMessage(job.Data)
	}
	return events.Event{
		JobID:         job.ID,
		Queue:         job.Queue,
		Status:        status,
		ApplicationID: job.Metadata.ApplicationID,
		Data:          data,
		Metadata:      job.Extra,
		Timestamp:     time.Now().UTC(),
	}
}

func (m *Manager) emit(job *Job, status events.Status, result interface{}) {
	ev := m.event(job, status)
	ev.Result = result
	m.bus.Emit(ev)
}
