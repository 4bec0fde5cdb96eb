// Copyright 2025 Mech Services, Inc.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dundas/mech-queue/internal/backend"
	"github.com/dundas/mech-queue/internal/config"
	"github.com/dundas/mech-queue/internal/obs"
	"github.com/dundas/mech-queue/internal/queue"
	"go.uber.org/zap"
)

const idlePollInterval = 250 * time.Millisecond

type registration struct {
	handler     Handler
	concurrency int
}

// Runtime hosts handler registrations and runs the reserve/execute/settle
// loop with per-queue concurrency. In-flight jobs are tracked so the queue
// manager can signal cancellation into a running handler.
type Runtime struct {
	cfg *config.Config
	mgr *queue.Manager
	log *zap.Logger

	mu       sync.Mutex
	handlers map[string]registration
	inflight map[string]context.CancelFunc
	running  bool
}

func NewRuntime(cfg *config.Config, mgr *queue.Manager, log *zap.Logger) *Runtime {
	r := &Runtime{
		cfg:      cfg,
		mgr:      mgr,
		log:      log,
		handlers: make(map[string]registration),
		inflight: make(map[string]context.CancelFunc),
	}
	mgr.SetCanceller(r.cancelJob)
	return r
}

// Register binds a handler to a queue. One handler per queue; concurrency is
// clamped to the configured per-queue ceiling, zero means the ceiling.
func (r *Runtime) Register(queueName string, concurrency int, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("cannot register %q after start", queueName)
	}
	if _, exists := r.handlers[queueName]; exists {
		return fmt.Errorf("queue %q already has a handler", queueName)
	}
	max := r.cfg.Workers.MaxPerQueue
	if concurrency <= 0 || concurrency > max {
		concurrency = max
	}
	r.handlers[queueName] = registration{handler: h, concurrency: concurrency}
	return nil
}

// Run starts every worker slot and blocks until ctx is done and all slots
// drained.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	r.running = true
	regs := make(map[string]registration, len(r.handlers))
	for q, reg := range r.handlers {
		regs[q] = reg
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for queueName, reg := range regs {
		for i := 0; i < reg.concurrency; i++ {
			wg.Add(1)
			go func(q string, h Handler, slot int) {
				defer wg.Done()
				obs.WorkerActive.Inc()
				defer obs.WorkerActive.Dec()
				r.runSlot(ctx, q, h, slot)
			}(queueName, reg.handler, i)
		}
		r.log.Info("workers started",
			obs.String("queue", queueName),
			obs.String("handler", reg.handler.Name()),
			obs.Int("concurrency", reg.concurrency))
	}
	wg.Wait()
	return nil
}

func (r *Runtime) runSlot(ctx context.Context, queueName string, h Handler, slot int) {
	for ctx.Err() == nil {
		job, err := r.mgr.Reserve(ctx, queueName)
		if err == backend.ErrNoJob {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("reserve error", obs.String("queue", queueName), obs.Err(err))
			time.Sleep(idlePollInterval)
			continue
		}
		r.execute(ctx, queueName, h, job, slot)
	}
}

func (r *Runtime) execute(parent context.Context, queueName string, h Handler, job *queue.Job, slot int) {
	sctx, span := obs.StartSpan(parent, "job.process",
		obs.KeyValue("queue", queueName),
		obs.KeyValue("job.id", job.ID),
		obs.KeyValue("handler", h.Name()))
	defer span.End()

	if err := r.mgr.MarkStarted(sctx, job); err != nil {
		r.log.Error("mark started failed", obs.String("job_id", job.ID), obs.Err(err))
		return
	}

	timeout := time.Duration(job.Options.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = r.cfg.Workers.DefaultTimeout
	}
	jctx, cancel := context.WithTimeout(sctx, timeout)
	r.track(job.ID, cancel)
	defer func() {
		r.untrack(job.ID)
		cancel()
	}()

	// Heartbeat: keep extending the visibility deadline while the handler
	// runs so the reaper does not hand the job to another worker.
	hbDone := make(chan struct{})
	go r.heartbeat(jctx, queueName, job.ID, hbDone)

	start := time.Now()
	result, err := r.runHandler(jctx, h, job)
	close(hbDone)
	obs.JobProcessingDuration.Observe(time.Since(start).Seconds())

	// Settle with a background-derived context: the job context may already
	// be cancelled and the terminal transition still has to be recorded.
	settleCtx, settleCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer settleCancel()

	if err != nil {
		obs.RecordError(sctx, err)
		if jctx.Err() == context.Canceled && parent.Err() == nil {
			// cancellation, not shutdown: terminal failure, never retried
			if ferr := r.mgr.FailJobFinal(settleCtx, job, "cancelled"); ferr != nil {
				r.log.Error("fail transition error", obs.String("job_id", job.ID), obs.Err(ferr))
			}
			return
		}
		reason := err.Error()
		if jctx.Err() == context.DeadlineExceeded {
			reason = fmt.Sprintf("handler timeout after %s", timeout)
		}
		if _, ferr := r.mgr.FailJob(settleCtx, job, reason); ferr != nil {
			r.log.Error("fail transition error", obs.String("job_id", job.ID), obs.Err(ferr))
		}
		return
	}
	if result == nil {
		result = OK(nil)
	}
	if cerr := r.mgr.CompleteJob(settleCtx, job, result); cerr != nil {
		r.log.Error("complete transition error", obs.String("job_id", job.ID), obs.Err(cerr))
	}
}

// runHandler isolates handler panics so a bad handler never kills a worker.
func (r *Runtime) runHandler(ctx context.Context, h Handler, job *queue.Job) (result *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", rec)
			r.log.Error("handler panicked",
				obs.String("job_id", job.ID),
				obs.String("handler", h.Name()),
				zap.Any("panic", rec))
		}
	}()
	hctx := &Context{
		Context: ctx,
		Log:     r.log.With(obs.String("job_id", job.ID), obs.String("queue", job.Queue)),
		progress: func(value interface{}) error {
			return r.mgr.UpdateProgress(ctx, job, value)
		},
	}
	return h.Process(hctx, job)
}

func (r *Runtime) heartbeat(ctx context.Context, queueName, jobID string, done <-chan struct{}) {
	interval := r.cfg.Workers.VisibilityTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			hctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := r.mgr.Backend().ExtendVisibility(hctx, queueName, jobID, r.cfg.Workers.VisibilityTimeout); err != nil {
				r.log.Warn("heartbeat failed", obs.String("job_id", jobID), obs.Err(err))
			}
			cancel()
		}
	}
}

func (r *Runtime) track(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	r.inflight[jobID] = cancel
	r.mu.Unlock()
}

func (r *Runtime) untrack(jobID string) {
	r.mu.Lock()
	delete(r.inflight, jobID)
	r.mu.Unlock()
}

// cancelJob signals the cancellation token of an in-flight job. Installed
// into the queue manager as the cancel hook.
func (r *Runtime) cancelJob(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.inflight[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
