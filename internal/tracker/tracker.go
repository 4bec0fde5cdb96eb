// Copyright 2025 Mech Services, Inc.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/dundas/mech-queue/internal/events"
	"github.com/dundas/mech-queue/internal/queue"
	"go.uber.org/zap"
)

var (
	ErrInvalidStatus = errors.New("invalid status for update")
	ErrInvalidFilter = errors.New("invalid list filter")
)

// Tracker is the thin parallel API for out-of-band workers: processes that
// pull work through other channels but still report lifecycle through the
// queue, so status reads, retention and webhook fanout keep working.
type Tracker struct {
	mgr *queue.Manager
	bus *events.Bus
	log *zap.Logger
}

func New(mgr *queue.Manager, bus *events.Bus, log *zap.Logger) *Tracker {
	return &Tracker{mgr: mgr, bus: bus, log: log}
}

// Submit enqueues a job exactly like the main API.
func (t *Tracker) Submit(ctx context.Context, req queue.EnqueueRequest) (*queue.Job, error) {
	return t.mgr.Enqueue(ctx, req)
}

// Status loads a job by queue and id.
func (t *Tracker) Status(ctx context.Context, queueName, jobID string) (*queue.Job, error) {
	return t.mgr.GetJob(ctx, queueName, jobID)
}

// ListFilter narrows List output. Metadata keys are dotted paths into the
// job's caller metadata, e.g. "customer.tier" = "gold".
type ListFilter struct {
	Queue    string
	Status   string
	Metadata map[string]string
	Limit    int64
}

var listableStatuses = []string{"waiting", "delayed", "active", "completed", "failed"}

// List returns jobs matching the filter. Status narrows to one bucket,
// otherwise all buckets of the queue are scanned.
func (t *Tracker) List(ctx context.Context, f ListFilter) ([]*queue.Job, error) {
	if f.Queue == "" {
		return nil, fmt.Errorf("%w: queue is required", ErrInvalidFilter)
	}
	statuses := listableStatuses
	if f.Status != "" {
		ok := false
		for _, s := range listableStatuses {
			if s == f.Status {
				ok = true
				break
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
		}
		statuses = []string{f.Status}
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []*queue.Job
	for _, status := range statuses {
		ids, err := t.mgr.Backend().ListJobIDs(ctx, f.Queue, status, limit)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			job, err := t.mgr.GetJob(ctx, f.Queue, id)
			if err != nil {
				continue // trimmed between listing and load
			}
			if matchesMetadata(job, f.Metadata) {
				out = append(out, job)
			}
			if int64(len(out)) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// matchesMetadata evaluates dotted-path predicates against the job's caller
// metadata via jsonpath; every predicate must match.
func matchesMetadata(job *queue.Job, preds map[string]string) bool {
	if len(preds) == 0 {
		return true
	}
	if job.Extra == nil {
		return false
	}
	doc := map[string]interface{}{}
	for k, v := range job.Extra {
		doc[k] = v
	}
	for path, want := range preds {
		got, err := jsonpath.Get("$."+path, interface{}(doc))
		if err != nil {
			return false
		}
		if fmt.Sprintf("%v", got) != want {
			return false
		}
	}
	return true
}

// Update is how out-of-band workers report progress and outcomes. Progress,
// result and error may be set on a non-terminal job; status moves the job
// to completed or failed and emits the matching lifecycle event so webhook
// delivery piggybacks on the normal path.
type Update struct {
	Progress interface{} `json:"progress,omitempty"`
	Result   interface{} `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
	Status   string      `json:"status,omitempty"`
}

func (t *Tracker) Update(ctx context.Context, queueName, jobID string, upd Update) (*queue.Job, error) {
	job, err := t.mgr.GetJob(ctx, queueName, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, queue.ErrJobTerminal
	}

	if upd.Progress != nil {
		if err := t.mgr.UpdateProgress(ctx, job, upd.Progress); err != nil {
			return nil, err
		}
	}

	switch upd.Status {
	case "":
		// progress-only update
		if upd.Result != nil || upd.Error != "" {
			job.Result = upd.Result
			job.FailedReason = upd.Error
			doc, err := job.Marshal()
			if err != nil {
				return nil, err
			}
			if err := t.mgr.Backend().UpdateJob(ctx, job.ID, doc, string(job.Status)); err != nil {
				return nil, err
			}
		}
	case string(queue.StatusCompleted):
		t.detach(ctx, job)
		if err := t.mgr.CompleteJob(ctx, job, upd.Result); err != nil {
			return nil, err
		}
	case string(queue.StatusFailed):
		reason := upd.Error
		if reason == "" {
			reason = "reported failed by worker"
		}
		t.detach(ctx, job)
		if err := t.mgr.FailJobFinal(ctx, job, reason); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, upd.Status)
	}

	return t.mgr.GetJob(ctx, queueName, jobID)
}

// detach drops the job from whichever non-terminal structure holds it, so a
// terminal transition reported out-of-band does not leave a stale entry for
// the reaper to resurrect.
func (t *Tracker) detach(ctx context.Context, job *queue.Job) {
	b := t.mgr.Backend()
	switch job.Status {
	case queue.StatusWaiting, queue.StatusDelayed:
		if _, err := b.RemovePending(ctx, job.Queue, job.ID); err != nil {
			t.log.Warn("detach pending failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	case queue.StatusActive:
		if err := b.RemoveActive(ctx, job.Queue, job.ID); err != nil {
			t.log.Warn("detach active failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if job.AttemptsMade == 0 {
		// out-of-band execution counts as one attempt
		job.AttemptsMade = 1
		if job.ProcessedAt == nil {
			now := time.Now().UTC()
			job.ProcessedAt = &now
		}
	}
}
