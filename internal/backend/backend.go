// Copyright 2025 Mech Services, Inc.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoJob is returned by Reserve when nothing is eligible.
var ErrNoJob = errors.New("no job available")

// Backend exposes the atomic queue primitives the manager and workers build
// on. All multi-key transitions run atomically, as Lua scripts or MULTI/EXEC
// transactions, so concurrent workers and multiple service instances never
// observe a half-applied move.
type Backend struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Backend {
	return &Backend{rdb: rdb}
}

func (b *Backend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *Backend) Close() error { return b.rdb.Close() }

// RegisterQueue records a queue name in the global queue set.
func (b *Backend) RegisterQueue(ctx context.Context, queue string) error {
	return b.rdb.SAdd(ctx, queuesKey, queue).Err()
}

// QueueNames returns every queue ever referenced.
func (b *Backend) QueueNames(ctx context.Context) ([]string, error) {
	return b.rdb.SMembers(ctx, queuesKey).Result()
}

// SaveJob writes the job document hash. priority participates in requeue
// scoring so it is stored as its own field next to the serialized document.
func (b *Backend) SaveJob(ctx context.Context, jobID, doc, status string, priority int) error {
	return b.rdb.HSet(ctx, jobKey(jobID), "json", doc, "status", status, "priority", priority).Err()
}

// UpdateJob rewrites the serialized document and status of an existing job.
func (b *Backend) UpdateJob(ctx context.Context, jobID, doc, status string) error {
	return b.rdb.HSet(ctx, jobKey(jobID), "json", doc, "status", status).Err()
}

// LoadJob returns the serialized job document, or redis.Nil via found=false.
func (b *Backend) LoadJob(ctx context.Context, jobID string) (doc string, found bool, err error) {
	doc, err = b.rdb.HGet(ctx, jobKey(jobID), "json").Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return doc, true, nil
}

// Push appends a job to the waiting set of a queue.
func (b *Backend) Push(ctx context.Context, queue, jobID string, priority int) error {
	if priority < 0 {
		priority = 0
	}
	if priority > maxPriority {
		priority = maxPriority
	}
	seq, err := b.rdb.Incr(ctx, seqKey(queue)).Result()
	if err != nil {
		return fmt.Errorf("waiting seq: %w", err)
	}
	score := float64(maxPriority-priority)*priorityBand + float64(seq)
	return b.rdb.ZAdd(ctx, waitingKey(queue), redis.Z{Score: score, Member: jobID}).Err()
}

// Reserve atomically moves the best eligible waiting job to active with a
// visibility deadline. Returns ErrNoJob when the queue is empty or paused.
func (b *Backend) Reserve(ctx context.Context, queue string, visibility time.Duration) (string, error) {
	deadline := time.Now().Add(visibility).UnixMilli()
	res, err := reserveScript.Run(ctx, b.rdb,
		[]string{pausedKey(queue), waitingKey(queue), activeKey(queue)},
		deadline,
	).Result()
	if err == redis.Nil {
		return "", ErrNoJob
	}
	if err != nil {
		return "", err
	}
	id, ok := res.(string)
	if !ok || id == "" {
		return "", ErrNoJob
	}
	_ = b.rdb.HSet(ctx, jobKey(id), "status", "active").Err()
	return id, nil
}

// ExtendVisibility pushes an active job's reclaim deadline forward. Used as
// the worker heartbeat; a dead worker stops extending and the job becomes
// reclaimable.
func (b *Backend) ExtendVisibility(ctx context.Context, queue, jobID string, visibility time.Duration) error {
	deadline := float64(time.Now().Add(visibility).UnixMilli())
	return b.rdb.ZAddXX(ctx, activeKey(queue), redis.Z{Score: deadline, Member: jobID}).Err()
}

// Complete moves an active job into the completed bucket.
func (b *Backend) Complete(ctx context.Context, queue, jobID string, finishedAt time.Time) error {
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, activeKey(queue), jobID)
	pipe.ZAdd(ctx, completedKey(queue), redis.Z{Score: float64(finishedAt.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// Fail moves an active job into the failed bucket.
func (b *Backend) Fail(ctx context.Context, queue, jobID string, finishedAt time.Time) error {
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, activeKey(queue), jobID)
	pipe.ZAdd(ctx, failedKey(queue), redis.Z{Score: float64(finishedAt.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// DelayUntil parks a job in the delayed set; the housekeeping sweep promotes
// it once due. Removes any active claim first (retry path).
func (b *Backend) DelayUntil(ctx context.Context, queue, jobID string, due time.Time) error {
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, activeKey(queue), jobID)
	pipe.ZAdd(ctx, delayedKey(queue), redis.Z{Score: float64(due.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteDue moves delayed jobs whose due time has passed into waiting.
func (b *Backend) PromoteDue(ctx context.Context, queue string, limit int) (int, error) {
	n, err := promoteScript.Run(ctx, b.rdb,
		[]string{delayedKey(queue), waitingKey(queue), seqKey(queue)},
		time.Now().UnixMilli(), limit, priorityBand, maxPriority, "mq:job:",
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ReclaimExpired requeues active jobs whose visibility deadline has passed.
func (b *Backend) ReclaimExpired(ctx context.Context, queue string, limit int) (int, error) {
	n, err := reclaimScript.Run(ctx, b.rdb,
		[]string{activeKey(queue), waitingKey(queue), seqKey(queue)},
		time.Now().UnixMilli(), limit, priorityBand, maxPriority, "mq:job:",
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// RemovePending deletes a job from the waiting and delayed sets. Reports
// whether anything was actually removed.
func (b *Backend) RemovePending(ctx context.Context, queue, jobID string) (bool, error) {
	pipe := b.rdb.TxPipeline()
	w := pipe.ZRem(ctx, waitingKey(queue), jobID)
	d := pipe.ZRem(ctx, delayedKey(queue), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return w.Val()+d.Val() > 0, nil
}

// RemoveActive drops an active claim without recording a terminal state.
func (b *Backend) RemoveActive(ctx context.Context, queue, jobID string) error {
	return b.rdb.ZRem(ctx, activeKey(queue), jobID).Err()
}

// ExpireJob marks a job document for lazy deletion.
func (b *Backend) ExpireJob(ctx context.Context, jobID string, ttl time.Duration) error {
	return b.rdb.Expire(ctx, jobKey(jobID), ttl).Err()
}

func (b *Backend) Pause(ctx context.Context, queue string) error {
	return b.rdb.Set(ctx, pausedKey(queue), "1", 0).Err()
}

func (b *Backend) Resume(ctx context.Context, queue string) error {
	return b.rdb.Del(ctx, pausedKey(queue)).Err()
}

func (b *Backend) IsPaused(ctx context.Context, queue string) (bool, error) {
	n, err := b.rdb.Exists(ctx, pausedKey(queue)).Result()
	return n == 1, err
}

// Counts holds per-status bucket sizes for one queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Paused    bool  `json:"paused"`
}

// Stats returns the bucket sizes of a queue.
func (b *Backend) Stats(ctx context.Context, queue string) (Counts, error) {
	pipe := b.rdb.Pipeline()
	w := pipe.ZCard(ctx, waitingKey(queue))
	d := pipe.ZCard(ctx, delayedKey(queue))
	a := pipe.ZCard(ctx, activeKey(queue))
	c := pipe.ZCard(ctx, completedKey(queue))
	f := pipe.ZCard(ctx, failedKey(queue))
	p := pipe.Exists(ctx, pausedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Counts{}, err
	}
	return Counts{
		Waiting:   w.Val(),
		Delayed:   d.Val(),
		Active:    a.Val(),
		Completed: c.Val(),
		Failed:    f.Val(),
		Paused:    p.Val() == 1,
	}, nil
}

// TerminalBucket selects which terminal zset Clean trims.
type TerminalBucket string

const (
	BucketCompleted TerminalBucket = "completed"
	BucketFailed    TerminalBucket = "failed"
)

// Clean trims a terminal bucket to the given age and count bounds, deleting
// the trimmed job documents. keep < 0 disables the count bound.
func (b *Backend) Clean(ctx context.Context, queue string, bucket TerminalBucket, olderThan time.Duration, keep int64) (int, error) {
	var key string
	switch bucket {
	case BucketCompleted:
		key = completedKey(queue)
	case BucketFailed:
		key = failedKey(queue)
	default:
		return 0, fmt.Errorf("unknown bucket %q", bucket)
	}
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	n, err := cleanScript.Run(ctx, b.rdb, []string{key}, cutoff, keep, "mq:job:").Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ListJobIDs returns up to limit job ids in a status bucket, newest last for
// terminal buckets and FIFO order for waiting.
func (b *Backend) ListJobIDs(ctx context.Context, queue, status string, limit int64) ([]string, error) {
	var key string
	switch status {
	case "waiting":
		key = waitingKey(queue)
	case "delayed":
		key = delayedKey(queue)
	case "active":
		key = activeKey(queue)
	case "completed":
		key = completedKey(queue)
	case "failed":
		key = failedKey(queue)
	default:
		return nil, fmt.Errorf("unknown status %q", status)
	}
	return b.rdb.ZRange(ctx, key, 0, limit-1).Result()
}
