// Copyright 2025 Mech Services, Inc.
package schedule

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dundas/mech-queue/internal/queue"
	"github.com/dundas/mech-queue/internal/worker"
)

// Executor is the handler behind the scheduler queue: it loads the schedule
// a firing refers to, performs its HTTP call and records the outcome.
// 4xx responses are final (recorded as failed, job completes); >=500 and
// transport errors return an error so the job retries per the schedule's
// retry policy.
type Executor struct {
	store  Store
	client *http.Client
}

func NewExecutor(store Store) *Executor {
	return &Executor{
		store: store,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
	}
}

func (e *Executor) Name() string { return "schedule-executor" }

func (e *Executor) Process(ctx *worker.Context, job *queue.Job) (*worker.Result, error) {
	var data firingData
	if err := json.Unmarshal(job.Data, &data); err != nil {
		return &worker.Result{Success: false, Message: fmt.Sprintf("invalid firing payload: %v", err)}, nil
	}

	sched, err := e.store.Get(ctx, data.ScheduleID)
	if err == ErrNotFound {
		// Deleted between firing and execution: nothing to do.
		return worker.OK(map[string]interface{}{"skipped": "schedule missing"}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	if !sched.Enabled && sched.Spec.Cron != "" {
		return worker.OK(map[string]interface{}{"skipped": "schedule disabled"}), nil
	}

	status, body, err := e.call(ctx, sched)
	now := time.Now().UTC()

	switch {
	case err != nil:
		e.record(ctx, sched.ID, "failed", err.Error(), now)
		return nil, err
	case status >= 500:
		msg := fmt.Sprintf("endpoint returned HTTP %d", status)
		e.record(ctx, sched.ID, "failed", msg, now)
		return nil, fmt.Errorf("%s", msg)
	case status >= 400:
		msg := fmt.Sprintf("endpoint rejected with HTTP %d", status)
		e.record(ctx, sched.ID, "failed", msg, now)
		return &worker.Result{
			Success: false,
			Status:  status,
			Data:    map[string]interface{}{"response": body},
		}, nil
	default:
		e.record(ctx, sched.ID, "success", "", now)
		return &worker.Result{
			Success: true,
			Status:  status,
			Data:    map[string]interface{}{"response": body},
		}, nil
	}
}

func (e *Executor) call(ctx *worker.Context, sched *Schedule) (int, interface{}, error) {
	var body io.Reader
	if sched.Endpoint.Body != "" && sched.Endpoint.Method != http.MethodGet {
		body = strings.NewReader(sched.Endpoint.Body)
	}
	req, err := http.NewRequestWithContext(ctx, sched.Endpoint.Method, sched.Endpoint.URL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range sched.Endpoint.Headers {
		req.Header.Set(k, v)
	}

	timeout := time.Duration(sched.Endpoint.Timeout) * time.Second
	if timeout < time.Second {
		timeout = 30 * time.Second
	}
	if timeout > 300*time.Second {
		timeout = 300 * time.Second
	}
	client := *e.client
	client.Timeout = timeout

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("schedule call: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var decoded interface{}
	if json.Unmarshal(raw, &decoded) != nil {
		decoded = string(raw)
	}
	return resp.StatusCode, decoded, nil
}

func (e *Executor) record(ctx *worker.Context, id, status, errMsg string, at time.Time) {
	if err := e.store.RecordExecution(ctx, id, status, errMsg, at); err != nil {
		ctx.Log.Warn("recording schedule execution failed")
	}
}
