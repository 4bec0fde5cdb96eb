// Copyright 2025 Mech Services, Inc.
package queue

import (
	"encoding/json"
	"time"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusDelayed   Status = "delayed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
	StatusRemoved   Status = "removed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRemoved
}

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

// Backoff configures the retry delay. Delay is milliseconds.
type Backoff struct {
	Type  BackoffType `json:"type"`
	Delay int64       `json:"delay"`
}

// Options are the caller-supplied execution options of a job.
type Options struct {
	Attempts int     `json:"attempts"`
	Backoff  Backoff `json:"backoff"`
	Delay    int64   `json:"delay,omitempty"`    // initial delay, ms
	Priority int     `json:"priority,omitempty"` // higher reserved first
	Timeout  int64   `json:"timeout,omitempty"`  // handler timeout, ms
}

// Metadata is stamped onto every job at submission.
type Metadata struct {
	ApplicationID   string `json:"applicationId,omitempty"`
	ApplicationName string `json:"applicationName,omitempty"`
	SubmittedAt     string `json:"submittedAt,omitempty"`
	RequestID       string `json:"requestId,omitempty"`
}

// Job is a unit of work owned by exactly one queue until terminal.
type Job struct {
	ID           string                 `json:"jobId"`
	Queue        string                 `json:"queueName"`
	Name         string                 `json:"name"`
	Data         json.RawMessage        `json:"data,omitempty"`
	Metadata     Metadata               `json:"_metadata"`
	Extra        map[string]interface{} `json:"metadata,omitempty"` // caller metadata, filterable
	Options      Options                `json:"options"`
	Status       Status                 `json:"status"`
	AttemptsMade int                    `json:"attemptsMade"`
	Progress     interface{}            `json:"progress,omitempty"`
	Result       interface{}            `json:"result,omitempty"`
	FailedReason string                 `json:"failedReason,omitempty"`
	Webhooks     map[string]string      `json:"webhooks,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	ProcessedAt  *time.Time             `json:"processedAt,omitempty"`
	FinishedAt   *time.Time             `json:"finishedAt,omitempty"`
}

func (j *Job) Marshal() (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func UnmarshalJob(s string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(s), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// NextBackoff computes the delay before re-running a job that has already
// made attemptsMade attempts: delay * 2^(attemptsMade-1) for exponential,
// the constant delay for fixed.
func (j *Job) NextBackoff() time.Duration {
	base := time.Duration(j.Options.Backoff.Delay) * time.Millisecond
	if base <= 0 {
		base = time.Second
	}
	if j.Options.Backoff.Type == BackoffFixed {
		return base
	}
	shift := j.AttemptsMade - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 20 {
		shift = 20
	}
	return base * time.Duration(1<<uint(shift))
}
