// Copyright 2025 Mech Services, Inc.
package schedule

import (
	"fmt"
	"net/url"
	"time"
)

// QueueName is the queue the scheduler submits firing jobs to.
const QueueName = "scheduler"

// Endpoint is the HTTP call a schedule fires.
type Endpoint struct {
	URL     string            `json:"url" bson:"url"`
	Method  string            `json:"method" bson:"method"`
	Headers map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	Body    string            `json:"body,omitempty" bson:"body,omitempty"`
	Timeout int64             `json:"timeout,omitempty" bson:"timeout,omitempty"` // seconds, 1..300
}

// Spec is the firing rule: exactly one of Cron or At.
type Spec struct {
	Cron     string     `json:"cron,omitempty" bson:"cron,omitempty"`
	At       *time.Time `json:"at,omitempty" bson:"at,omitempty"`
	Timezone string     `json:"timezone,omitempty" bson:"timezone,omitempty"`
	EndDate  *time.Time `json:"endDate,omitempty" bson:"endDate,omitempty"`
	Limit    *int64     `json:"limit,omitempty" bson:"limit,omitempty"`
}

// RetryPolicy maps onto job options when a firing is enqueued.
type RetryPolicy struct {
	Attempts int `json:"attempts" bson:"attempts"`
	Backoff  struct {
		Type  string `json:"type" bson:"type"`
		Delay int64  `json:"delay" bson:"delay"`
	} `json:"backoff" bson:"backoff"`
}

// Schedule is a persisted deferred HTTP trigger.
type Schedule struct {
	ID                  string                 `json:"scheduleId" bson:"_id"`
	Name                string                 `json:"name" bson:"name"`
	Endpoint            Endpoint               `json:"endpoint" bson:"endpoint"`
	Spec                Spec                   `json:"schedule" bson:"schedule"`
	RetryPolicy         RetryPolicy            `json:"retryPolicy" bson:"retryPolicy"`
	Enabled             bool                   `json:"enabled" bson:"enabled"`
	Metadata            map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
	ExecutionCount      int64                  `json:"executionCount" bson:"executionCount"`
	LastExecutedAt      *time.Time             `json:"lastExecutedAt,omitempty" bson:"lastExecutedAt,omitempty"`
	LastExecutionStatus string                 `json:"lastExecutionStatus,omitempty" bson:"lastExecutionStatus,omitempty"`
	LastExecutionError  string                 `json:"lastExecutionError,omitempty" bson:"lastExecutionError,omitempty"`
	NextExecutionAt     *time.Time             `json:"nextExecutionAt,omitempty" bson:"nextExecutionAt,omitempty"`
	CreatedBy           string                 `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	CreatedAt           time.Time              `json:"createdAt" bson:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt" bson:"updatedAt"`
}

// Validate enforces the structural invariants before persistence.
func (s *Schedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	u, err := url.Parse(s.Endpoint.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint.url must be an http(s) URL", ErrInvalidSchedule)
	}
	if s.Endpoint.Timeout != 0 && (s.Endpoint.Timeout < 1 || s.Endpoint.Timeout > 300) {
		return fmt.Errorf("%w: endpoint.timeout must be 1..300 seconds", ErrInvalidSchedule)
	}
	hasCron := s.Spec.Cron != ""
	hasAt := s.Spec.At != nil
	if hasCron == hasAt {
		return fmt.Errorf("%w: exactly one of schedule.cron or schedule.at is required", ErrInvalidSchedule)
	}
	if hasCron {
		tz := s.Spec.Timezone
		if tz == "" {
			tz = "UTC"
		}
		if _, err := NextFire(s.Spec.Cron, tz, time.Now()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	}
	if s.RetryPolicy.Attempts != 0 && (s.RetryPolicy.Attempts < 1 || s.RetryPolicy.Attempts > 10) {
		return fmt.Errorf("%w: retryPolicy.attempts must be 1..10", ErrInvalidSchedule)
	}
	if s.Spec.Limit != nil && *s.Spec.Limit < 1 {
		return fmt.Errorf("%w: schedule.limit must be >= 1", ErrInvalidSchedule)
	}
	return nil
}

// ApplyDefaults fills optional fields.
func (s *Schedule) ApplyDefaults() {
	if s.Endpoint.Method == "" {
		s.Endpoint.Method = "POST"
	}
	if s.Endpoint.Timeout == 0 {
		s.Endpoint.Timeout = 30
	}
	if s.Spec.Timezone == "" {
		s.Spec.Timezone = "UTC"
	}
	if s.RetryPolicy.Attempts == 0 {
		s.RetryPolicy.Attempts = 3
	}
	if s.RetryPolicy.Backoff.Type == "" {
		s.RetryPolicy.Backoff.Type = "exponential"
	}
	if s.RetryPolicy.Backoff.Delay == 0 {
		s.RetryPolicy.Backoff.Delay = 1000
	}
}

// Exhausted reports whether the schedule has hit its limit or end date.
func (s *Schedule) Exhausted(now time.Time) bool {
	if s.Spec.Limit != nil && s.ExecutionCount >= *s.Spec.Limit {
		return true
	}
	if s.Spec.EndDate != nil && now.After(*s.Spec.EndDate) {
		return true
	}
	return false
}
