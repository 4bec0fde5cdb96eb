// Copyright 2025 Mech Services, Inc.
package subscription

import (
	"fmt"
	"net/url"
	"time"

	"github.com/dundas/mech-queue/internal/events"
)

// Filters narrow which events a subscription receives. Empty fields match
// everything; metadata entries must all be present and equal on the event.
type Filters struct {
	Queues   []string               `json:"queues,omitempty" bson:"queues,omitempty"`
	Statuses []string               `json:"statuses,omitempty" bson:"statuses,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// RetryConfig bounds delivery retries. Backoff is fixed between attempts.
type RetryConfig struct {
	MaxAttempts int   `json:"maxAttempts" bson:"maxAttempts"`
	BackoffMs   int64 `json:"backoffMs" bson:"backoffMs"`
}

// Subscription is a webhook registration owned by one application.
type Subscription struct {
	ID              string            `json:"id" bson:"_id"`
	ApplicationID   string            `json:"applicationId" bson:"applicationId"`
	Name            string            `json:"name" bson:"name"`
	Endpoint        string            `json:"endpoint" bson:"endpoint"`
	Method          string            `json:"method" bson:"method"`
	Headers         map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	Filters         Filters           `json:"filters" bson:"filters"`
	Events          []events.Status   `json:"events" bson:"events"`
	Active          bool              `json:"active" bson:"active"`
	RetryConfig     RetryConfig       `json:"retryConfig" bson:"retryConfig"`
	RateLimitPerMin int               `json:"rateLimitPerMin,omitempty" bson:"rateLimitPerMin,omitempty"`
	TriggerCount    int64             `json:"triggerCount" bson:"triggerCount"`
	LastTriggeredAt *time.Time        `json:"lastTriggeredAt,omitempty" bson:"lastTriggeredAt,omitempty"`
	LastError       string            `json:"lastError,omitempty" bson:"lastError,omitempty"`
	CreatedAt       time.Time         `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt" bson:"updatedAt"`
}

// Validate rejects malformed registrations before they reach the store.
func (s *Subscription) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSubscription)
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an http(s) URL", ErrInvalidSubscription)
	}
	if s.Method != "POST" && s.Method != "PUT" {
		return fmt.Errorf("%w: method must be POST or PUT", ErrInvalidSubscription)
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("%w: at least one event kind is required", ErrInvalidSubscription)
	}
	for _, ev := range s.Events {
		if !ev.Valid() {
			return fmt.Errorf("%w: unknown event kind %q", ErrInvalidSubscription, ev)
		}
	}
	if s.RetryConfig.MaxAttempts < 1 || s.RetryConfig.MaxAttempts > 10 {
		return fmt.Errorf("%w: retryConfig.maxAttempts must be 1..10", ErrInvalidSubscription)
	}
	return nil
}

// ApplyDefaults fills the optional knobs a registration may omit.
func (s *Subscription) ApplyDefaults() {
	if s.Method == "" {
		s.Method = "POST"
	}
	if s.RetryConfig.MaxAttempts == 0 {
		s.RetryConfig.MaxAttempts = 3
	}
	if s.RetryConfig.BackoffMs == 0 {
		s.RetryConfig.BackoffMs = 1000
	}
}

// DeliveryPayload is the webhook body shape.
type DeliveryPayload struct {
	Subscription DeliverySubscription `json:"subscription"`
	Event        DeliveryEvent        `json:"event"`
	Job          DeliveryJob          `json:"job"`
}

type DeliverySubscription struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type DeliveryEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type DeliveryJob struct {
	ID       string                 `json:"id"`
	Queue    string                 `json:"queue"`
	Status   string                 `json:"status"`
	Data     interface{}            `json:"data,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Result   interface{}            `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}
