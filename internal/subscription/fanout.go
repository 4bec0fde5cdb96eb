// Copyright 2025 Mech Services, Inc.
package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dundas/mech-queue/internal/events"
	"github.com/dundas/mech-queue/internal/obs"
	"golang.org/x/time/rate"
)

const (
	deliveryTimeout    = 30 * time.Second
	cacheRefreshPeriod = 30 * time.Second
	maxResponsePreview = 4096
)

// Fanout subscribes to the event bus and delivers matching events to
// registered webhooks. Delivery runs off the dispatcher goroutine so one
// slow endpoint never stalls the rest of the pipeline.
type Fanout struct {
	store  Store
	client *http.Client
	logger *slog.Logger
	mirror EventMirror

	mu        sync.RWMutex
	cache     []*Subscription
	cachedAt  time.Time
	limiters  map[string]*rate.Limiter
	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// EventMirror receives every matched event alongside webhook delivery.
// The NATS publisher implements it; a nil mirror disables mirroring.
type EventMirror interface {
	Publish(ev events.Event) error
}

func NewFanout(store Store, logger *slog.Logger, mirror EventMirror) *Fanout {
	return &Fanout{
		store: store,
		client: &http.Client{
			Timeout: deliveryTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
		logger:   logger,
		mirror:   mirror,
		limiters: make(map[string]*rate.Limiter),
		closed:   make(chan struct{}),
	}
}

// Name implements events.Subscriber.
func (f *Fanout) Name() string { return "subscription-fanout" }

// Handle implements events.Subscriber. Matching is done inline (cheap, over
// the cached subscription list); each delivery gets its own goroutine.
func (f *Fanout) Handle(ev events.Event) {
	subs, err := f.activeSubscriptions()
	if err != nil {
		f.logger.Warn("listing subscriptions failed", "error", err)
		return
	}
	for _, sub := range subs {
		if !Matches(sub, ev) {
			continue
		}
		s := sub
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.deliverWithRetry(s, ev)
		}()
	}
	if f.mirror != nil {
		if err := f.mirror.Publish(ev); err != nil {
			f.logger.Warn("event mirror publish failed", "error", err)
		}
	}
}

// Close waits for in-flight deliveries.
func (f *Fanout) Close() {
	f.closeOnce.Do(func() { close(f.closed) })
	f.wg.Wait()
}

// Invalidate drops the subscription cache after CRUD mutations.
func (f *Fanout) Invalidate() {
	f.mu.Lock()
	f.cachedAt = time.Time{}
	f.mu.Unlock()
}

func (f *Fanout) activeSubscriptions() ([]*Subscription, error) {
	f.mu.RLock()
	fresh := time.Since(f.cachedAt) < cacheRefreshPeriod
	cached := f.cache
	f.mu.RUnlock()
	if fresh {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	subs, err := f.store.ListActive(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}
	f.mu.Lock()
	f.cache = subs
	f.cachedAt = time.Now()
	f.mu.Unlock()
	return subs, nil
}

func (f *Fanout) limiter(sub *Subscription) *rate.Limiter {
	if sub.RateLimitPerMin <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[sub.ID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(sub.RateLimitPerMin)/60, sub.RateLimitPerMin)
		f.limiters[sub.ID] = lim
	}
	return lim
}

func (f *Fanout) deliverWithRetry(sub *Subscription, ev events.Event) {
	if lim := f.limiter(sub); lim != nil && !lim.Allow() {
		f.logger.Warn("delivery skipped, rate limited",
			"subscription_id", sub.ID, "job_id", ev.JobID)
		return
	}

	attempts := sub.RetryConfig.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := time.Duration(sub.RetryConfig.BackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := f.deliverOnce(sub, ev)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if rerr := f.store.RecordTrigger(ctx, sub.ID, time.Now().UTC()); rerr != nil {
				f.logger.Warn("recording trigger failed", "subscription_id", sub.ID, "error", rerr)
			}
			cancel()
			obs.WebhookDeliveries.Inc()
			f.logger.Debug("webhook delivered",
				"subscription_id", sub.ID,
				"job_id", ev.JobID,
				"status", string(ev.Status),
				"attempt", attempt)
			return
		}
		lastErr = err
		if attempt < attempts {
			select {
			case <-f.closed:
				return
			case <-time.After(backoff):
			}
		}
	}

	obs.WebhookFailures.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := f.store.RecordFailure(ctx, sub.ID, lastErr.Error()); rerr != nil {
		f.logger.Warn("recording failure failed", "subscription_id", sub.ID, "error", rerr)
	}
	f.logger.Warn("webhook delivery exhausted retries",
		"subscription_id", sub.ID,
		"job_id", ev.JobID,
		"attempts", attempts,
		"error", lastErr)
}

// DeliverTest performs one delivery attempt for a synthesized event without
// touching counters. Used by the subscription test endpoint.
func (f *Fanout) DeliverTest(sub *Subscription) error {
	status := events.StatusCompleted
	if len(sub.Events) > 0 {
		status = sub.Events[0]
	}
	ev := events.Event{
		JobID:         fmt.Sprintf("test-job-%d", time.Now().Unix()),
		Queue:         "test-queue",
		Status:        status,
		ApplicationID: sub.ApplicationID,
		Metadata:      map[string]interface{}{"testEvent": true},
		Timestamp:     time.Now().UTC(),
	}
	return f.deliverOnce(sub, ev)
}

func (f *Fanout) deliverOnce(sub *Subscription, ev events.Event) error {
	payload := DeliveryPayload{
		Subscription: DeliverySubscription{ID: sub.ID, Name: sub.Name},
		Event:        DeliveryEvent{Type: string(ev.Status), Timestamp: ev.Timestamp},
		Job: DeliveryJob{
			ID:       ev.JobID,
			Queue:    ev.Queue,
			Status:   string(ev.Status),
			Data:     ev.Data,
			Metadata: ev.Metadata,
			Result:   ev.Result,
			Error:    ev.Error,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(sub.Method, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mech-queue/1.0")
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Subscription-Id", sub.ID)
	req.Header.Set("X-Job-Id", ev.JobID)
	req.Header.Set("X-Job-Status", string(ev.Status))
	req.Header.Set("X-Application-Id", ev.ApplicationID)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponsePreview))

	if resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(preview))
}
