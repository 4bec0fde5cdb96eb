// Copyright 2025 Mech Services, Inc.
package subscription

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dundas/mech-queue/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method  string
	headers http.Header
	body    DeliveryPayload
}

type sink struct {
	mu       sync.Mutex
	requests []capturedRequest
	statuses []int // per-request response codes, last one repeats
}

func (s *sink) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var payload DeliveryPayload
		_ = json.Unmarshal(raw, &payload)

		s.mu.Lock()
		s.requests = append(s.requests, capturedRequest{
			method:  r.Method,
			headers: r.Header.Clone(),
			body:    payload,
		})
		idx := len(s.requests) - 1
		if idx >= len(s.statuses) {
			idx = len(s.statuses) - 1
		}
		code := s.statuses[idx]
		s.mu.Unlock()
		w.WriteHeader(code)
	}
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *sink) request(i int) capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func waitCount(t *testing.T, s *sink, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.count() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d requests, got %d", n, s.count())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func storedSub(t *testing.T, store Store, mutate func(*Subscription)) *Subscription {
	t.Helper()
	sub := baseSub()
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, store.Insert(context.Background(), sub))
	return sub
}

func TestDeliverySuccessUpdatesCounters(t *testing.T) {
	s := &sink{statuses: []int{200}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	store := NewMemoryStore()
	storedSub(t, store, func(sub *Subscription) { sub.Endpoint = srv.URL })

	f := NewFanout(store, testLogger(), nil)
	defer f.Close()

	f.Handle(events.Event{
		JobID:         "j1",
		Queue:         "email",
		Status:        events.StatusCompleted,
		ApplicationID: "app-1",
		Timestamp:     time.Now().UTC(),
	})

	waitCount(t, s, 1)
	req := s.request(0)
	assert.Equal(t, "POST", req.method)
	assert.Equal(t, "s1", req.headers.Get("X-Subscription-Id"))
	assert.Equal(t, "j1", req.headers.Get("X-Job-Id"))
	assert.Equal(t, "completed", req.headers.Get("X-Job-Status"))
	assert.Equal(t, "app-1", req.headers.Get("X-Application-Id"))
	assert.Equal(t, "j1", req.body.Job.ID)
	assert.Equal(t, "completed", req.body.Event.Type)

	f.Close()
	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TriggerCount)
	assert.NotNil(t, got.LastTriggeredAt)
}

func TestDeliveryRetriesUntilSuccess(t *testing.T) {
	s := &sink{statuses: []int{500, 500, 200}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	store := NewMemoryStore()
	storedSub(t, store, func(sub *Subscription) {
		sub.Endpoint = srv.URL
		sub.RetryConfig = RetryConfig{MaxAttempts: 3, BackoffMs: 10}
	})

	f := NewFanout(store, testLogger(), nil)
	f.Handle(events.Event{JobID: "j1", Queue: "email", Status: events.StatusCompleted, ApplicationID: "app-1"})
	waitCount(t, s, 3)
	f.Close()

	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TriggerCount)
}

func TestDeliveryExhaustedRecordsFailure(t *testing.T) {
	s := &sink{statuses: []int{500}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	store := NewMemoryStore()
	storedSub(t, store, func(sub *Subscription) {
		sub.Endpoint = srv.URL
		sub.RetryConfig = RetryConfig{MaxAttempts: 2, BackoffMs: 10}
	})

	f := NewFanout(store, testLogger(), nil)
	f.Handle(events.Event{JobID: "j1", Queue: "email", Status: events.StatusCompleted, ApplicationID: "app-1"})
	waitCount(t, s, 2)
	f.Close()

	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TriggerCount)
	assert.True(t, strings.Contains(got.LastError, "HTTP 500"))
}

func TestNonMatchingEventNotDelivered(t *testing.T) {
	s := &sink{statuses: []int{200}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	store := NewMemoryStore()
	storedSub(t, store, func(sub *Subscription) {
		sub.Endpoint = srv.URL
		sub.Filters.Metadata = map[string]interface{}{"priority": "low"}
	})

	f := NewFanout(store, testLogger(), nil)
	f.Handle(events.Event{
		JobID:         "j1",
		Queue:         "email",
		Status:        events.StatusCompleted,
		ApplicationID: "app-1",
		Metadata:      map[string]interface{}{"priority": "high"},
	})
	f.Close()
	assert.Equal(t, 0, s.count())
}

func TestDeliverTestSynthesizesEvent(t *testing.T) {
	s := &sink{statuses: []int{200}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	store := NewMemoryStore()
	sub := storedSub(t, store, func(sub *Subscription) { sub.Endpoint = srv.URL })

	f := NewFanout(store, testLogger(), nil)
	defer f.Close()
	require.NoError(t, f.DeliverTest(sub))

	waitCount(t, s, 1)
	req := s.request(0)
	assert.True(t, strings.HasPrefix(req.body.Job.ID, "test-job-"))
	assert.Equal(t, "test-queue", req.body.Job.Queue)
	assert.Equal(t, true, req.body.Job.Metadata["testEvent"])

	// test deliveries never touch counters
	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TriggerCount)
}

func TestCustomHeadersForwarded(t *testing.T) {
	s := &sink{statuses: []int{200}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	store := NewMemoryStore()
	storedSub(t, store, func(sub *Subscription) {
		sub.Endpoint = srv.URL
		sub.Method = "PUT"
		sub.Headers = map[string]string{"Authorization": "Bearer tok"}
	})

	f := NewFanout(store, testLogger(), nil)
	f.Handle(events.Event{JobID: "j1", Queue: "email", Status: events.StatusCompleted, ApplicationID: "app-1"})
	waitCount(t, s, 1)
	f.Close()

	req := s.request(0)
	assert.Equal(t, "PUT", req.method)
	assert.Equal(t, "Bearer tok", req.headers.Get("Authorization"))
}
