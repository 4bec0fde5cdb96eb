// Copyright 2025 Mech Services, Inc.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dundas/mech-queue/internal/backend"
	"github.com/dundas/mech-queue/internal/config"
	"github.com/dundas/mech-queue/internal/events"
	"github.com/dundas/mech-queue/internal/queue"
	"github.com/dundas/mech-queue/internal/schedule"
	"github.com/dundas/mech-queue/internal/subscription"
	"github.com/dundas/mech-queue/internal/tenant"
	"github.com/dundas/mech-queue/internal/tracker"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const masterKey = "master-test-key"

type fixture struct {
	srv      *Server
	handler  http.Handler
	registry *tenant.Registry
	mgr      *queue.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	cfg := &config.Config{
		Server: config.Server{
			Port: 3003, AuthEnabled: true, MasterAPIKey: masterKey,
			RateLimitWindow: time.Minute, RateLimitMax: 10000,
		},
		Workers: config.Workers{
			MaxPerQueue: 5, DefaultAttempts: 3,
			DefaultBackoff: time.Second, DefaultTimeout: 30 * time.Second,
			VisibilityTimeout: 30 * time.Second,
		},
		Retention: config.Retention{
			CompletedAge: time.Hour, CompletedCount: 1000,
			FailedAge: 24 * time.Hour, FailedCount: 5000,
		},
		Scheduler: config.Scheduler{TickInterval: time.Minute, Concurrency: 5},
	}

	bus := events.NewBus(zap.NewNop())
	t.Cleanup(bus.Close)

	b := backend.New(client)
	mgr := queue.NewManager(cfg, b, bus, zap.NewNop())
	registry := tenant.NewRegistry(tenant.NewMemoryStore(), masterKey, zap.NewNop())
	tr := tracker.New(mgr, bus, zap.NewNop())

	subStore := subscription.NewMemoryStore()
	fanout := subscription.NewFanout(subStore, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	t.Cleanup(fanout.Close)

	schedSvc := schedule.NewService(schedule.NewMemoryStore(), mgr, time.Minute, zap.NewNop())

	srv := NewServer(cfg, registry, mgr, tr, subStore, fanout, schedSvc, nil, nil, zap.NewNop())
	return &fixture{srv: srv, handler: srv.Router(), registry: registry, mgr: mgr}
}

func (f *fixture) do(t *testing.T, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	out := decode(t, w)
	require.Equal(t, false, out["success"])
	e := out["error"].(map[string]interface{})
	return e["code"].(string)
}

func (f *fixture) createApp(t *testing.T, name string, queues []string) (id, key string) {
	t.Helper()
	w := f.do(t, "POST", "/api/applications", masterKey, map[string]interface{}{
		"name":     name,
		"settings": map[string]interface{}{"allowedQueues": queues},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]interface{})
	app := data["application"].(map[string]interface{})
	return app["id"].(string), data["apiKey"].(string)
}

func TestMissingAPIKey(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/api/queues", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_API_KEY", errorCode(t, w))
}

func TestInvalidAPIKey(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/api/queues", "sk_bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_API_KEY", errorCode(t, w))
}

func TestSubmitJobAndStatus(t *testing.T) {
	f := newFixture(t)
	_, key := f.createApp(t, "mailer", []string{"email"})

	w := f.do(t, "POST", "/api/jobs/email", key, map[string]interface{}{
		"data": map[string]interface{}{"to": "u@x", "subject": "hi", "body": "hello"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]interface{})
	jobID := data["jobId"].(string)
	require.NotEmpty(t, jobID)

	w = f.do(t, "GET", "/api/jobs/email/"+jobID, key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	job := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "waiting", job["status"])
	assert.Equal(t, jobID, job["jobId"])

	// envelope metadata present
	meta := decode(t, w)["metadata"].(map[string]interface{})
	assert.NotEmpty(t, meta["timestamp"])
	assert.NotEmpty(t, meta["requestId"])
}

func TestQueueAccessDenied(t *testing.T) {
	f := newFixture(t)
	_, key := f.createApp(t, "mailer", []string{"email", "webhook"})

	w := f.do(t, "POST", "/api/jobs/payments", key, map[string]interface{}{
		"data": map[string]interface{}{"x": 1},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "QUEUE_ACCESS_DENIED", errorCode(t, w))

	// no job was created
	stats, err := f.mgr.Stats(context.Background(), "payments")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Waiting)
}

func TestSubmitRequiresData(t *testing.T) {
	f := newFixture(t)
	_, key := f.createApp(t, "mailer", []string{"email"})
	w := f.do(t, "POST", "/api/jobs/email", key, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_DATA", errorCode(t, w))
}

func TestJobOwnershipIsolation(t *testing.T) {
	f := newFixture(t)
	_, keyA := f.createApp(t, "a", []string{"email"})
	_, keyB := f.createApp(t, "b", []string{"email"})

	w := f.do(t, "POST", "/api/jobs/email", keyA, map[string]interface{}{
		"data": map[string]interface{}{"to": "u@x"},
	})
	jobID := decode(t, w)["data"].(map[string]interface{})["jobId"].(string)

	w = f.do(t, "GET", "/api/jobs/email/"+jobID, keyB, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "JOB_NOT_FOUND", errorCode(t, w))

	// master sees everything
	w = f.do(t, "GET", "/api/jobs/email/"+jobID, masterKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCancelIsIdempotent(t *testing.T) {
	f := newFixture(t)
	_, key := f.createApp(t, "a", []string{"email"})

	w := f.do(t, "POST", "/api/jobs/email", key, map[string]interface{}{
		"data": map[string]interface{}{"to": "u@x"},
	})
	jobID := decode(t, w)["data"].(map[string]interface{})["jobId"].(string)

	w = f.do(t, "DELETE", "/api/jobs/email/"+jobID, key, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, "DELETE", "/api/jobs/email/"+jobID, key, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMasterOnlyRoutes(t *testing.T) {
	f := newFixture(t)
	_, key := f.createApp(t, "a", []string{"email"})

	for _, route := range []struct{ method, path string }{
		{"POST", "/api/applications"},
		{"GET", "/api/applications"},
		{"POST", "/api/queues/email/pause"},
		{"POST", "/api/queues/email/resume"},
		{"POST", "/api/queues/email/clean"},
	} {
		w := f.do(t, route.method, route.path, key, map[string]interface{}{})
		assert.Equal(t, http.StatusForbidden, w.Code, route.path)
		assert.Equal(t, "FORBIDDEN", errorCode(t, w), route.path)
	}
}

func TestQueuePauseResumeByMaster(t *testing.T) {
	f := newFixture(t)
	_, key := f.createApp(t, "a", []string{"email"})

	w := f.do(t, "POST", "/api/jobs/email", key, map[string]interface{}{
		"data": map[string]interface{}{"to": "u@x"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, "POST", "/api/queues/email/pause", masterKey, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	_, err := f.mgr.Reserve(context.Background(), "email")
	assert.ErrorIs(t, err, backend.ErrNoJob)

	w = f.do(t, "POST", "/api/queues/email/resume", masterKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, err = f.mgr.Reserve(context.Background(), "email")
	assert.NoError(t, err)
}

func TestQueueListScopedByPolicy(t *testing.T) {
	f := newFixture(t)
	_, key := f.createApp(t, "a", []string{"email"})

	for _, q := range []string{"email", "payments"} {
		f.do(t, "POST", "/api/jobs/"+q, masterKey, map[string]interface{}{
			"data": map[string]interface{}{"x": 1},
		})
	}

	w := f.do(t, "GET", "/api/queues", key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	queues := decode(t, w)["data"].(map[string]interface{})["queues"].([]interface{})
	assert.Equal(t, []interface{}{"email"}, queues)
}

func TestSubscriptionCRUDAndOwnership(t *testing.T) {
	f := newFixture(t)
	_, keyA := f.createApp(t, "a", []string{"email"})
	_, keyB := f.createApp(t, "b", []string{"email"})

	w := f.do(t, "POST", "/api/subscriptions", keyA, map[string]interface{}{
		"name":     "on-complete",
		"endpoint": "https://example.com/hook",
		"events":   []string{"completed"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sub := decode(t, w)["data"].(map[string]interface{})
	subID := sub["id"].(string)
	assert.Equal(t, true, sub["active"])
	assert.Equal(t, "POST", sub["method"])

	// owner reads it, another tenant cannot
	w = f.do(t, "GET", "/api/subscriptions/"+subID, keyA, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, "GET", "/api/subscriptions/"+subID, keyB, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// invalid URL rejected
	w = f.do(t, "POST", "/api/subscriptions", keyA, map[string]interface{}{
		"name":     "bad",
		"endpoint": "not-a-url",
		"events":   []string{"completed"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	w = f.do(t, "DELETE", "/api/subscriptions/"+subID, keyA, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, "GET", "/api/subscriptions/"+subID, keyA, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScheduleCRUDInternalSurface(t *testing.T) {
	f := newFixture(t)

	// no API key needed on the schedules surface
	w := f.do(t, "POST", "/api/schedules", "", map[string]interface{}{
		"name":     "ping",
		"endpoint": map[string]interface{}{"url": "http://sink.internal/hook", "method": "POST"},
		"schedule": map[string]interface{}{"cron": "*/5 * * * *", "timezone": "UTC"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sched := decode(t, w)["data"].(map[string]interface{})
	id := sched["scheduleId"].(string)
	assert.Equal(t, true, sched["enabled"])
	assert.NotEmpty(t, sched["nextExecutionAt"])

	w = f.do(t, "POST", fmt.Sprintf("/api/schedules/%s/toggle", id), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["data"].(map[string]interface{})["enabled"])

	w = f.do(t, "POST", fmt.Sprintf("/api/schedules/%s/execute", id), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["data"].(map[string]interface{})["jobId"])

	w = f.do(t, "DELETE", "/api/schedules/"+id, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScheduleValidationErrors(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "POST", "/api/schedules", "", map[string]interface{}{
		"name":     "bad",
		"endpoint": map[string]interface{}{"url": "http://sink.internal/hook"},
		"schedule": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestHealthIncludesQueueStats(t *testing.T) {
	f := newFixture(t)
	f.do(t, "POST", "/api/jobs/email", masterKey, map[string]interface{}{
		"data": map[string]interface{}{"x": 1},
	})

	w := f.do(t, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
	queues := data["queues"].(map[string]interface{})
	email := queues["email"].(map[string]interface{})
	assert.Equal(t, float64(1), email["waiting"])
}

func TestExplainIsPublic(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/api/explain", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.NotEmpty(t, data["topics"])

	w = f.do(t, "GET", "/api/explain/jobs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "GET", "/api/explain/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobUpdateViaTrackerSurface(t *testing.T) {
	f := newFixture(t)
	_, key := f.createApp(t, "a", []string{"export"})

	w := f.do(t, "POST", "/api/jobs/export", key, map[string]interface{}{
		"data": map[string]interface{}{"rows": 10},
	})
	jobID := decode(t, w)["data"].(map[string]interface{})["jobId"].(string)

	w = f.do(t, "PATCH", "/api/jobs/export/"+jobID, key, map[string]interface{}{
		"progress": 40,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, "PATCH", "/api/jobs/export/"+jobID, key, map[string]interface{}{
		"status": "completed",
		"result": map[string]interface{}{"url": "s3://x"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	job := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "completed", job["status"])
}

func TestAuthDisabledActsAsMaster(t *testing.T) {
	f := newFixture(t)
	f.srv.cfg.Server.AuthEnabled = false
	handler := f.srv.Router()

	req := httptest.NewRequest("GET", "/api/applications", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
