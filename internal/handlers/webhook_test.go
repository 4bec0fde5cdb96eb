// Copyright 2025 Mech Services, Inc.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dundas/mech-queue/internal/queue"
	"github.com/dundas/mech-queue/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handlerCtx() *worker.Context {
	return &worker.Context{Context: context.Background(), Log: zapNop()}
}

func webhookJob(t *testing.T, url, method string) *queue.Job {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"url":    url,
		"method": method,
		"data":   map[string]string{"hello": "world"},
	})
	require.NoError(t, err)
	return &queue.Job{ID: "j1", Queue: "webhook", Name: "webhook", Data: data}
}

func TestWebhookSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(200)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	res, err := NewWebhook().Process(handlerCtx(), webhookJob(t, srv.URL, "POST"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 200, res.Status)
}

func TestWebhook4xxIsFinalNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	res, err := NewWebhook().Process(handlerCtx(), webhookJob(t, srv.URL, "POST"))
	require.NoError(t, err) // no error: the job completes with a failure result
	assert.False(t, res.Success)
	assert.Equal(t, 404, res.Status)
}

func TestWebhook5xxReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer srv.Close()

	_, err := NewWebhook().Process(handlerCtx(), webhookJob(t, srv.URL, "POST"))
	assert.Error(t, err)
}

func TestWebhookNetworkErrorReturnsError(t *testing.T) {
	_, err := NewWebhook().Process(handlerCtx(), webhookJob(t, "http://127.0.0.1:1", "POST"))
	assert.Error(t, err)
}

func TestWebhookRejectsBadURL(t *testing.T) {
	res, err := NewWebhook().Process(handlerCtx(), webhookJob(t, "ftp://nope", "POST"))
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, "30s", clampTimeout(0).String())
	assert.Equal(t, "1s", clampTimeout(1).String())
	assert.Equal(t, "5m0s", clampTimeout(3600e9).String())
}
