// Copyright 2025 Mech Services, Inc.
package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dundas/mech-queue/internal/queue"
	"github.com/dundas/mech-queue/internal/worker"
)

const (
	minHTTPTimeout = time.Second
	maxHTTPTimeout = 300 * time.Second
)

// webhookPayload is the job data shape for webhook jobs.
type webhookPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Data    json.RawMessage   `json:"data,omitempty"`
	Timeout int64             `json:"timeout,omitempty"` // ms
}

// Webhook performs the HTTP request described by the job data. Status >=500
// and transport errors are returned as errors so the job retries; 4xx comes
// back as a non-retriable result, the remote rejected the request and a
// retry would not change its mind.
type Webhook struct {
	client *http.Client
}

func NewWebhook() *Webhook {
	return &Webhook{client: &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        20,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 4,
		},
	}}
}

func (h *Webhook) Name() string { return "webhook" }

func (h *Webhook) Process(ctx *worker.Context, job *queue.Job) (*worker.Result, error) {
	var p webhookPayload
	if err := json.Unmarshal(job.Data, &p); err != nil {
		return &worker.Result{Success: false, Message: fmt.Sprintf("invalid webhook payload: %v", err)}, nil
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &worker.Result{Success: false, Message: "url must be an http(s) URL"}, nil
	}

	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(p.Data) > 0 && method != http.MethodGet {
		body = bytes.NewReader(p.Data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	timeout := clampTimeout(time.Duration(p.Timeout) * time.Millisecond)
	client := *h.client
	client.Timeout = timeout

	_ = ctx.ReportProgress(10)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var data interface{}
	if json.Unmarshal(raw, &data) != nil {
		data = string(raw)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return &worker.Result{
			Success: false,
			Status:  resp.StatusCode,
			Data:    map[string]interface{}{"response": data},
		}, nil
	default:
		return &worker.Result{
			Success: true,
			Status:  resp.StatusCode,
			Data:    map[string]interface{}{"response": data},
		}, nil
	}
}

func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	if d < minHTTPTimeout {
		return minHTTPTimeout
	}
	if d > maxHTTPTimeout {
		return maxHTTPTimeout
	}
	return d
}
