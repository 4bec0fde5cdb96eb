// Copyright 2025 Mech Services, Inc.
package worker

import (
	"context"

	"github.com/dundas/mech-queue/internal/queue"
	"go.uber.org/zap"
)

// Result is what a handler returns on success. NonRetriable failures (a
// webhook 4xx, a validation error on the payload) come back as a Result with
// Success=false rather than an error, so the job completes without retries.
type Result struct {
	Success bool                   `json:"success"`
	Status  int                    `json:"status,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// OK builds a successful result with the given data fields.
func OK(data map[string]interface{}) *Result {
	return &Result{Success: true, Data: data}
}

// Context is what a handler gets to interact with the runtime while a job
// executes. Progress reports flow back through the queue manager and out as
// lifecycle events.
type Context struct {
	context.Context
	Log      *zap.Logger
	progress func(value interface{}) error
}

// ReportProgress persists and publishes handler progress (0..100 or any
// JSON-marshalable structure).
func (c *Context) ReportProgress(value interface{}) error {
	if c.progress == nil {
		return nil
	}
	return c.progress(value)
}

// Handler executes jobs of one queue. Implementations must be safe for
// concurrent Process calls and should honor ctx cancellation: the runtime
// cancels the context on job removal, shutdown and timeout.
type Handler interface {
	Name() string
	Process(ctx *Context, job *queue.Job) (*Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx *Context, job *queue.Job) (*Result, error)
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Process(ctx *Context, job *queue.Job) (*Result, error) {
	return h.Fn(ctx, job)
}
