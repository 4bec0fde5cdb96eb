// Copyright 2025 Mech Services, Inc.
package handlers

import (
	"github.com/dundas/mech-queue/internal/queue"
	"github.com/dundas/mech-queue/internal/worker"
)

// PlaceholderQueues are the handler families that exist as queue contracts
// but whose business logic lives in external workers. The placeholder
// acknowledges the job so the lifecycle, events and webhooks all behave;
// out-of-band workers use the job tracker API to report real results.
var PlaceholderQueues = []string{
	"image-processing",
	"pdf-generation",
	"data-export",
	"notifications",
	"social-media",
	"web-scraping",
}

// NewPlaceholder returns an opaque echo handler for one of the contract
// queues.
func NewPlaceholder(queueName string) worker.Handler {
	return worker.HandlerFunc{
		HandlerName: queueName,
		Fn: func(ctx *worker.Context, job *queue.Job) (*worker.Result, error) {
			return worker.OK(map[string]interface{}{
				"accepted": true,
				"queue":    queueName,
				"jobId":    job.ID,
			}), nil
		},
	}
}
