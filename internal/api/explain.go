// Copyright 2025 Mech Services, Inc.
package api

import (
	"net/http"
	"strings"
)

// The explain surface is public self-documentation for machine consumers:
// agents discover the API by fetching /api/explain and drilling into topics.
var explainTopics = map[string]interface{}{
	"jobs": map[string]interface{}{
		"description": "Submit work to a named queue and track it to completion.",
		"routes": []string{
			"POST /api/jobs/{queue} — submit a job; body {name?, data, metadata?, options?, webhooks?}",
			"GET /api/jobs/{queue}?status=&metadata.<field>=&limit= — list jobs",
			"GET /api/jobs/{queue}/{jobId} — job status",
			"PATCH /api/jobs/{queue}/{jobId} — out-of-band update {progress?, result?, error?, status?}",
			"DELETE /api/jobs/{queue}/{jobId} — cancel a non-terminal job",
		},
		"options": map[string]string{
			"attempts": "max execution attempts, default 3",
			"backoff":  `{"type":"exponential"|"fixed","delay":<ms>}`,
			"delay":    "initial delay in ms before the job becomes runnable",
			"priority": "higher runs first among waiting jobs",
			"timeout":  "per-attempt handler timeout in ms",
		},
		"lifecycle": "waiting -> active -> completed|failed; delayed jobs promote when due; failures retry with backoff until attempts are exhausted",
	},
	"queues": map[string]interface{}{
		"description": "Queues are created on first use and controlled per name.",
		"routes": []string{
			"GET /api/queues — queues your key may use",
			"GET /api/queues/{name}/stats — per-status counts",
			"POST /api/queues/{name}/pause — master only",
			"POST /api/queues/{name}/resume — master only",
			"POST /api/queues/{name}/clean — master only; body {bucket, olderThanMs, keepCount?}",
		},
	},
	"subscriptions": map[string]interface{}{
		"description": "Webhook registrations filtered by queue, status and metadata.",
		"routes": []string{
			"POST /api/subscriptions — body {name, endpoint, method?, events, filters?, headers?, retryConfig?}",
			"GET /api/subscriptions — your subscriptions",
			"GET|PUT|DELETE /api/subscriptions/{id}",
			"POST /api/subscriptions/{id}/test — one synthetic delivery, counters untouched",
		},
		"payload": "deliveries POST {subscription:{id,name}, event:{type,timestamp}, job:{id,queue,status,data,metadata,result?,error?}}",
	},
	"schedules": map[string]interface{}{
		"description": "Cron or one-shot HTTP triggers. Internal surface: no tenant auth.",
		"routes": []string{
			"POST /api/schedules — body {name, endpoint{url,method,headers?,body?,timeout?}, schedule{cron|at, timezone?, endDate?, limit?}, retryPolicy?}",
			"GET /api/schedules",
			"GET|PUT|DELETE /api/schedules/{id}",
			"POST /api/schedules/{id}/toggle",
			"POST /api/schedules/{id}/execute — fire immediately",
		},
	},
	"applications": map[string]interface{}{
		"description": "Tenant management. Master key only.",
		"routes": []string{
			"POST /api/applications — body {name, settings{allowedQueues, maxConcurrentJobs?, metadata?}}; response carries the API key exactly once",
			"GET /api/applications",
			"GET|PATCH|DELETE /api/applications/{id}",
		},
	},
	"errors": map[string]interface{}{
		"description": "Errors carry a stable code plus hints, possibleCauses and suggestedFixes.",
		"codes": []string{
			"MISSING_API_KEY", "INVALID_API_KEY", "UNAUTHORIZED", "FORBIDDEN",
			"QUEUE_ACCESS_DENIED", "QUEUE_NOT_FOUND", "JOB_NOT_FOUND",
			"MISSING_DATA", "VALIDATION_ERROR", "RATE_LIMIT_EXCEEDED",
		},
	},
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimPrefix(r.URL.Path, "/api/explain")
	topic = strings.Trim(topic, "/")

	if topic == "" {
		topics := make([]string, 0, len(explainTopics))
		for k := range explainTopics {
			topics = append(topics, k)
		}
		writeSuccess(w, r, http.StatusOK, map[string]interface{}{
			"service": "mech-queue",
			"topics":  topics,
			"usage":   "GET /api/explain/{topic}",
			"auth":    "x-api-key header on every /api route except explain and schedules",
		})
		return
	}
	doc, ok := explainTopics[topic]
	if !ok {
		writeError(w, errNotFound("explain topic "+topic))
		return
	}
	writeSuccess(w, r, http.StatusOK, doc)
}
