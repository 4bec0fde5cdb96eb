// Copyright 2025 Mech Services, Inc.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r.Context())
	names, err := s.mgr.ListQueues(r.Context())
	if err != nil {
		writeError(w, toAPIError("QUEUES", err))
		return
	}
	allowed := names[:0]
	for _, n := range names {
		if app.AllowsQueue(n) {
			allowed = append(allowed, n)
		}
	}
	if allowed == nil {
		allowed = []string{}
	}
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"queues": allowed})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	app := applicationFrom(r.Context())
	if err := s.registry.Authorize(app, name); err != nil {
		writeError(w, errQueueAccessDenied(name))
		return
	}
	counts, err := s.mgr.Stats(r.Context(), name)
	if err != nil {
		writeError(w, toAPIError("STATS", err))
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{
		"queue": name,
		"stats": counts,
	})
}

func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	if apiErr := requireMaster(r); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	name := mux.Vars(r)["name"]
	if err := s.mgr.Pause(r.Context(), name); err != nil {
		writeError(w, toAPIError("PAUSE", err))
		return
	}
	s.audit.Record(applicationFrom(r.Context()).ID, "queue.pause", name, requestIDFrom(r.Context()), nil)
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"queue": name, "paused": true})
}

func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	if apiErr := requireMaster(r); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	name := mux.Vars(r)["name"]
	if err := s.mgr.Resume(r.Context(), name); err != nil {
		writeError(w, toAPIError("RESUME", err))
		return
	}
	s.audit.Record(applicationFrom(r.Context()).ID, "queue.resume", name, requestIDFrom(r.Context()), nil)
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"queue": name, "paused": false})
}

type cleanRequest struct {
	Bucket    string `json:"bucket"`              // completed | failed
	OlderThan int64  `json:"olderThanMs"`         // age bound
	Keep      *int64 `json:"keepCount,omitempty"` // count bound, default unlimited
}

func (s *Server) handleQueueClean(w http.ResponseWriter, r *http.Request) {
	if apiErr := requireMaster(r); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	name := mux.Vars(r)["name"]

	var req cleanRequest
	if apiErr := decodeBody(r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if req.Bucket != "completed" && req.Bucket != "failed" {
		writeError(w, errValidation("bucket must be completed or failed"))
		return
	}
	keep := int64(-1)
	if req.Keep != nil {
		keep = *req.Keep
	}
	removed, err := s.mgr.Clean(r.Context(), name, req.Bucket, time.Duration(req.OlderThan)*time.Millisecond, keep)
	if err != nil {
		writeError(w, toAPIError("CLEAN", err))
		return
	}
	s.audit.Record(applicationFrom(r.Context()).ID, "queue.clean", name, requestIDFrom(r.Context()), req)
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{
		"queue":   name,
		"bucket":  req.Bucket,
		"removed": removed,
	})
}
