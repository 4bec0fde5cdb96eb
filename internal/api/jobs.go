// Copyright 2025 Mech Services, Inc.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dundas/mech-queue/internal/queue"
	"github.com/dundas/mech-queue/internal/tracker"
	"github.com/gorilla/mux"
)

type submitJobRequest struct {
	Name     string                 `json:"name"`
	Data     json.RawMessage        `json:"data"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Options  *queue.Options         `json:"options,omitempty"`
	Webhooks map[string]string      `json:"webhooks,omitempty"`
}

func (s *Server) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["queue"]
	app := applicationFrom(r.Context())

	if err := s.registry.Authorize(app, queueName); err != nil {
		writeError(w, errQueueAccessDenied(queueName))
		return
	}

	var req submitJobRequest
	if apiErr := decodeBody(r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if len(req.Data) == 0 {
		writeError(w, errMissingData("data is required"))
		return
	}
	if req.Name == "" {
		req.Name = queueName
	}

	job, err := s.mgr.Enqueue(r.Context(), queue.EnqueueRequest{
		Queue:    queueName,
		Name:     req.Name,
		Data:     req.Data,
		Extra:    req.Metadata,
		Options:  req.Options,
		Webhooks: req.Webhooks,
		Metadata: queue.Metadata{
			ApplicationID:   app.ID,
			ApplicationName: app.Name,
			SubmittedAt:     time.Now().UTC().Format(time.RFC3339Nano),
			RequestID:       requestIDFrom(r.Context()),
		},
	})
	if err != nil {
		writeError(w, toAPIError("SUBMIT", err))
		return
	}
	writeSuccess(w, r, http.StatusCreated, map[string]interface{}{
		"jobId":  job.ID,
		"queue":  job.Queue,
		"status": job.Status,
	})
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	app := applicationFrom(r.Context())

	job, err := s.mgr.GetJob(r.Context(), vars["queue"], vars["jobId"])
	if err != nil {
		writeError(w, toAPIError("STATUS", err))
		return
	}
	if !s.registry.CanAccessJob(app, job.Metadata.ApplicationID) {
		writeError(w, errJobNotFound()) // do not leak other tenants' job ids
		return
	}
	writeSuccess(w, r, http.StatusOK, job)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	app := applicationFrom(r.Context())

	job, err := s.mgr.GetJob(r.Context(), vars["queue"], vars["jobId"])
	if err != nil {
		writeError(w, toAPIError("CANCEL", err))
		return
	}
	if !s.registry.CanAccessJob(app, job.Metadata.ApplicationID) {
		writeError(w, errJobNotFound())
		return
	}
	if err := s.mgr.Cancel(r.Context(), vars["queue"], vars["jobId"]); err != nil {
		writeError(w, toAPIError("CANCEL", err))
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{
		"jobId":     vars["jobId"],
		"cancelled": true,
	})
}

// handleJobList is the tracker list surface: filter by status and
// metadata.<field>=<value> query parameters.
func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["queue"]
	app := applicationFrom(r.Context())

	if err := s.registry.Authorize(app, queueName); err != nil {
		writeError(w, errQueueAccessDenied(queueName))
		return
	}

	f := tracker.ListFilter{
		Queue:    queueName,
		Status:   r.URL.Query().Get("status"),
		Metadata: map[string]string{},
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.ParseInt(limitStr, 10, 64); err == nil {
			f.Limit = n
		}
	}
	for key, vals := range r.URL.Query() {
		if len(vals) == 0 {
			continue
		}
		if strings.HasPrefix(key, "metadata.") {
			f.Metadata[strings.TrimPrefix(key, "metadata.")] = vals[0]
		}
	}

	jobs, err := s.tracker.List(r.Context(), f)
	if err != nil {
		writeError(w, toAPIError("LIST", err))
		return
	}
	if !app.IsMaster() {
		scoped := jobs[:0]
		for _, j := range jobs {
			if j.Metadata.ApplicationID == app.ID {
				scoped = append(scoped, j)
			}
		}
		jobs = scoped
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleJobUpdate is the tracker update surface for out-of-band workers.
func (s *Server) handleJobUpdate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	app := applicationFrom(r.Context())

	job, err := s.mgr.GetJob(r.Context(), vars["queue"], vars["jobId"])
	if err != nil {
		writeError(w, toAPIError("UPDATE", err))
		return
	}
	if !s.registry.CanAccessJob(app, job.Metadata.ApplicationID) {
		writeError(w, errJobNotFound())
		return
	}

	var upd tracker.Update
	if apiErr := decodeBody(r, &upd); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	updated, err := s.tracker.Update(r.Context(), vars["queue"], vars["jobId"], upd)
	if err != nil {
		writeError(w, toAPIError("UPDATE", err))
		return
	}
	writeSuccess(w, r, http.StatusOK, updated)
}
