// Copyright 2025 Mech Services, Inc.
package api

import (
	"net/http"

	"github.com/dundas/mech-queue/internal/schedule"
	"github.com/gorilla/mux"
)

func (s *Server) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	var in schedule.Schedule
	if apiErr := decodeBody(r, &in); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if in.CreatedBy == "" {
		in.CreatedBy = "internal"
	}
	created, err := s.schedules.Create(r.Context(), &in)
	if err != nil {
		writeError(w, toAPIError("SCHEDULE_CREATE", err))
		return
	}
	writeSuccess(w, r, http.StatusCreated, created)
}

func (s *Server) handleScheduleList(w http.ResponseWriter, r *http.Request) {
	items, err := s.schedules.List(r.Context())
	if err != nil {
		writeError(w, toAPIError("SCHEDULE_LIST", err))
		return
	}
	if items == nil {
		items = []*schedule.Schedule{}
	}
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"schedules": items})
}

func (s *Server) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	item, err := s.schedules.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, toAPIError("SCHEDULE_GET", err))
		return
	}
	writeSuccess(w, r, http.StatusOK, item)
}

func (s *Server) handleScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	var in schedule.Schedule
	if apiErr := decodeBody(r, &in); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	updated, err := s.schedules.Update(r.Context(), mux.Vars(r)["id"], &in)
	if err != nil {
		writeError(w, toAPIError("SCHEDULE_UPDATE", err))
		return
	}
	writeSuccess(w, r, http.StatusOK, updated)
}

func (s *Server) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.schedules.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, toAPIError("SCHEDULE_DELETE", err))
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (s *Server) handleScheduleToggle(w http.ResponseWriter, r *http.Request) {
	item, err := s.schedules.Toggle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, toAPIError("SCHEDULE_TOGGLE", err))
		return
	}
	writeSuccess(w, r, http.StatusOK, item)
}

func (s *Server) handleScheduleExecute(w http.ResponseWriter, r *http.Request) {
	jobID, err := s.schedules.ExecuteNow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, toAPIError("SCHEDULE_EXECUTE", err))
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"jobId": jobID})
}
