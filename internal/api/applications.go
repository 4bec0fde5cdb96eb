// Copyright 2025 Mech Services, Inc.
package api

import (
	"net/http"

	"github.com/dundas/mech-queue/internal/tenant"
	"github.com/gorilla/mux"
)

func (s *Server) handleApplicationCreate(w http.ResponseWriter, r *http.Request) {
	if apiErr := requireMaster(r); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	var req tenant.CreateRequest
	if apiErr := decodeBody(r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if req.Name == "" {
		writeError(w, errMissingData("name is required"))
		return
	}
	app, key, err := s.registry.Create(r.Context(), req)
	if err != nil {
		writeError(w, toAPIError("APPLICATION_CREATE", err))
		return
	}
	s.audit.Record("master", "application.create", app.ID, requestIDFrom(r.Context()),
		map[string]interface{}{"name": app.Name})
	// The plaintext key appears exactly once, in this response.
	writeSuccess(w, r, http.StatusCreated, map[string]interface{}{
		"application": app,
		"apiKey":      key,
	})
}

func (s *Server) handleApplicationList(w http.ResponseWriter, r *http.Request) {
	if apiErr := requireMaster(r); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	apps, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, toAPIError("APPLICATION_LIST", err))
		return
	}
	if apps == nil {
		apps = []*tenant.Application{}
	}
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"applications": apps})
}

func (s *Server) handleApplicationGet(w http.ResponseWriter, r *http.Request) {
	if apiErr := requireMaster(r); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	app, err := s.registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, toAPIError("APPLICATION_GET", err))
		return
	}
	writeSuccess(w, r, http.StatusOK, app)
}

type applicationPatch struct {
	Settings tenant.Settings `json:"settings"`
}

func (s *Server) handleApplicationUpdate(w http.ResponseWriter, r *http.Request) {
	if apiErr := requireMaster(r); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	var req applicationPatch
	if apiErr := decodeBody(r, &req); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	id := mux.Vars(r)["id"]
	app, err := s.registry.UpdateSettings(r.Context(), id, req.Settings)
	if err != nil {
		writeError(w, toAPIError("APPLICATION_UPDATE", err))
		return
	}
	s.audit.Record("master", "application.update", id, requestIDFrom(r.Context()), req.Settings)
	writeSuccess(w, r, http.StatusOK, app)
}

func (s *Server) handleApplicationDelete(w http.ResponseWriter, r *http.Request) {
	if apiErr := requireMaster(r); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.registry.Delete(r.Context(), id); err != nil {
		writeError(w, toAPIError("APPLICATION_DELETE", err))
		return
	}
	s.audit.Record("master", "application.delete", id, requestIDFrom(r.Context()), nil)
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"deleted": true})
}
