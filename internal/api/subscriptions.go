// Copyright 2025 Mech Services, Inc.
package api

import (
	"net/http"
	"time"

	"github.com/dundas/mech-queue/internal/subscription"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// loadOwnedSubscription fetches a subscription and enforces ownership.
func (s *Server) loadOwnedSubscription(r *http.Request) (*subscription.Subscription, *Error) {
	sub, err := s.subs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return nil, toAPIError("SUBSCRIPTION", err)
	}
	app := applicationFrom(r.Context())
	if !app.IsMaster() && sub.ApplicationID != app.ID {
		return nil, errNotFound("subscription")
	}
	return sub, nil
}

func (s *Server) handleSubscriptionCreate(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r.Context())

	var sub subscription.Subscription
	if apiErr := decodeBody(r, &sub); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	sub.ID = uuid.New().String()
	sub.ApplicationID = app.ID
	sub.Active = true
	sub.TriggerCount = 0
	sub.LastTriggeredAt = nil
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	sub.ApplyDefaults()
	if err := sub.Validate(); err != nil {
		writeError(w, toAPIError("SUBSCRIPTION_CREATE", err))
		return
	}
	if err := s.subs.Insert(r.Context(), &sub); err != nil {
		writeError(w, toAPIError("SUBSCRIPTION_CREATE", err))
		return
	}
	s.fanout.Invalidate()
	writeSuccess(w, r, http.StatusCreated, sub)
}

func (s *Server) handleSubscriptionList(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r.Context())
	subs, err := s.subs.ListByApplication(r.Context(), app.ID)
	if err != nil {
		writeError(w, toAPIError("SUBSCRIPTION_LIST", err))
		return
	}
	if subs == nil {
		subs = []*subscription.Subscription{}
	}
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"subscriptions": subs})
}

func (s *Server) handleSubscriptionGet(w http.ResponseWriter, r *http.Request) {
	sub, apiErr := s.loadOwnedSubscription(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	writeSuccess(w, r, http.StatusOK, sub)
}

func (s *Server) handleSubscriptionUpdate(w http.ResponseWriter, r *http.Request) {
	existing, apiErr := s.loadOwnedSubscription(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	var in subscription.Subscription
	if bodyErr := decodeBody(r, &in); bodyErr != nil {
		writeError(w, bodyErr)
		return
	}
	in.ID = existing.ID
	in.ApplicationID = existing.ApplicationID
	in.TriggerCount = existing.TriggerCount
	in.LastTriggeredAt = existing.LastTriggeredAt
	in.CreatedAt = existing.CreatedAt
	in.UpdatedAt = time.Now().UTC()
	in.ApplyDefaults()
	if err := in.Validate(); err != nil {
		writeError(w, toAPIError("SUBSCRIPTION_UPDATE", err))
		return
	}
	if err := s.subs.Update(r.Context(), &in); err != nil {
		writeError(w, toAPIError("SUBSCRIPTION_UPDATE", err))
		return
	}
	s.fanout.Invalidate()
	writeSuccess(w, r, http.StatusOK, in)
}

func (s *Server) handleSubscriptionDelete(w http.ResponseWriter, r *http.Request) {
	sub, apiErr := s.loadOwnedSubscription(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if err := s.subs.Delete(r.Context(), sub.ID); err != nil {
		writeError(w, toAPIError("SUBSCRIPTION_DELETE", err))
		return
	}
	s.fanout.Invalidate()
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (s *Server) handleSubscriptionTest(w http.ResponseWriter, r *http.Request) {
	sub, apiErr := s.loadOwnedSubscription(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if err := s.fanout.DeliverTest(sub); err != nil {
		writeError(w, errValidation("test delivery failed: "+err.Error()))
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]interface{}{"delivered": true})
}
