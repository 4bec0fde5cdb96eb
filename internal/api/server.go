// Copyright 2025 Mech Services, Inc.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dundas/mech-queue/internal/config"
	"github.com/dundas/mech-queue/internal/obs"
	"github.com/dundas/mech-queue/internal/queue"
	"github.com/dundas/mech-queue/internal/schedule"
	"github.com/dundas/mech-queue/internal/subscription"
	"github.com/dundas/mech-queue/internal/tenant"
	"github.com/dundas/mech-queue/internal/tracker"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server is the public HTTP surface of the queue service.
type Server struct {
	cfg       *config.Config
	registry  *tenant.Registry
	mgr       *queue.Manager
	tracker   *tracker.Tracker
	subs      subscription.Store
	fanout    *subscription.Fanout
	schedules *schedule.Service
	audit     *AuditLogger
	log       *zap.Logger
	httpSrv   *http.Server

	// ready reports backing-store health for /health.
	ready func(context.Context) error
}

func NewServer(
	cfg *config.Config,
	registry *tenant.Registry,
	mgr *queue.Manager,
	tr *tracker.Tracker,
	subs subscription.Store,
	fanout *subscription.Fanout,
	schedules *schedule.Service,
	audit *AuditLogger,
	ready func(context.Context) error,
	log *zap.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		registry:  registry,
		mgr:       mgr,
		tracker:   tr,
		subs:      subs,
		fanout:    fanout,
		schedules: schedules,
		audit:     audit,
		ready:     ready,
		log:       log,
	}
}

// Router builds the full route table. Exported for tests.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	// Public surface: liveness and self-documentation.
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.PathPrefix("/api/explain").HandlerFunc(s.handleExplain).Methods(http.MethodGet)

	// Schedules are an internal surface: no tenant auth (see handleExplain
	// for the operator-facing note).
	sch := r.PathPrefix("/api/schedules").Subrouter()
	sch.HandleFunc("", s.handleScheduleCreate).Methods(http.MethodPost)
	sch.HandleFunc("", s.handleScheduleList).Methods(http.MethodGet)
	sch.HandleFunc("/{id}", s.handleScheduleGet).Methods(http.MethodGet)
	sch.HandleFunc("/{id}", s.handleScheduleUpdate).Methods(http.MethodPut)
	sch.HandleFunc("/{id}", s.handleScheduleDelete).Methods(http.MethodDelete)
	sch.HandleFunc("/{id}/toggle", s.handleScheduleToggle).Methods(http.MethodPost)
	sch.HandleFunc("/{id}/execute", s.handleScheduleExecute).Methods(http.MethodPost)

	// Everything else requires an API key.
	authed := r.PathPrefix("/api").Subrouter()
	authed.Use(AuthMiddleware(s.registry, s.cfg.Server.AuthEnabled))

	authed.HandleFunc("/applications", s.handleApplicationCreate).Methods(http.MethodPost)
	authed.HandleFunc("/applications", s.handleApplicationList).Methods(http.MethodGet)
	authed.HandleFunc("/applications/{id}", s.handleApplicationGet).Methods(http.MethodGet)
	authed.HandleFunc("/applications/{id}", s.handleApplicationUpdate).Methods(http.MethodPatch)
	authed.HandleFunc("/applications/{id}", s.handleApplicationDelete).Methods(http.MethodDelete)

	authed.HandleFunc("/jobs/{queue}", s.handleJobSubmit).Methods(http.MethodPost)
	authed.HandleFunc("/jobs/{queue}", s.handleJobList).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{queue}/{jobId}", s.handleJobGet).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{queue}/{jobId}", s.handleJobCancel).Methods(http.MethodDelete)
	authed.HandleFunc("/jobs/{queue}/{jobId}", s.handleJobUpdate).Methods(http.MethodPatch)

	authed.HandleFunc("/queues", s.handleQueueList).Methods(http.MethodGet)
	authed.HandleFunc("/queues/{name}/stats", s.handleQueueStats).Methods(http.MethodGet)
	authed.HandleFunc("/queues/{name}/pause", s.handleQueuePause).Methods(http.MethodPost)
	authed.HandleFunc("/queues/{name}/resume", s.handleQueueResume).Methods(http.MethodPost)
	authed.HandleFunc("/queues/{name}/clean", s.handleQueueClean).Methods(http.MethodPost)

	authed.HandleFunc("/subscriptions", s.handleSubscriptionCreate).Methods(http.MethodPost)
	authed.HandleFunc("/subscriptions", s.handleSubscriptionList).Methods(http.MethodGet)
	authed.HandleFunc("/subscriptions/{id}", s.handleSubscriptionGet).Methods(http.MethodGet)
	authed.HandleFunc("/subscriptions/{id}", s.handleSubscriptionUpdate).Methods(http.MethodPut)
	authed.HandleFunc("/subscriptions/{id}", s.handleSubscriptionDelete).Methods(http.MethodDelete)
	authed.HandleFunc("/subscriptions/{id}/test", s.handleSubscriptionTest).Methods(http.MethodPost)

	var handler http.Handler = r
	handler = RateLimitMiddleware(s.cfg.Server.RateLimitWindow, s.cfg.Server.RateLimitMax)(handler)
	handler = LoggingMiddleware(s.log)(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

// Start runs the HTTP listener until the context ends.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	s.log.Info("api server listening",
		obs.Int("port", s.cfg.Server.Port),
		obs.Bool("auth", s.cfg.Server.AuthEnabled))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

type healthResponse struct {
	Status string                    `json:"status"`
	Queues map[string]backendCounts  `json:"queues"`
}

type backendCounts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Paused    bool  `json:"paused"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			status = "degraded"
		}
	}
	all, err := s.mgr.AllStats(r.Context())
	if err != nil {
		writeError(w, toAPIError("HEALTH", err))
		return
	}
	out := healthResponse{Status: status, Queues: make(map[string]backendCounts, len(all))}
	for name, c := range all {
		out.Queues[name] = backendCounts{
			Waiting: c.Waiting, Delayed: c.Delayed, Active: c.Active,
			Completed: c.Completed, Failed: c.Failed, Paused: c.Paused,
		}
	}
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeSuccess(w, r, code, out)
}
