// Copyright 2025 Mech Services, Inc.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dundas/mech-queue/internal/obs"
	"github.com/dundas/mech-queue/internal/tenant"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type contextKey string

const (
	contextKeyApplication contextKey = "application"
	contextKeyRequestID   contextKey = "request_id"
)

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

func applicationFrom(ctx context.Context) *tenant.Application {
	app, _ := ctx.Value(contextKeyApplication).(*tenant.Application)
	return app
}

// RequestIDMiddleware stamps every request with an id, honoring an inbound
// X-Request-ID so callers can correlate.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("request",
				obs.String("method", r.Method),
				obs.String("path", r.URL.Path),
				obs.Int("status", sw.status),
				obs.String("request_id", requestIDFrom(r.Context())),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RateLimitMiddleware enforces a per-key token bucket sized from the
// configured window and maximum. Unauthenticated requests are keyed by
// client IP.
func RateLimitMiddleware(window time.Duration, max int) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		buckets = make(map[string]*rate.Limiter)
	)
	perSecond := rate.Limit(float64(max) / window.Seconds())

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		lim, ok := buckets[key]
		if !ok {
			lim = rate.NewLimiter(perSecond, max)
			buckets[key] = lim
		}
		return lim
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("x-api-key")
			if key == "" {
				key = clientIP(r)
			}
			if !limiterFor(key).Allow() {
				writeError(w, errRateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AuthMiddleware resolves the x-api-key header to an application and stores
// it on the context. With auth disabled every request runs as master.
func AuthMiddleware(registry *tenant.Registry, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				ctx := context.WithValue(r.Context(), contextKeyApplication, tenant.MasterApplication())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			app, err := registry.Authenticate(r.Context(), r.Header.Get("x-api-key"))
			if err != nil {
				writeError(w, toAPIError("AUTH", err))
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyApplication, app)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requireMaster guards administrative handlers.
func requireMaster(r *http.Request) *Error {
	app := applicationFrom(r.Context())
	if app == nil || !app.IsMaster() {
		return errForbidden("master identity required")
	}
	return nil
}
