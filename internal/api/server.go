// Package api exposes the HTTP status surface of the service. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/feeds for per-feed health statistics.
//   - GET /v1/schedule for the scheduler task table.
//   - POST /v1/run to trigger one synchronous pipeline pass.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ctiharvest/internal/intel"
	"ctiharvest/internal/scheduler"
	"ctiharvest/internal/telemetry"
)

const runTimeout = 10 * time.Minute

// RunFunc triggers one full pipeline pass and returns its summary.
type RunFunc func(ctx context.Context) intel.RunSummary

// Server wires HTTP handlers to the registry and scheduler.
type Server struct {
	router   chi.Router
	registry intel.FeedRegistry
	sched    *scheduler.Scheduler
	runNow   RunFunc
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(registry intel.FeedRegistry, sched *scheduler.Scheduler, runNow RunFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		sched:    sched,
		runNow:   runNow,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/feeds", s.listFeeds)
		r.Get("/feeds/{name}", s.getFeed)
		r.Get("/schedule", s.getSchedule)
		r.Post("/run", s.triggerRun)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.registry.ListActive(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.registry.ListActive(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list feeds")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"feeds": feeds})
}

func (s *Server) getFeed(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	reg, err := s.registry.Get(r.Context(), name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "feed not found")
		return
	}
	s.writeJSON(w, http.StatusOK, reg)
}

func (s *Server) getSchedule(w http.ResponseWriter, _ *http.Request) {
	if s.sched == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"tasks": []scheduler.TaskStatus{}})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": s.sched.Status()})
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	if s.runNow == nil {
		s.writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()
	summary := s.runNow(ctx)
	s.writeJSON(w, http.StatusOK, summary)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
