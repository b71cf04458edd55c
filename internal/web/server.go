package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"trackmeta/internal/logger"
	"trackmeta/internal/metadata"
	"trackmeta/internal/metrics"
)

// Enricher is the part of *metadata.Aggregator the HTTP API needs.
type Enricher interface {
	Enrich(ctx context.Context, artist, title string) *metadata.Candidate
	EnrichDetailed(ctx context.Context, q metadata.Query) metadata.Result
	Status(ctx context.Context) []metadata.ProviderStatus
}

type Server struct {
	ctx      context.Context
	jobMgr   *JobManager
	enricher Enricher
	metrics  *metrics.Metrics
	workers  int
	validate *validator.Validate
	logger   *logger.Logger
}

// NewServer creates the HTTP API. Jobs run until ctx is cancelled.
func NewServer(ctx context.Context, jobMgr *JobManager, enricher Enricher, m *metrics.Metrics, workers int, log *logger.Logger) *Server {
	return &Server{
		ctx:      ctx,
		jobMgr:   jobMgr,
		enricher: enricher,
		metrics:  m,
		workers:  workers,
		validate: newValidator(),
		logger:   log.Named("web"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(middleware.Heartbeat("/healthz"))

	r.Route("/api", func(r chi.Router) {
		r.Get("/providers", s.handleProviders)
		r.Post("/enrich", s.handleEnrich)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleCreateJob)
			r.Get("/{id}", s.handleGetJob)
			r.Get("/{id}/results", s.handleJobResults)
			r.Post("/{id}/cancel", s.handleCancelJob)
		})
	})
	r.Get("/ws", s.handleWebSocket)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// observe logs each request and records it under its route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, status, elapsed)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"route", route,
			"status", status,
			"elapsed", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
