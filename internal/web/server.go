package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dkrish7/osprey/internal/job"
	"github.com/dkrish7/osprey/internal/ratelimit"
	"github.com/dkrish7/osprey/internal/webhook"
)

const maxInflight = 256

// Server is the intake API: job submission and lifecycle control plus
// webhook subscription management. Execution happens on the worker.
type Server struct {
	jobs       *job.Service
	hooks      *webhook.Service
	dispatcher *webhook.Dispatcher
	limiter    *ratelimit.Limiter

	http *http.Server
}

func NewServer(
	addr string,
	jobs *job.Service,
	hooks *webhook.Service,
	dispatcher *webhook.Dispatcher,
	limiter *ratelimit.Limiter,
) *Server {
	s := &Server{
		jobs:       jobs,
		hooks:      hooks,
		dispatcher: dispatcher,
		limiter:    limiter,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(inflightLimit(maxInflight))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(withIdentity)
		r.Use(s.generalRateLimit)

		r.Get("/tools", s.listTools)

		r.Route("/job", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Get("/{id}", s.getJob)
			r.Post("/{id}/cancel", s.cancelJob)
			r.Post("/{id}/retry", s.retryJob)
			r.Get("/{id}/output", s.jobOutput)
		})

		r.Route("/webhook", func(r chi.Router) {
			r.Post("/", s.registerWebhook)
			r.Get("/", s.listWebhooks)
			r.Get("/{id}/deliveries", s.webhookDeliveries)
			r.Post("/{id}/test", s.testWebhook)
			r.Delete("/{id}", s.deleteWebhook)
		})
	})

	return r
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
