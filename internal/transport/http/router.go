// Package http assembles the API surface: middleware stack, payment gate,
// job routes, health probes and metrics.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobshandler "github.com/brianmurray333/ganamos-sub006/internal/jobs/handler"
	"github.com/brianmurray333/ganamos-sub006/internal/l402"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/health"
	pmiddleware "github.com/brianmurray333/ganamos-sub006/internal/platform/middleware"
	"github.com/brianmurray333/ganamos-sub006/internal/platform/metrics"
	"github.com/brianmurray333/ganamos-sub006/internal/ratelimit"
)

// Deps are the wired components the router mounts.
type Deps struct {
	Jobs    *jobshandler.Handler
	Paywall *l402.Paywall
	Limiter *ratelimit.Limiter
	Health  *health.Handler
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewRouter builds the chi router with the platform middleware stack and
// the API mounted under /api.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(pmiddleware.Recovery(d.Logger))
	r.Use(pmiddleware.RequestID)
	r.Use(pmiddleware.ClientIP)
	r.Use(pmiddleware.Logger(d.Logger))
	r.Use(pmiddleware.Latency(d.Metrics))
	r.Use(pmiddleware.Timeout(30 * time.Second))

	if d.Health != nil {
		d.Health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(pmiddleware.ContentTypeJSON)

		api.Route("/jobs", func(jobs chi.Router) {
			// Creating a job is the paid action: the creator funds the
			// reward plus the platform fee before the job exists.
			jobs.With(d.Paywall.Require("jobs:create", jobshandler.CreationPrice())).
				Post("/", d.Jobs.Create)

			jobs.Route("/{id}", func(job chi.Router) {
				job.Get("/", d.Jobs.Get)
				if d.Limiter != nil {
					job.With(d.Limiter.Middleware).Post("/claim", d.Jobs.Claim)
				} else {
					job.Post("/claim", d.Jobs.Claim)
				}
				job.Post("/review", d.Jobs.Review)
				job.Post("/complete", d.Jobs.Complete)
				job.Post("/cancel", d.Jobs.Cancel)
				job.Delete("/", d.Jobs.Delete)
			})
		})
	})

	return r
}
