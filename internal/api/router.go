// Package api serves the node provisioning HTTP API.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/librescoot/metalfsm/internal/conductor"
)

// Version is the only API version served
const Version = "v1"

// MediaType is the media type of every API response
const MediaType = "application/json"

// Handler serves the v1 API on top of a conductor.
type Handler struct {
	conductor *conductor.Conductor
	logger    *slog.Logger
	ready     []func(context.Context) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithReadinessCheck adds a dependency check to the readiness probe.
func WithReadinessCheck(fn func(context.Context) error) Option {
	return func(h *Handler) {
		h.ready = append(h.ready, fn)
	}
}

// NewHandler returns the API handler.
func NewHandler(c *conductor.Conductor, opts ...Option) *Handler {
	h := &Handler{conductor: c, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns the routes of the API. Callers may mount more routes on
// it, for example /metrics.
//
//	r := api.NewHandler(cond).Router()
//	r.Handle("/metrics", promhttp.Handler())
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", h.versions)
	r.Get("/healthz", HealthCheckHandler(h.logger))
	r.Get("/readyz", HealthCheckHandler(h.logger, h.ready...))

	r.Route("/"+Version, func(v1 chi.Router) {
		v1.Get("/", h.root)
		v1.Get("/graph", h.graph)

		v1.Route("/nodes", func(nodes chi.Router) {
			nodes.Get("/", h.listNodes)
			nodes.Post("/", h.createNode)

			nodes.Route("/{uuid}", func(n chi.Router) {
				n.Get("/", h.getNode)
				n.Delete("/", h.deleteNode)
				n.Get("/states", h.nodeStates)
				n.Put("/states/provision", h.setProvisionState)
				n.Put("/states/power", h.setPowerState)
				n.Post("/callback", h.deployCallback)
				n.Put("/management/boot_device", h.setBootDevice)
			})
		})
	})

	return r
}

// HealthCheckHandler returns a handler usable as liveness probe when no
// checks are given and as readiness probe otherwise.
func HealthCheckHandler(log *slog.Logger, checks ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(checks) == 0 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ALIVE"))
			return
		}
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "readiness check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("NOT_READY"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	}
}
