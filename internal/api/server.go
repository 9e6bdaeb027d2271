// Package api serves the management HTTP API: key lifecycle, fleet
// administration, retry-queue inspection, alerts, and API key management.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/keyfleet/internal/api/handler"
	mw "github.com/edvin/keyfleet/internal/api/middleware"
	"github.com/edvin/keyfleet/internal/core"
	"github.com/edvin/keyfleet/internal/fleet"
	"github.com/edvin/keyfleet/internal/reconcile"
	"github.com/edvin/keyfleet/internal/registry"
)

type Server struct {
	router     chi.Router
	logger     zerolog.Logger
	services   *core.Services
	fleet      *fleet.Orchestrator
	registry   *registry.Registry
	reconciler *reconcile.Reconciler
	pool       *pgxpool.Pool
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, services *core.Services, orch *fleet.Orchestrator, reg *registry.Registry, rec *reconcile.Reconciler) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger,
		services:   services,
		fleet:      orch,
		registry:   reg,
		reconciler: rec,
		pool:       pool,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.services.APIKey))

		// Keys
		key := handler.NewKey(s.fleet, s.services, s.registry)
		r.Get("/keys", key.List)
		r.Post("/keys", key.Create)
		r.Get("/keys/{uuid}", key.Get)
		r.Delete("/keys/{uuid}", key.Delete)
		r.Get("/keys/{uuid}/links", key.Links)
		r.Post("/keys/{uuid}/renew", key.Renew)
		r.Post("/keys/{uuid}/suspend", key.Suspend)
		r.Post("/keys/{uuid}/reactivate", key.Reactivate)

		// Servers
		server := handler.NewServer(s.registry)
		r.Get("/servers", server.List)
		r.Get("/servers/{name}", server.Get)
		r.Put("/servers/{name}/active", server.SetActive)
		r.Post("/servers/{name}/restart", server.Restart)
		r.Post("/servers/reload", server.Reload)

		// Retry queue
		operation := handler.NewOperation(s.services.Outbox)
		r.Get("/operations", operation.List)
		r.Get("/operations/{id}", operation.Get)
		r.Post("/operations/{id}/requeue", operation.Requeue)

		// Alerts
		alert := handler.NewAlert(s.services.Alert)
		r.Get("/alerts", alert.List)

		// On-demand reconciliation
		rec := handler.NewReconcile(s.reconciler)
		r.Post("/reconcile", rec.Trigger)

		// Dashboard stats
		stats := handler.NewStats(s.services, s.registry)
		r.Get("/stats", stats.Get)

		// API keys
		apiKey := handler.NewAPIKey(s.services.APIKey)
		r.Get("/api-keys", apiKey.List)
		r.Post("/api-keys", apiKey.Create)
		r.Delete("/api-keys/{id}", apiKey.Revoke)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Ping(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
