// Package api provides HTTP handlers and the main API server logic for Amparo.
//
// It exposes RESTful endpoints for caregiver/dependent identity, routine
// activities and emergency alerts. Authentication and authorization are
// handled by an upstream gateway and are out of scope here.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/amparo-care/amparo/internal/notify"
	"github.com/amparo-care/amparo/internal/routine"
	"github.com/amparo-care/amparo/internal/store"
)

// Server configuration constants
const (
	// DefaultAddr is the default API listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds request header reads.
	DefaultReadHeaderTimeout = 5 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the lifecycle manager, identity store and notifier into HTTP
// endpoints.
type Server struct {
	manager  *routine.Manager
	identity store.IdentityStore
	notifier notify.Notifier
	httpSrv  *http.Server
}

// NewServer creates an API server.
func NewServer(manager *routine.Manager, identity store.IdentityStore, notifier notify.Notifier, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{manager: manager, identity: identity, notifier: notifier}
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Identity
	mux.HandleFunc("POST /caregivers", s.createCaregiverHandler)
	mux.HandleFunc("GET /caregivers/{caregiverID}", s.getCaregiverHandler)
	mux.HandleFunc("POST /dependents", s.createDependentHandler)
	mux.HandleFunc("GET /dependents/{dependentID}", s.getDependentHandler)
	mux.HandleFunc("POST /caregivers/{caregiverID}/dependents/{dependentID}", s.linkDependentHandler)
	mux.HandleFunc("GET /caregivers/{caregiverID}/dependents", s.listDependentsHandler)

	// Routine activities
	mux.HandleFunc("POST /dependents/{dependentID}/activities", s.createActivityHandler)
	mux.HandleFunc("GET /dependents/{dependentID}/activities", s.listActivitiesHandler)
	mux.HandleFunc("DELETE /dependents/{dependentID}/activities", s.deleteAllActivitiesHandler)
	mux.HandleFunc("GET /dependents/{dependentID}/activities/{activityID}", s.getActivityHandler)
	mux.HandleFunc("PATCH /dependents/{dependentID}/activities/{activityID}", s.updateActivityHandler)
	mux.HandleFunc("DELETE /dependents/{dependentID}/activities/{activityID}", s.deleteActivityHandler)
	mux.HandleFunc("GET /dependents/{dependentID}/routine/log", s.routineLogHandler)

	// Emergencies
	mux.HandleFunc("PUT /dependents/{dependentID}/emergency-profile", s.upsertEmergencyProfileHandler)
	mux.HandleFunc("GET /dependents/{dependentID}/emergency-profile", s.getEmergencyProfileHandler)
	mux.HandleFunc("POST /alerts/emergency", s.emergencyAlertHandler)
	mux.HandleFunc("POST /alerts/emergency/cancel", s.emergencyCancelHandler)

	mux.HandleFunc("GET /healthz", s.healthHandler)
}

// Run starts the HTTP server and blocks until the context is canceled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		slog.Info("API server stopped")
		return nil
	}
}

// Handler exposes the server's routes, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
