// Package api implements the driver's debug HTTP API: a read-only
// window into the profile store, descendant table, and reservation
// totals, polled by `make-mem tui`. `make-mem status` reads the same
// on-disk profile cache and shared region directly, without the API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rebroad/make-mem/internal/descendant"
	"github.com/rebroad/make-mem/internal/profile"
	"github.com/rebroad/make-mem/internal/reservation"
)

// Server exposes read-only admission-subsystem state over HTTP,
// optionally behind a bearer token.
type Server struct {
	addr     string
	token    string
	store    *profile.Store
	tracker  *descendant.Tracker
	reserver *reservation.Controller
	logger   *slog.Logger
	server   *http.Server
}

// NewServer builds a debug API server bound to addr. token == "" means
// no authentication is required (local-only deployments).
func NewServer(addr, token string, store *profile.Store, tracker *descendant.Tracker, reserver *reservation.Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		token:    token,
		store:    store,
		tracker:  tracker,
		reserver: reserver,
		logger:   logger.With("component", "debug_api"),
	}
}

// Start begins serving until ctx is cancelled, then shuts down
// gracefully. Blocks until the server has fully stopped.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.wrap(s.handleHealth, false))
	mux.HandleFunc("/api/v1/status", s.wrap(s.handleStatus, true))
	mux.HandleFunc("/api/v1/profiles", s.wrap(s.handleProfiles, true))
	mux.HandleFunc("/api/v1/descendants", s.wrap(s.handleDescendants, true))

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.server.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// wrap applies panic recovery and, when requireAuth is true, bearer
// token authentication.
func (s *Server) wrap(h http.HandlerFunc, requireAuth bool) http.HandlerFunc {
	if requireAuth {
		h = s.authMiddleware(h)
	}
	return s.panicRecovery(h)
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next(w, r)
			return
		}
		expected := "Bearer " + s.token
		if r.Header.Get("Authorization") != expected {
			s.respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) panicRecovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in debug API handler", "error", err, "path", r.URL.Path, "stack", string(debug.Stack()))
				s.respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var imminent int64
	var auditTrail interface{} = []struct{}{}
	if s.reserver != nil {
		imminent = s.reserver.ImminentMB()
		auditTrail = s.reserver.AuditTrail()
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"profile_count":   s.store.Len(),
		"descendant_rows": s.tracker.Len(),
		"imminent_mb":     imminent,
		"recent_audit":    auditTrail,
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": s.store.Snapshot(),
	})
}

func (s *Server) handleDescendants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rows": s.tracker.Rows(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// Addr returns the configured listen address, for logging.
func (s *Server) Addr() string { return s.addr }
