// Package server exposes the daemon's HTTP API. The root and status
// endpoints are public, everything under /v1 needs a bearer token.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/princesrivastav546-cell/pyhost/internal/access"
	"github.com/princesrivastav546-cell/pyhost/internal/launcher"
	"github.com/princesrivastav546-cell/pyhost/internal/supervisor"
)

type Server struct {
	manager  *supervisor.Manager
	registry *access.Registry
	db       *sql.DB
	logger   *slog.Logger
	server   *http.Server
}

func New(addr string, manager *supervisor.Manager, registry *access.Registry, pyhostDB *sql.DB) *Server {
	s := &Server{
		manager:  manager,
		registry: registry,
		db:       pyhostDB,
		logger:   slog.Default(),
	}

	mux := http.NewServeMux()

	// public endpoints
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// authenticated API
	mux.Handle("GET /stats", s.auth(s.handleStats))
	mux.Handle("POST /v1/apps", s.auth(s.handleCreateApp))
	mux.Handle("GET /v1/apps", s.auth(s.handleListApps))
	mux.Handle("GET /v1/apps/{id}", s.auth(s.handleGetApp))
	mux.Handle("DELETE /v1/apps/{id}", s.auth(s.handleDeleteApp))
	mux.Handle("POST /v1/apps/{id}/source", s.auth(s.handleUploadSource))
	mux.Handle("POST /v1/apps/{id}/env", s.auth(s.handleAppendEnv))
	mux.Handle("POST /v1/apps/{id}/build", s.auth(s.handleBuildApp))
	mux.Handle("GET /v1/apps/{id}/builds", s.auth(s.handleListBuilds))
	mux.Handle("POST /v1/apps/{id}/start", s.auth(s.handleStartApp))
	mux.Handle("POST /v1/apps/{id}/stop", s.auth(s.handleStopApp))
	mux.Handle("GET /v1/apps/{id}/logs", s.auth(s.handleLogs))

	// admin endpoints
	mux.Handle("GET /v1/users", s.admin(s.handleListUsers))
	mux.Handle("POST /v1/users", s.admin(s.handleAddUser))
	mux.Handle("DELETE /v1/users/{name}", s.admin(s.handleRemoveUser))
	mux.Handle("POST /v1/users/{name}/token", s.admin(s.handleResetToken))

	s.server = &http.Server{Addr: addr, Handler: mux}

	return s
}

// Handler exposes the routing table, used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully. App
// processes are not touched by a shutdown, they run detached and are
// adopted on the next start.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	s.logger.InfoContext(ctx, "api listening", "addr", s.server.Addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("api shutting down")
		return s.server.Shutdown(context.Background())
	}
}

type ctxKey int

const userKey ctxKey = 0

func userFrom(ctx context.Context) access.User {
	user, _ := ctx.Value(userKey).(access.User)
	return user
}

func (s *Server) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, ok := s.registry.Authenticate(token)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func (s *Server) admin(next http.HandlerFunc) http.Handler {
	return s.auth(func(w http.ResponseWriter, r *http.Request) {
		if !userFrom(r.Context()).Admin {
			respondError(w, http.StatusForbidden, "admin only")
			return
		}
		next(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// respondStageError includes which pipeline stage failed when the error
// carries one.
func respondStageError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	if stage, ok := launcher.StageOf(err); ok {
		resp.Stage = string(stage)
	}
	respondJSON(w, http.StatusInternalServerError, resp)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pyhost daemon is alive\n"))
}

// handleHealth reports whether the daemon can reach its own state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{"db": "ok", "data_dir": "ok"}
	status := http.StatusOK

	if err := s.db.PingContext(r.Context()); err != nil {
		health["db"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if _, err := os.Stat(s.manager.DataDir()); err != nil {
		health["data_dir"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, health)
}
