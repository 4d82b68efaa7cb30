package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/princesrivastav546-cell/pyhost/internal/access"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.ListUsers())
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := s.registry.AddUser(req.Name)
	if errors.Is(err, access.ErrUserExists) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.InfoContext(r.Context(), "user added", "user", req.Name)

	// The token is shown exactly once, only its hash is kept.
	respondJSON(w, http.StatusCreated, map[string]string{
		"name":  req.Name,
		"token": token,
	})
}

func (s *Server) handleResetToken(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	token, err := s.registry.ResetToken(name)
	if errors.Is(err, access.ErrUserUnknown) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.InfoContext(r.Context(), "token reset", "user", name)

	respondJSON(w, http.StatusOK, map[string]string{
		"name":  name,
		"token": token,
	})
}

func (s *Server) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	err := s.registry.RemoveUser(name)
	switch {
	case errors.Is(err, access.ErrAdminRemoval):
		respondError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, access.ErrUserUnknown):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.InfoContext(r.Context(), "user removed", "user", name)

	w.WriteHeader(http.StatusNoContent)
}
