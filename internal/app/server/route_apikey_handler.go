package server

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"tibridge/internal/apikeys"
)

type apiKeyRequest struct {
	Name string `json:"name"`
}

func (s *Server) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.deps.APIKeys.List(r.Context())
	if err != nil {
		writeError(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) generateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key, err := s.deps.APIKeys.Generate(r.Context(), req.Name)
	if errors.Is(err, apikeys.ErrEmptyName) {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error("Failed to generate API key", "error", err)
		writeError(w, "Failed to generate API key", http.StatusInternalServerError)
		return
	}

	log.Info("API key generated", "name", key.Name)
	writeJSON(w, http.StatusCreated, key)
}

func (s *Server) deleteAPIKey(w http.ResponseWriter, r *http.Request) {
	removed, err := s.deps.APIKeys.Delete(r.Context(), r.PathValue("key"))
	if err != nil {
		writeError(w, "Failed to delete API key", http.StatusInternalServerError)
		return
	}
	if !removed {
		writeError(w, "API key not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "API key deleted"})
}
