package server

import (
	"context"
	"net/http"
	"time"

	"tibridge/internal/app/version"
	"tibridge/internal/auth"
	"tibridge/internal/config"
	"tibridge/internal/feeds"
)

type credentials struct {
	Password string `json:"password"`
}

func getVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func loginAdmin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if !decodeJSON(w, r, &creds) {
		return
	}

	if !auth.CheckAdminPassword(creds.Password) {
		writeError(w, "Invalid password", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT("admin", auth.RoleAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, config.GetConfig())
}

func saveSettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config
	if !decodeJSON(w, r, &newConfig) {
		return
	}

	for _, src := range newConfig.Feeds.Sources {
		if err := feeds.SourceFromSetting(src).Validate(); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	newConfig.BlockedHosts = config.NormalizeBlockedHosts(newConfig.BlockedHosts)

	if err := config.SetConfig(newConfig); err != nil {
		writeError(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "Settings saved",
		"blocked_sources": config.BlockedSources(newConfig.Feeds.Sources, newConfig.BlockedHosts),
	})
}
