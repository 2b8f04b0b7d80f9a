package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"tibridge/internal/domain"
	"tibridge/internal/metrics"
	"tibridge/internal/observation"
)

const updateTimeLayout = "2006-01-02 15:04:05"

type reputationEntry struct {
	Severity   string   `json:"severity"`
	Judgments  []string `json:"judgments"`
	UpdateTime string   `json:"update_time"`
	Country    string   `json:"country,omitempty"`
}

type reputationResponse struct {
	Code    int                        `json:"code"`
	Data    map[string]reputationEntry `json:"data"`
	Message string                     `json:"message"`
}

type webhookPayload struct {
	AttackIP string `json:"attack_ip"`
}

// ipReputation answers in the ThreatBook v3 envelope so existing firewall
// integrations can point at this service unchanged.
func (s *Server) ipReputation(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	resource := strings.TrimSpace(query.Get("resource"))

	ok, err := s.deps.APIKeys.Valid(r.Context(), query.Get("apikey"))
	if err != nil {
		log.Error("API key lookup failed", "error", err)
		writeError(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		writeError(w, "Invalid API Key", http.StatusForbidden)
		return
	}
	if resource == "" {
		writeError(w, "resource is required", http.StatusBadRequest)
		return
	}

	verdict, err := s.deps.Classifier.Classify(r.Context(), resource)
	if err != nil {
		log.Error("Classification failed", "resource", resource, "error", err)
		writeError(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	metrics.IncVerdict(string(verdict.Severity))

	writeJSON(w, http.StatusOK, reputationResponse{
		Code: 0,
		Data: map[string]reputationEntry{
			resource: {
				Severity:   string(verdict.Severity),
				Judgments:  verdict.Judgments,
				UpdateTime: s.now().UTC().Format(updateTimeLayout),
				Country:    s.deps.Countries.Country(resource),
			},
		},
		Message: "success",
	})
}

func (s *Server) honeypotWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if !decodeJSON(w, r, &payload) {
		return
	}

	created, err := s.deps.Recorder.RecordLocal(r.Context(), payload.AttackIP)
	switch {
	case errors.Is(err, observation.ErrInvalidAddress):
		writeError(w, "attack_ip is not a valid address", http.StatusBadRequest)
		return
	case err != nil:
		log.Error("Failed to record honeypot capture", "address", payload.AttackIP, "error", err)
		writeError(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}

	if created {
		log.Debug("New honeypot capture", "address", payload.AttackIP)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "new": created})
}

type observationDetail struct {
	Address string              `json:"address"`
	Verdict domain.Verdict      `json:"verdict"`
	Country string              `json:"country,omitempty"`
	Local   *domain.Observation `json:"local"`
	OSINT   *domain.Observation `json:"osint"`
}

// getObservation shows what the store holds for one address next to the
// verdict it currently produces.
func (s *Server) getObservation(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("ip")
	ctx := r.Context()

	detail := observationDetail{Address: address, Country: s.deps.Countries.Country(address)}
	var err error
	if detail.Verdict, err = s.deps.Classifier.Classify(ctx, address); err == nil {
		if detail.Local, err = s.deps.Recorder.Load(ctx, domain.SourceLocal, address); err == nil {
			detail.OSINT, err = s.deps.Recorder.Load(ctx, domain.SourceOSINT, address)
		}
	}
	if err != nil {
		log.Error("Failed to load observation", "address", address, "error", err)
		writeError(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, detail)
}
