package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"tibridge/internal/apikeys"
	"tibridge/internal/auth"
	"tibridge/internal/counters"
	"tibridge/internal/denylist"
	"tibridge/internal/domain"
	"tibridge/internal/feeds"
	"tibridge/internal/geolite"
	"tibridge/internal/metrics"
	"tibridge/internal/observation"
	"tibridge/internal/reputation"
	"tibridge/internal/store"
)

const (
	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 1 << 20
)

// HistoryReader lists recent cycle reports. It is optional.
type HistoryReader interface {
	RecentFeedRuns(ctx context.Context, limit int) ([]domain.FeedRun, error)
	RecentReconcileRuns(ctx context.Context, limit int) ([]domain.ReconcileRun, error)
}

// Deps are the collaborators the handlers use. Redis, History and
// Countries may be nil.
type Deps struct {
	Store      store.Store
	Redis      *redis.Client
	Classifier *reputation.Classifier
	Recorder   *observation.Recorder
	Counters   *counters.Maintainer
	Denylist   *denylist.Manager
	Pipeline   *feeds.Pipeline
	APIKeys    *apikeys.Registry
	History    HistoryReader
	Countries  *geolite.Countries
}

type Server struct {
	deps Deps
	now  func() time.Time
}

func New(deps Deps) *Server {
	return &Server{deps: deps, now: time.Now}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// collapseSlashes rewrites "//" to "/" in the request path. Some honeypot
// integrations build URLs by plain concatenation.
func collapseSlashes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "//") {
			path := r.URL.Path
			for strings.Contains(path, "//") {
				path = strings.ReplaceAll(path, "//", "/")
			}
			r2 := r.Clone(r.Context())
			r2.URL.Path = path
			r2.URL.RawPath = ""
			r = r2
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("GET /v3/scene/ip_reputation", s.ipReputation)
	router.HandleFunc("POST /webhook", s.honeypotWebhook)
	router.HandleFunc("POST /login", loginAdmin)
	router.HandleFunc("GET /healthz", s.healthz)
	router.HandleFunc("GET /version", getVersion)
	router.Handle("GET /metrics", metrics.Handler())

	admin := func(pattern string, h http.HandlerFunc) {
		router.Handle(pattern, auth.IsAdmin(h))
	}
	admin("GET /admin/stats", s.getStats)
	admin("GET /admin/lists/{list}", s.getList)
	admin("POST /admin/lists/{list}", s.addToList)
	admin("DELETE /admin/lists/{list}", s.removeFromList)
	admin("GET /admin/api-keys", s.listAPIKeys)
	admin("POST /admin/api-keys", s.generateAPIKey)
	admin("DELETE /admin/api-keys/{key}", s.deleteAPIKey)
	admin("POST /admin/reconcile", s.runReconciliation)
	admin("POST /admin/feeds/run", s.runFeedCycle)
	admin("GET /admin/observations/{ip}", s.getObservation)
	admin("GET /admin/overlap", s.getOverlap)
	admin("GET /admin/history", s.getHistory)
	admin("GET /admin/settings", getSettings)
	admin("POST /admin/settings", saveSettings)

	return collapseSlashes(enableCORS(router))
}

// Serve listens on port until ctx is done, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting tibridge on port :%d", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	log.Info("API server stopped")
	return nil
}
