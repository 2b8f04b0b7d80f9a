package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"tibridge/internal/config"
	"tibridge/internal/counters"
	"tibridge/internal/denylist"
	jobruntime "tibridge/internal/jobs/runtime"
	"tibridge/internal/matcher"
	"tibridge/internal/store"
)

const (
	listAllow = "whitelist"
	listDeny  = "blacklist"
)

type listEntries struct {
	Entries []string `json:"entries"`
}

type statsResponse struct {
	counters.Stats
	AllowlistIPCountHuman string `json:"whitelist_ip_count_human"`
	DenylistIPCountHuman  string `json:"blacklist_ip_count_human"`
	ActiveInstances       int    `json:"active_instances"`
	GeoLiteAvailable      bool   `json:"geolite_available"`
}

func listKey(name string) (string, bool) {
	switch strings.ToLower(name) {
	case listAllow, "allowlist":
		return store.KeyAllowlist, true
	case listDeny, "denylist":
		return store.KeyDenylist, true
	}
	return "", false
}

func humanBig(raw string) string {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return humanize.BigComma(n)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Counters.Snapshot(r.Context())
	if err != nil {
		log.Error("Failed to read counters", "error", err)
		writeError(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := statsResponse{
		Stats:                 stats,
		AllowlistIPCountHuman: humanBig(stats.AllowlistIPCount),
		DenylistIPCountHuman:  humanBig(stats.DenylistIPCount),
		GeoLiteAvailable:      s.deps.Countries.Available(),
	}
	if s.deps.Redis != nil {
		if n, err := jobruntime.CountActiveInstances(r.Context(), s.deps.Redis); err != nil {
			log.Warn("Failed to count active instances", "error", err)
		} else {
			resp.ActiveInstances = n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getList(w http.ResponseWriter, r *http.Request) {
	key, ok := listKey(r.PathValue("list"))
	if !ok {
		writeError(w, "Unknown list", http.StatusNotFound)
		return
	}

	members, err := s.deps.Store.SetMembers(r.Context(), key)
	if err != nil {
		writeError(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	sort.Strings(members)

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":  members,
		"ip_count": humanize.BigComma(matcher.AddressCount(members)),
	})
}

func (s *Server) addToList(w http.ResponseWriter, r *http.Request) {
	s.editList(w, r, true)
}

func (s *Server) removeFromList(w http.ResponseWriter, r *http.Request) {
	s.editList(w, r, false)
}

// editList changes one list. Deny-list edits go through the override file
// so they survive the next rebuild; allow-list edits only touch the set.
func (s *Server) editList(w http.ResponseWriter, r *http.Request, add bool) {
	key, ok := listKey(r.PathValue("list"))
	if !ok {
		writeError(w, "Unknown list", http.StatusNotFound)
		return
	}

	var body listEntries
	if !decodeJSON(w, r, &body) {
		return
	}
	entries := make([]string, 0, len(body.Entries))
	for _, entry := range body.Entries {
		entry = strings.TrimSpace(entry)
		if !matcher.IsValidEntry(entry) {
			writeError(w, "Invalid entry: "+entry, http.StatusBadRequest)
			return
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		writeError(w, "No entries given", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var (
		changed     int64
		fileChanged int64
		edit        denylist.OverrideChange
		err         error
	)
	switch {
	case key == store.KeyDenylist && add:
		edit, err = s.deps.Denylist.AddOverride(ctx, entries...)
		changed, fileChanged = edit.SetMembers, int64(edit.FileLines)
	case key == store.KeyDenylist:
		edit, err = s.deps.Denylist.RemoveOverride(ctx, entries...)
		changed, fileChanged = edit.SetMembers, int64(edit.FileLines)
	case add:
		if changed, err = s.deps.Store.SetAdd(ctx, key, entries...); err == nil {
			_, _, err = s.deps.Counters.RecomputeListCounts(ctx)
		}
	default:
		if changed, err = s.deps.Store.SetRemove(ctx, key, entries...); err == nil {
			_, _, err = s.deps.Counters.RecomputeListCounts(ctx)
		}
	}
	if errors.Is(err, denylist.ErrInvalidEntry) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error("Failed to update list", "list", r.PathValue("list"), "error", err)
		writeError(w, "Failed to update list", http.StatusInternalServerError)
		return
	}

	resp := map[string]int64{"changed": changed}
	if key == store.KeyDenylist {
		resp["override_changed"] = fileChanged
	}
	writeJSON(w, http.StatusOK, resp)
}

// runReconciliation runs a full pass detached from the request so a client
// disconnect does not abort a half-done purge.
func (s *Server) runReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Denylist.Reconcile(context.WithoutCancel(r.Context()), "manual")
	if err != nil {
		log.Error("Manual reconciliation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) runFeedCycle(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Pipeline.RunCycle(context.WithoutCancel(r.Context()), "manual")
	if err != nil {
		log.Error("Manual feed cycle failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) getOverlap(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Counters.Overlap(r.Context(), config.GetConfig().ReconcilerPageSize())
	if err != nil {
		log.Error("Overlap scan failed", "error", err)
		writeError(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, "History is disabled", http.StatusNotFound)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	g, ctx := errgroup.WithContext(r.Context())
	var resp struct {
		Feeds          any `json:"feeds"`
		Reconciliation any `json:"reconciliation"`
	}
	g.Go(func() error {
		rows, err := s.deps.History.RecentFeedRuns(ctx, limit)
		resp.Feeds = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.deps.History.RecentReconcileRuns(ctx, limit)
		resp.Reconciliation = rows
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error("Failed to read history", "error", err)
		writeError(w, "Failed to read history", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
