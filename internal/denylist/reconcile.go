package denylist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"tibridge/internal/config"
	"tibridge/internal/domain"
	"tibridge/internal/matcher"
	"tibridge/internal/metrics"
	"tibridge/internal/observation"
	"tibridge/internal/store"
)

// NamespaceResult counts one observation namespace during a purge pass.
type NamespaceResult struct {
	Source  domain.Source `json:"source"`
	Scanned int64         `json:"scanned"`
	Purged  int64         `json:"purged"`
	Pages   int           `json:"pages"`
}

// ReconcileReport describes one full reconciliation.
type ReconcileReport struct {
	Reason          string            `json:"reason"`
	Started         time.Time         `json:"started"`
	Finished        time.Time         `json:"finished"`
	Refresh         *RefreshOutcome   `json:"refresh,omitempty"`
	RefreshError    string            `json:"refresh_error,omitempty"`
	SentinelRemoved int64             `json:"sentinel_removed"`
	Namespaces      []NamespaceResult `json:"namespaces"`
}

// Purged sums purged observations over all namespaces.
func (r ReconcileReport) Purged() int64 {
	var n int64
	for _, ns := range r.Namespaces {
		n += ns.Purged
	}
	return n
}

// Reconcile refreshes the deny-list, removes the sentinel addresses, then
// walks both observation namespaces page by page and deletes every
// observation whose address the rebuilt deny-list matches. An abandoned
// refresh keeps the previous list and the purge still runs against it.
func (m *Manager) Reconcile(ctx context.Context, reason string) (ReconcileReport, error) {
	cfg := m.config()
	report := ReconcileReport{Reason: reason, Started: time.Now().UTC()}

	outcome, err := m.Refresh(ctx, reason)
	switch {
	case errors.Is(err, ErrRefreshAbandoned):
		report.RefreshError = err.Error()
		log.Warn("Deny-list refresh abandoned, keeping previous list", "reason", reason, "error", err)
		if _, _, err := m.counters.RecomputeListCounts(ctx); err != nil {
			return report, fmt.Errorf("recompute list counts: %w", err)
		}
	case err != nil:
		return report, err
	default:
		report.Refresh = outcome
	}

	removed, err := m.removeSentinels(ctx, cfg.SentinelAddresses())
	if err != nil {
		return report, err
	}
	report.SentinelRemoved = removed

	members, err := m.store.SetMembers(ctx, store.KeyDenylist)
	if err != nil {
		return report, err
	}
	deny := matcher.NewSet(members)

	for _, source := range []domain.Source{domain.SourceLocal, domain.SourceOSINT} {
		res, err := m.purgeNamespace(ctx, cfg, source, deny)
		report.Namespaces = append(report.Namespaces, res)
		if err != nil {
			return report, err
		}
	}

	report.Finished = time.Now().UTC()
	if m.history != nil {
		if err := m.history.RecordReconciliation(ctx, report); err != nil {
			log.Warn("Failed to record reconciliation history", "error", err)
		}
	}

	log.Info("Reconciliation completed",
		"reason", reason,
		"purged", humanize.Comma(report.Purged()),
		"sentinel_removed", report.SentinelRemoved,
		"took", report.Finished.Sub(report.Started).Round(time.Millisecond),
	)
	return report, nil
}

// removeSentinels deletes the sentinel addresses from both namespaces. The
// running total is decremented only for keys that existed.
func (m *Manager) removeSentinels(ctx context.Context, sentinels []string) (int64, error) {
	var removed int64
	for _, address := range sentinels {
		for _, source := range []domain.Source{domain.SourceLocal, domain.SourceOSINT} {
			n, err := m.store.Delete(ctx, observation.Key(source, address))
			if err != nil {
				return removed, err
			}
			if n == 0 {
				continue
			}
			removed += n
			if err := m.counters.Purged(ctx, source); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

func (m *Manager) purgeNamespace(ctx context.Context, cfg config.Config, source domain.Source, deny *matcher.Set) (NamespaceResult, error) {
	res := NamespaceResult{Source: source}
	prefix := store.KeyLocalPrefix
	if source == domain.SourceOSINT {
		prefix = store.KeyOSINTPrefix
	}

	pageSize := cfg.ReconcilerPageSize()
	pause := cfg.ReconcilerPagePause()

	// SCAN may return a key more than once; live counting for resync
	// needs exact numbers.
	var seen map[string]struct{}
	if cfg.Reconciler.ResyncTotals {
		seen = make(map[string]struct{})
	}
	var live int64

	var cursor uint64
	for {
		next, keys, err := m.store.Scan(ctx, prefix, cursor, pageSize)
		if err != nil {
			return res, err
		}
		res.Pages++

		for _, key := range keys {
			res.Scanned++
			address := strings.TrimPrefix(key, prefix)

			if deny.Contains(address) {
				n, err := m.store.Delete(ctx, key)
				if err != nil {
					return res, err
				}
				if n > 0 {
					res.Purged++
					if err := m.counters.Purged(ctx, source); err != nil {
						return res, err
					}
				}
				continue
			}

			if seen != nil {
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					live++
				}
			}
		}

		if next == 0 {
			break
		}
		cursor = next

		if err := yield(ctx, pause); err != nil {
			return res, err
		}
	}

	metrics.AddPurged(string(source), int(res.Purged))

	if seen != nil {
		if err := m.counters.Resync(ctx, source, live); err != nil {
			return res, err
		}
		log.Debug("Observation total resynchronized", "source", source, "live", live)
	}
	return res, nil
}

// yield gives the classifier and the other jobs room between scan pages.
func yield(ctx context.Context, pause time.Duration) error {
	if pause <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
