// Package denylist keeps the deny-list set in sync with a remote document
// plus a local override file, and purges observations of addresses that
// became deny-listed.
package denylist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"tibridge/internal/config"
	"tibridge/internal/counters"
	"tibridge/internal/metrics"
	"tibridge/internal/store"
)

const maxDocumentBytes = 64 << 20

var (
	// ErrRefreshAbandoned marks a refresh that kept the previous deny-list
	// because the remote document could not be used.
	ErrRefreshAbandoned = errors.New("deny-list refresh abandoned")
	ErrHostBlocked      = errors.New("deny-list host is blocked")
)

// RefreshOutcome describes one deny-list rebuild.
type RefreshOutcome struct {
	Reason          string    `json:"reason"`
	Fetched         bool      `json:"fetched"`
	BaseEntries     int       `json:"base_entries"`
	OverrideEntries int       `json:"override_entries"`
	Skipped         int       `json:"skipped"`
	Entries         int64     `json:"entries"`
	AllowIPCount    string    `json:"whitelist_ip_count"`
	DenyIPCount     string    `json:"blacklist_ip_count"`
	At              time.Time `json:"at"`
}

// HistorySink persists reconciliation reports. It is optional.
type HistorySink interface {
	RecordReconciliation(ctx context.Context, report ReconcileReport) error
}

type Manager struct {
	store    store.Store
	counters *counters.Maintainer
	client   *http.Client
	config   func() config.Config
	history  HistorySink
	group    singleflight.Group

	overrideMu sync.Mutex
}

type Option func(*Manager)

// WithConfig overrides the settings source, mainly for tests.
func WithConfig(fn func() config.Config) Option {
	return func(m *Manager) { m.config = fn }
}

func WithHistory(h HistorySink) Option {
	return func(m *Manager) { m.history = h }
}

func NewManager(s store.Store, c *counters.Maintainer, client *http.Client, opts ...Option) *Manager {
	if client == nil {
		client = http.DefaultClient
	}
	m := &Manager{
		store:    s,
		counters: c,
		client:   client,
		config:   config.GetConfig,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh fetches the remote document and rebuilds the deny-list from the
// base and override files. Concurrent callers share one rebuild. When the
// remote document is unusable the previous list is kept and the returned
// error wraps ErrRefreshAbandoned.
func (m *Manager) Refresh(ctx context.Context, reason string) (*RefreshOutcome, error) {
	result, err, shared := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx, reason)
	})
	if shared {
		log.Debug("Deny-list refresh joined an in-flight rebuild", "reason", reason)
	}
	if err != nil {
		return nil, err
	}
	return result.(*RefreshOutcome), nil
}

func (m *Manager) refresh(ctx context.Context, reason string) (*RefreshOutcome, error) {
	cfg := m.config()
	outcome := &RefreshOutcome{Reason: reason}

	if url := strings.TrimSpace(cfg.Denylist.RemoteURL); url != "" {
		body, err := m.fetch(ctx, cfg, url)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrRefreshAbandoned, err)
		}
		if err := writeFileAtomic(cfg.Denylist.BasePath, body); err != nil {
			return nil, fmt.Errorf("persist base document: %w", err)
		}
		outcome.Fetched = true
	}

	deny, err := m.rebuild(ctx, cfg, outcome)
	if err != nil {
		return nil, err
	}
	outcome.At = time.Now().UTC()

	metrics.SetDenylistEntries(int(outcome.Entries), outcome.At)
	log.Info("Deny-list rebuilt",
		"reason", reason,
		"fetched", outcome.Fetched,
		"entries", humanize.Comma(outcome.Entries),
		"skipped", outcome.Skipped,
		"ip_count", humanize.BigComma(deny),
	)
	return outcome, nil
}

// rebuild replaces the live set with base plus override. It holds overrideMu
// so an override edit cannot land between the file read and the swap.
func (m *Manager) rebuild(ctx context.Context, cfg config.Config, outcome *RefreshOutcome) (*big.Int, error) {
	m.overrideMu.Lock()
	defer m.overrideMu.Unlock()

	base, skippedBase, err := loadFile(cfg.Denylist.BasePath)
	if err != nil {
		return nil, fmt.Errorf("read base document: %w", err)
	}
	override, skippedOverride, err := loadFile(cfg.Denylist.OverridePath)
	if err != nil {
		return nil, fmt.Errorf("read override document: %w", err)
	}

	entries := make([]string, 0, len(base)+len(override))
	entries = append(entries, base...)
	entries = append(entries, override...)

	if err := m.store.ReplaceSet(ctx, store.KeyDenylist, entries); err != nil {
		return nil, err
	}
	allow, deny, err := m.counters.RecomputeListCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("recompute list counts: %w", err)
	}
	size, err := m.store.SetCard(ctx, store.KeyDenylist)
	if err != nil {
		return nil, err
	}

	outcome.BaseEntries = len(base)
	outcome.OverrideEntries = len(override)
	outcome.Skipped = skippedBase + skippedOverride
	outcome.Entries = size
	outcome.AllowIPCount = allow.String()
	outcome.DenyIPCount = deny.String()
	return deny, nil
}

func (m *Manager) fetch(ctx context.Context, cfg config.Config, url string) ([]byte, error) {
	if config.IsHostBlocked(url) {
		metrics.IncDenylistFailure("blocked")
		return nil, fmt.Errorf("%w: %s", ErrHostBlocked, url)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, cfg.DenylistFetchTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		metrics.IncDenylistFailure("request")
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		metrics.IncDenylistFailure("network")
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.IncDenylistFailure("status")
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		metrics.IncDenylistFailure("network")
		return nil, fmt.Errorf("read response: %w", err)
	}
	if minBytes := cfg.DenylistMinContentBytes(); len(body) < minBytes {
		metrics.IncDenylistFailure("too_short")
		return nil, fmt.Errorf("document has %d bytes, want at least %d", len(body), minBytes)
	}
	return body, nil
}
