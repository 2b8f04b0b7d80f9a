// Package counters maintains the aggregate statistics kept next to the
// observation namespaces.
//
// Incremental totals move by one at observation creation or purge and are not
// reconciled against live keys, so natural TTL expiry makes them drift upward.
// List IP counts are recomputed from the list contents on every cycle.
package counters

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"tibridge/internal/domain"
	"tibridge/internal/matcher"
	"tibridge/internal/store"
)

const LocalWindow = 24 * time.Hour

type Maintainer struct {
	store store.Store
}

func New(s store.Store) *Maintainer {
	return &Maintainer{store: s}
}

// Stats is a point-in-time read of every counter.
type Stats struct {
	LocalTotal       int64  `json:"local_total"`
	OSINTTotal       int64  `json:"osint_total"`
	LocalNewInWindow int64  `json:"local_new_24h"`
	OSINTLastCycle   int64  `json:"osint_last_cycle"`
	AllowlistEntries int64  `json:"whitelist_entries"`
	DenylistEntries  int64  `json:"blacklist_entries"`
	AllowlistIPCount string `json:"whitelist_ip_count"`
	DenylistIPCount  string `json:"blacklist_ip_count"`
}

func totalKey(source domain.Source) string {
	if source == domain.SourceLocal {
		return store.KeyLocalTotal
	}
	return store.KeyOSINTTotal
}

// LocalCaptured accounts for a new local observation. The window counter is
// armed with an expiry only when it goes from absent to present; later
// increments leave the running expiry untouched.
func (m *Maintainer) LocalCaptured(ctx context.Context) error {
	if _, err := m.store.Increment(ctx, store.KeyLocalTotal); err != nil {
		return err
	}
	n, err := m.store.Increment(ctx, store.KeyLocalWindow)
	if err != nil {
		return err
	}
	if n == 1 {
		return m.store.Expire(ctx, store.KeyLocalWindow, LocalWindow)
	}
	return nil
}

// FeedCycleCompleted adds the cycle yield to the running OSINT total and
// records it as the latest cycle's yield.
func (m *Maintainer) FeedCycleCompleted(ctx context.Context, newEntries int64) error {
	if newEntries != 0 {
		if _, err := m.store.IncrementBy(ctx, store.KeyOSINTTotal, newEntries); err != nil {
			return err
		}
	}
	return m.store.Set(ctx, store.KeyOSINTLastCycle, strconv.FormatInt(newEntries, 10))
}

// Purged accounts for an observation removed by the purge pass.
func (m *Maintainer) Purged(ctx context.Context, source domain.Source) error {
	_, err := m.store.Decrement(ctx, totalKey(source))
	return err
}

// Resync overwrites a running total with a count taken from a full scan.
func (m *Maintainer) Resync(ctx context.Context, source domain.Source, live int64) error {
	return m.store.Set(ctx, totalKey(source), strconv.FormatInt(live, 10))
}

// RecomputeListCounts rebuilds the allow-list and deny-list address-space
// sizes from the current list contents.
func (m *Maintainer) RecomputeListCounts(ctx context.Context) (allow, deny *big.Int, err error) {
	allow, err = m.recomputeList(ctx, store.KeyAllowlist, store.KeyAllowlistIPCount)
	if err != nil {
		return nil, nil, err
	}
	deny, err = m.recomputeList(ctx, store.KeyDenylist, store.KeyDenylistIPCount)
	if err != nil {
		return nil, nil, err
	}
	return allow, deny, nil
}

func (m *Maintainer) recomputeList(ctx context.Context, listKey, countKey string) (*big.Int, error) {
	members, err := m.store.SetMembers(ctx, listKey)
	if err != nil {
		return nil, err
	}
	count := matcher.AddressCount(members)
	if err := m.store.Set(ctx, countKey, count.String()); err != nil {
		return nil, err
	}
	return count, nil
}

func (m *Maintainer) Snapshot(ctx context.Context) (Stats, error) {
	var stats Stats
	var err error

	ints := []struct {
		key string
		dst *int64
	}{
		{store.KeyLocalTotal, &stats.LocalTotal},
		{store.KeyOSINTTotal, &stats.OSINTTotal},
		{store.KeyLocalWindow, &stats.LocalNewInWindow},
		{store.KeyOSINTLastCycle, &stats.OSINTLastCycle},
	}
	for _, c := range ints {
		if *c.dst, err = m.readInt(ctx, c.key); err != nil {
			return Stats{}, err
		}
	}

	if stats.AllowlistEntries, err = m.store.SetCard(ctx, store.KeyAllowlist); err != nil {
		return Stats{}, err
	}
	if stats.DenylistEntries, err = m.store.SetCard(ctx, store.KeyDenylist); err != nil {
		return Stats{}, err
	}
	if stats.AllowlistIPCount, err = m.readString(ctx, store.KeyAllowlistIPCount); err != nil {
		return Stats{}, err
	}
	if stats.DenylistIPCount, err = m.readString(ctx, store.KeyDenylistIPCount); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (m *Maintainer) readInt(ctx context.Context, key string) (int64, error) {
	raw, found, err := m.store.Get(ctx, key)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s holds %q: %w", key, raw, err)
	}
	return n, nil
}

func (m *Maintainer) readString(ctx context.Context, key string) (string, error) {
	raw, found, err := m.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !found {
		return "0", nil
	}
	return raw, nil
}
