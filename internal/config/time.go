package config

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultFeedInterval             = 24 * time.Hour
	defaultDenylistRefreshInterval  = 10 * time.Minute
	defaultReconciliationInterval   = time.Hour
	defaultFeedTimeout              = 10 * time.Second
	defaultDenylistFetchTimeout     = 30 * time.Second
	defaultReconcilerPageSize       = 500
	defaultDenylistMinContentLength = 100

	// SentinelAddress is removed from both observation namespaces on every
	// reconciliation, whatever the settings list.
	SentinelAddress = "::1"
)

// interval holds a job cadence and the listeners that want to hear about
// changes to it.
type interval struct {
	value     atomic.Value
	fallback  time.Duration
	listeners []chan time.Duration
	mu        sync.Mutex
}

func newInterval(fallback time.Duration) *interval {
	iv := &interval{fallback: fallback}
	iv.value.Store(fallback)
	return iv
}

func (iv *interval) get() time.Duration {
	return iv.value.Load().(time.Duration)
}

func (iv *interval) set(d time.Duration) {
	if d <= 0 {
		d = iv.fallback
	}
	if iv.get() == d {
		return
	}
	iv.value.Store(d)

	iv.mu.Lock()
	defer iv.mu.Unlock()
	for _, ch := range iv.listeners {
		select {
		case ch <- d:
		default:
		}
	}
}

func (iv *interval) updates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	iv.mu.Lock()
	iv.listeners = append(iv.listeners, ch)
	iv.mu.Unlock()

	ch <- iv.get()
	return ch
}

var (
	feedInterval            = newInterval(defaultFeedInterval)
	denylistRefreshInterval = newInterval(defaultDenylistRefreshInterval)
	reconciliationInterval  = newInterval(defaultReconciliationInterval)
)

func applyIntervals(cfg Config) {
	feedInterval.set(timerOrDefault(cfg.Feeds.Timer, defaultFeedInterval))
	denylistRefreshInterval.set(timerOrDefault(cfg.Denylist.RefreshTimer, defaultDenylistRefreshInterval))
	reconciliationInterval.set(timerOrDefault(cfg.Denylist.ReconcileTimer, defaultReconciliationInterval))
}

// CalculateBetweenTime converts a Timer to a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMilliseconds(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMilliseconds(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func timerOrDefault(timer Timer, fallback time.Duration) time.Duration {
	if timer.Days == 0 && timer.Hours == 0 && timer.Minutes == 0 && timer.Seconds == 0 {
		return fallback
	}
	return CalculateBetweenTime(timer)
}

func GetFeedInterval() time.Duration {
	return feedInterval.get()
}

func FeedIntervalUpdates() <-chan time.Duration {
	return feedInterval.updates()
}

func GetDenylistRefreshInterval() time.Duration {
	return denylistRefreshInterval.get()
}

func DenylistRefreshIntervalUpdates() <-chan time.Duration {
	return denylistRefreshInterval.updates()
}

func GetReconciliationInterval() time.Duration {
	return reconciliationInterval.get()
}

func ReconciliationIntervalUpdates() <-chan time.Duration {
	return reconciliationInterval.updates()
}

// FetchTimeout returns the per-request timeout of a feed source.
func (f FeedSource) FetchTimeout() time.Duration {
	if f.Timeout == 0 {
		return defaultFeedTimeout
	}
	return time.Duration(f.Timeout) * time.Second
}

func (c Config) DenylistFetchTimeout() time.Duration {
	if c.Denylist.FetchTimeout == 0 {
		return defaultDenylistFetchTimeout
	}
	return time.Duration(c.Denylist.FetchTimeout) * time.Second
}

func (c Config) DenylistMinContentBytes() int {
	if c.Denylist.MinContentBytes <= 0 {
		return defaultDenylistMinContentLength
	}
	return c.Denylist.MinContentBytes
}

func (c Config) ReconcilerPageSize() int64 {
	if c.Reconciler.PageSize <= 0 {
		return defaultReconcilerPageSize
	}
	return c.Reconciler.PageSize
}

func (c Config) ReconcilerPagePause() time.Duration {
	return time.Duration(c.Reconciler.PagePauseMillis) * time.Millisecond
}

// SentinelAddresses returns the configured sentinels with SentinelAddress
// always first and duplicates dropped.
func (c Config) SentinelAddresses() []string {
	out := []string{SentinelAddress}
	seen := map[string]struct{}{SentinelAddress: {}}
	for _, address := range c.Reconciler.SentinelAddresses {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		if _, dup := seen[address]; dup {
			continue
		}
		seen[address] = struct{}{}
		out = append(out, address)
	}
	return out
}
