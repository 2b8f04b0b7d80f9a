package runtime

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"tibridge/internal/config"
	"tibridge/internal/denylist"
	"tibridge/internal/feeds"
)

const (
	FeedLockKey            = "ti:leader:feeds"
	DenylistRefreshLockKey = "ti:leader:denylist_refresh"
	ReconciliationLockKey  = "ti:leader:reconcile"
)

// FeedTask ingests every configured feed once per feed interval, starting
// right away.
func FeedTask(pipeline *feeds.Pipeline) Task {
	return Task{
		Name:     "feed_ingest",
		LockKey:  FeedLockKey,
		Start:    RunImmediately,
		Interval: config.GetFeedInterval,
		Updates:  config.FeedIntervalUpdates,
		Run: func(ctx context.Context, reason string) error {
			_, err := pipeline.RunCycle(ctx, reason)
			return err
		},
	}
}

// DenylistRefreshTask rebuilds the permanent deny-list. An abandoned refresh
// keeps the previous list and is not a task failure.
func DenylistRefreshTask(manager *denylist.Manager) Task {
	return Task{
		Name:     "denylist_refresh",
		LockKey:  DenylistRefreshLockKey,
		Start:    RunImmediately,
		Interval: config.GetDenylistRefreshInterval,
		Updates:  config.DenylistRefreshIntervalUpdates,
		Run: func(ctx context.Context, reason string) error {
			_, err := manager.Refresh(ctx, reason)
			if errors.Is(err, denylist.ErrRefreshAbandoned) {
				log.Warn("Deny-list refresh abandoned, keeping current list", "reason", reason, "error", err)
				return nil
			}
			return err
		},
	}
}

// ReconciliationTask refreshes the deny-list and purges the observations it
// covers. The first pass waits one interval after startup.
func ReconciliationTask(manager *denylist.Manager) Task {
	return Task{
		Name:     "reconciliation",
		LockKey:  ReconciliationLockKey,
		Start:    RunAfterInterval,
		Interval: config.GetReconciliationInterval,
		Updates:  config.ReconciliationIntervalUpdates,
		Run: func(ctx context.Context, reason string) error {
			_, err := manager.Reconcile(ctx, reason)
			return err
		},
	}
}
