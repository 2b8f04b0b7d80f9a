package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"tibridge/internal/denylist"
	"tibridge/internal/domain"
	"tibridge/internal/feeds"
)

const defaultHistoryRetention = 500

// History stores feed cycle and reconciliation summaries. It satisfies the
// history sinks of the feeds and denylist packages.
type History struct {
	db        *gorm.DB
	retention int
}

func NewHistory(db *gorm.DB) *History {
	return &History{db: db, retention: defaultHistoryRetention}
}

func (h *History) RecordFeedCycle(ctx context.Context, report feeds.CycleReport) error {
	run := domain.FeedRun{
		Reason:     report.Reason,
		StartedAt:  report.Started,
		FinishedAt: report.Finished,
		Sources:    len(report.Sources),
		NewEntries: report.New,
	}
	for _, src := range report.Sources {
		if src.Failed() {
			run.FailedSources = append(run.FailedSources, src.Name)
			continue
		}
		run.Accepted += int64(src.Accepted)
	}

	tx := h.db.WithContext(ctx)
	if err := tx.Create(&run).Error; err != nil {
		return fmt.Errorf("feed history: insert row: %w", err)
	}
	return prune(tx, &domain.FeedRun{}, h.retention)
}

func (h *History) RecordReconciliation(ctx context.Context, report denylist.ReconcileReport) error {
	run := domain.ReconcileRun{
		Reason:          report.Reason,
		StartedAt:       report.Started,
		FinishedAt:      report.Finished,
		RefreshError:    report.RefreshError,
		SentinelRemoved: report.SentinelRemoved,
	}
	if report.Refresh != nil {
		run.Fetched = report.Refresh.Fetched
		run.DenylistEntries = report.Refresh.Entries
		run.DenylistIPCount = report.Refresh.DenyIPCount
	}
	for _, ns := range report.Namespaces {
		switch ns.Source {
		case domain.SourceLocal:
			run.LocalPurged = ns.Purged
		case domain.SourceOSINT:
			run.OSINTPurged = ns.Purged
		}
	}

	tx := h.db.WithContext(ctx)
	if err := tx.Create(&run).Error; err != nil {
		return fmt.Errorf("reconcile history: insert row: %w", err)
	}
	return prune(tx, &domain.ReconcileRun{}, h.retention)
}

// RecentFeedRuns returns the newest feed cycles first.
func (h *History) RecentFeedRuns(ctx context.Context, limit int) ([]domain.FeedRun, error) {
	rows := make([]domain.FeedRun, 0, clampLimit(limit))
	err := h.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(clampLimit(limit)).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("feed history: list: %w", err)
	}
	return rows, nil
}

// RecentReconcileRuns returns the newest reconciliations first.
func (h *History) RecentReconcileRuns(ctx context.Context, limit int) ([]domain.ReconcileRun, error) {
	rows := make([]domain.ReconcileRun, 0, clampLimit(limit))
	err := h.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(clampLimit(limit)).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("reconcile history: list: %w", err)
	}
	return rows, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 24
	case limit > 200:
		return 200
	default:
		return limit
	}
}

// prune keeps the newest keep rows of model's table.
func prune(tx *gorm.DB, model any, keep int) error {
	if keep <= 0 {
		return nil
	}
	var ids []uint
	err := tx.Model(model).Order("id DESC").Offset(keep).Limit(1).Pluck("id", &ids).Error
	if err != nil {
		return fmt.Errorf("history: find prune cutoff: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("id <= ?", ids[0]).Delete(model).Error; err != nil {
		return fmt.Errorf("history: prune: %w", err)
	}
	return nil
}
