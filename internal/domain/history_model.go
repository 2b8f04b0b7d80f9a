package domain

import "time"

// FeedRun is the persisted summary of one ingestion cycle.
type FeedRun struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Reason        string     `gorm:"size:32" json:"reason"`
	StartedAt     time.Time  `gorm:"index" json:"started_at"`
	FinishedAt    time.Time  `json:"finished_at"`
	Sources       int        `json:"sources"`
	NewEntries    int64      `json:"new_entries"`
	Accepted      int64      `json:"accepted"`
	FailedSources StringList `gorm:"type:text" json:"failed_sources"`
}

// ReconcileRun is the persisted summary of one full reconciliation.
type ReconcileRun struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Reason          string    `gorm:"size:32" json:"reason"`
	StartedAt       time.Time `gorm:"index" json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Fetched         bool      `json:"fetched"`
	RefreshError    string    `gorm:"type:text" json:"refresh_error,omitempty"`
	DenylistEntries int64     `json:"blacklist_entries"`
	DenylistIPCount string    `gorm:"size:64" json:"blacklist_ip_count"`
	LocalPurged     int64     `json:"local_purged"`
	OSINTPurged     int64     `json:"osint_purged"`
	SentinelRemoved int64     `json:"sentinel_removed"`
}
