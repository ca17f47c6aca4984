// Package model defines shared data structures.
package model

import "time"

// ContentSource represents one upstream source a topic ingests from.
// Sources are never hard-deleted, only deactivated.
type ContentSource struct {
	ID                  int64
	TopicID             int64
	Name                string
	FeedURL             string
	CooldownHours       float64
	LastPolledAt        *time.Time // nil if never polled
	LastPollOK          bool       // outcome of the most recent poll attempt
	ConsecutiveFailures int
	IsActive            bool
	IsCritical          bool
	ArticlesScraped     int64
	CreatedAt           time.Time
}

// TopicDripConfig controls how a topic's approved backlog is released.
// One per topic; all hours are UTC hour-of-day integers.
type TopicDripConfig struct {
	TopicID              int64 `json:"topic_id"`
	Enabled              bool  `json:"enabled"`
	ReleaseIntervalHours int   `json:"release_interval_hours"`
	ItemsPerRelease      int   `json:"items_per_release"`
	ActiveStartHour      int   `json:"active_start_hour"`
	ActiveEndHour        int   `json:"active_end_hour"`
}

// QueuedItem is one approved piece of content awaiting release.
type QueuedItem struct {
	ID                 int64
	TopicID            int64
	Title              string
	ReadyAt            time.Time
	ScheduledPublishAt *time.Time // set by the drip scheduler
	PublishedAt        *time.Time // set once actually released
}

// Scheduled reports whether the item has a release slot assigned.
func (q QueuedItem) Scheduled() bool { return q.ScheduledPublishAt != nil }

// Published reports whether the item has been released to readers.
func (q QueuedItem) Published() bool { return q.PublishedAt != nil }

// HealthStatus is the tri-state topic health classification.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
)

// HealthSnapshot is derived on demand and never persisted.
type HealthSnapshot struct {
	Status HealthStatus `json:"status"`
	Issues []string     `json:"issues"`
}

// SourceStatus is the per-source state reported by the progress monitor.
type SourceStatus string

const (
	SourcePending    SourceStatus = "pending"
	SourceProcessing SourceStatus = "processing"
	SourceCompleted  SourceStatus = "completed"
	SourceFailed     SourceStatus = "failed"
)
