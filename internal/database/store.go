// Package database provides storage backends for the scheduling core.
package database

import (
	"errors"
	"time"

	"dripfeed/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Source operations
	CreateSource(src *model.ContentSource) (int64, error)
	GetSource(sourceID int64) (*model.ContentSource, error)
	GetSources(topicID int64) ([]model.ContentSource, error)
	SetSourceActive(sourceID int64, active bool) error
	// MarkPollStarted records that a poll attempt began; the outcome is
	// unknown until RecordPollSuccess or RecordPollFailure is called.
	MarkPollStarted(sourceID int64, at time.Time) error
	RecordPollSuccess(sourceID int64, at time.Time, articles int64) error
	RecordPollFailure(sourceID int64, at time.Time) error

	// Drip configuration
	GetDripConfig(topicID int64) (*model.TopicDripConfig, error)
	SaveDripConfig(cfg model.TopicDripConfig) error
	DripEnabledTopics() ([]int64, error)

	// Queue operations
	EnqueueItem(item *model.QueuedItem) (int64, error)
	QueuedItems(topicID int64) ([]model.QueuedItem, error)
	// UnscheduledItems returns unpublished items with no slot assigned,
	// ordered by (ready_at, id).
	UnscheduledItems(topicID int64) ([]model.QueuedItem, error)
	// AssignPublishTime sets the release slot for an item only if no slot
	// is assigned yet. Returns false when a concurrent run already
	// claimed the item.
	AssignPublishTime(itemID int64, at time.Time) (bool, error)
	// ReleaseAllNow moves every still-pending item of the topic to an
	// immediate slot in a single statement. Returns rows actually updated.
	ReleaseAllNow(topicID int64, now time.Time) (int64, error)
	// MarkPublishedDue stamps published_at on items whose slot has passed.
	MarkPublishedDue(now time.Time) (int64, error)

	// WeeklyItemCounts returns how many items became ready in the trailing
	// week and in the week before that.
	WeeklyItemCounts(topicID int64, now time.Time) (thisWeek, lastWeek int, err error)
}
