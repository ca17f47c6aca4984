package database

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"dripfeed/internal/model"
)

// DB implements Store on top of database/sql. The statement builder is
// configured per backend (question-mark vs dollar placeholders), so all
// queries below are shared between SQLite and PostgreSQL.
type DB struct {
	conn     *sql.DB
	sb       sq.StatementBuilderType
	typ      string
	postgres bool
}

var _ Store = (*DB)(nil)

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return db.typ
}

// --- Source Methods ---

const sourceColumns = "id, topic_id, name, feed_url, cooldown_hours, last_polled_at, last_poll_ok, consecutive_failures, is_active, is_critical, articles_scraped, created_at"

// CreateSource inserts a new source. Returns the ID.
func (db *DB) CreateSource(src *model.ContentSource) (int64, error) {
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	q := db.sb.Insert("sources").
		Columns("topic_id", "name", "feed_url", "cooldown_hours", "is_active", "is_critical", "created_at").
		Values(src.TopicID, src.Name, src.FeedURL, src.CooldownHours, src.IsActive, src.IsCritical, src.CreatedAt)
	id, err := db.insertID(q)
	if err != nil {
		return 0, fmt.Errorf("create source: %w", err)
	}
	src.ID = id
	return id, nil
}

// GetSource returns a single source by ID.
func (db *DB) GetSource(sourceID int64) (*model.ContentSource, error) {
	query, args, err := db.sb.Select(sourceColumns).From("sources").Where(sq.Eq{"id": sourceID}).ToSql()
	if err != nil {
		return nil, err
	}
	src, err := scanSource(db.conn.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source %d: %w", sourceID, err)
	}
	return src, nil
}

// GetSources returns all sources for a topic, active or not, ordered by ID.
func (db *DB) GetSources(topicID int64) ([]model.ContentSource, error) {
	query, args, err := db.sb.Select(sourceColumns).From("sources").
		Where(sq.Eq{"topic_id": topicID}).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get sources: %w", err)
	}
	defer rows.Close()

	var sources []model.ContentSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// SetSourceActive toggles the active flag; sources are never deleted.
func (db *DB) SetSourceActive(sourceID int64, active bool) error {
	return db.execOne(db.sb.Update("sources").Set("is_active", active).Where(sq.Eq{"id": sourceID}))
}

// MarkPollStarted records the start of a poll attempt.
func (db *DB) MarkPollStarted(sourceID int64, at time.Time) error {
	return db.execOne(db.sb.Update("sources").
		Set("last_polled_at", at.UTC()).
		Set("last_poll_ok", false).
		Where(sq.Eq{"id": sourceID}))
}

// RecordPollSuccess clears the failure streak and bumps the scrape counter.
func (db *DB) RecordPollSuccess(sourceID int64, at time.Time, articles int64) error {
	return db.execOne(db.sb.Update("sources").
		Set("last_polled_at", at.UTC()).
		Set("last_poll_ok", true).
		Set("consecutive_failures", 0).
		Set("articles_scraped", sq.Expr("articles_scraped + ?", articles)).
		Where(sq.Eq{"id": sourceID}))
}

// RecordPollFailure increments the failure streak. A failing poll is
// aggregated into health signals, never surfaced as a run error.
func (db *DB) RecordPollFailure(sourceID int64, at time.Time) error {
	return db.execOne(db.sb.Update("sources").
		Set("last_polled_at", at.UTC()).
		Set("last_poll_ok", false).
		Set("consecutive_failures", sq.Expr("consecutive_failures + 1")).
		Where(sq.Eq{"id": sourceID}))
}

// --- Drip Config Methods ---

// GetDripConfig returns the drip configuration for a topic.
func (db *DB) GetDripConfig(topicID int64) (*model.TopicDripConfig, error) {
	query, args, err := db.sb.
		Select("topic_id", "enabled", "release_interval_hours", "items_per_release", "active_start_hour", "active_end_hour").
		From("drip_configs").Where(sq.Eq{"topic_id": topicID}).ToSql()
	if err != nil {
		return nil, err
	}
	var cfg model.TopicDripConfig
	err = db.conn.QueryRow(query, args...).Scan(
		&cfg.TopicID, &cfg.Enabled, &cfg.ReleaseIntervalHours, &cfg.ItemsPerRelease,
		&cfg.ActiveStartHour, &cfg.ActiveEndHour)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get drip config %d: %w", topicID, err)
	}
	return &cfg, nil
}

// SaveDripConfig upserts the drip configuration for a topic.
func (db *DB) SaveDripConfig(cfg model.TopicDripConfig) error {
	query, args, err := db.sb.Insert("drip_configs").
		Columns("topic_id", "enabled", "release_interval_hours", "items_per_release", "active_start_hour", "active_end_hour").
		Values(cfg.TopicID, cfg.Enabled, cfg.ReleaseIntervalHours, cfg.ItemsPerRelease, cfg.ActiveStartHour, cfg.ActiveEndHour).
		Suffix(`ON CONFLICT (topic_id) DO UPDATE SET
			enabled = excluded.enabled,
			release_interval_hours = excluded.release_interval_hours,
			items_per_release = excluded.items_per_release,
			active_start_hour = excluded.active_start_hour,
			active_end_hour = excluded.active_end_hour`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := db.conn.Exec(query, args...); err != nil {
		return fmt.Errorf("save drip config: %w", err)
	}
	return nil
}

// DripEnabledTopics returns the IDs of all topics with drip enabled.
func (db *DB) DripEnabledTopics() ([]int64, error) {
	query, args, err := db.sb.Select("topic_id").From("drip_configs").
		Where(sq.Eq{"enabled": true}).OrderBy("topic_id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("drip enabled topics: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Queue Methods ---

const queueColumns = "id, topic_id, title, ready_at, scheduled_publish_at, published_at"

// EnqueueItem adds an approved item to the release queue. Returns the ID.
func (db *DB) EnqueueItem(item *model.QueuedItem) (int64, error) {
	if item.ReadyAt.IsZero() {
		item.ReadyAt = time.Now().UTC()
	}
	q := db.sb.Insert("queue").
		Columns("topic_id", "title", "ready_at").
		Values(item.TopicID, item.Title, item.ReadyAt.UTC())
	id, err := db.insertID(q)
	if err != nil {
		return 0, fmt.Errorf("enqueue item: %w", err)
	}
	item.ID = id
	return id, nil
}

// QueuedItems returns all unpublished items for a topic.
func (db *DB) QueuedItems(topicID int64) ([]model.QueuedItem, error) {
	return db.queryItems(db.sb.Select(queueColumns).From("queue").
		Where(sq.Eq{"topic_id": topicID, "published_at": nil}).
		OrderBy("ready_at", "id"))
}

// UnscheduledItems returns unpublished items with no slot assigned,
// in FIFO order by (ready_at, id).
func (db *DB) UnscheduledItems(topicID int64) ([]model.QueuedItem, error) {
	return db.queryItems(db.sb.Select(queueColumns).From("queue").
		Where(sq.Eq{"topic_id": topicID, "published_at": nil, "scheduled_publish_at": nil}).
		OrderBy("ready_at", "id"))
}

// AssignPublishTime claims an item for a slot with a conditional update.
// The null check makes concurrent scheduling runs race-safe: the losing
// run sees zero rows affected and skips the item.
func (db *DB) AssignPublishTime(itemID int64, at time.Time) (bool, error) {
	query, args, err := db.sb.Update("queue").
		Set("scheduled_publish_at", at.UTC()).
		Where(sq.Eq{"id": itemID, "scheduled_publish_at": nil, "published_at": nil}).
		ToSql()
	if err != nil {
		return false, err
	}
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("assign publish time: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReleaseAllNow moves every pending item of the topic to an immediate slot.
// One statement, so partial application is only possible when the engine
// itself gives up mid-transaction; re-running is always safe.
func (db *DB) ReleaseAllNow(topicID int64, now time.Time) (int64, error) {
	now = now.UTC()
	query, args, err := db.sb.Update("queue").
		Set("scheduled_publish_at", now).
		Where(sq.Eq{"topic_id": topicID, "published_at": nil}).
		Where(sq.Or{
			sq.Eq{"scheduled_publish_at": nil},
			sq.Gt{"scheduled_publish_at": now},
		}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("release all: %w", err)
	}
	return res.RowsAffected()
}

// MarkPublishedDue stamps published_at on every item whose slot has passed.
func (db *DB) MarkPublishedDue(now time.Time) (int64, error) {
	now = now.UTC()
	query, args, err := db.sb.Update("queue").
		Set("published_at", now).
		Where(sq.Eq{"published_at": nil}).
		Where(sq.LtOrEq{"scheduled_publish_at": now}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	return res.RowsAffected()
}

// WeeklyItemCounts returns this-week and last-week ready-item counts.
func (db *DB) WeeklyItemCounts(topicID int64, now time.Time) (int, int, error) {
	now = now.UTC()
	weekAgo := now.AddDate(0, 0, -7)
	twoWeeksAgo := now.AddDate(0, 0, -14)

	thisWeek, err := db.countItems(topicID, weekAgo, now)
	if err != nil {
		return 0, 0, fmt.Errorf("this-week count: %w", err)
	}
	lastWeek, err := db.countItems(topicID, twoWeeksAgo, weekAgo)
	if err != nil {
		return 0, 0, fmt.Errorf("last-week count: %w", err)
	}
	return thisWeek, lastWeek, nil
}

func (db *DB) countItems(topicID int64, from, to time.Time) (int, error) {
	query, args, err := db.sb.Select("COUNT(*)").From("queue").
		Where(sq.Eq{"topic_id": topicID}).
		Where(sq.GtOrEq{"ready_at": from}).
		Where(sq.Lt{"ready_at": to}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.conn.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// --- Helpers ---

// insertID runs an insert and returns the new row ID. lib/pq has no
// LastInsertId support, so the PostgreSQL path uses RETURNING.
func (db *DB) insertID(q sq.InsertBuilder) (int64, error) {
	if db.postgres {
		query, args, err := q.Suffix("RETURNING id").ToSql()
		if err != nil {
			return 0, err
		}
		var id int64
		if err := db.conn.QueryRow(query, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) execOne(q sq.UpdateBuilder) error {
	query, args, err := q.ToSql()
	if err != nil {
		return err
	}
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) queryItems(q sq.SelectBuilder) ([]model.QueuedItem, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []model.QueuedItem
	for rows.Next() {
		var it model.QueuedItem
		var scheduled, published sql.NullTime
		if err := rows.Scan(&it.ID, &it.TopicID, &it.Title, &it.ReadyAt, &scheduled, &published); err != nil {
			return nil, err
		}
		if scheduled.Valid {
			t := scheduled.Time.UTC()
			it.ScheduledPublishAt = &t
		}
		if published.Valid {
			t := published.Time.UTC()
			it.PublishedAt = &t
		}
		it.ReadyAt = it.ReadyAt.UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*model.ContentSource, error) {
	var src model.ContentSource
	var lastPolled sql.NullTime
	err := row.Scan(&src.ID, &src.TopicID, &src.Name, &src.FeedURL, &src.CooldownHours,
		&lastPolled, &src.LastPollOK, &src.ConsecutiveFailures,
		&src.IsActive, &src.IsCritical, &src.ArticlesScraped, &src.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastPolled.Valid {
		t := lastPolled.Time.UTC()
		src.LastPolledAt = &t
	}
	src.CreatedAt = src.CreatedAt.UTC()
	return &src, nil
}
