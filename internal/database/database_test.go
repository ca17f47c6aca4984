package database

import (
	"errors"
	"testing"
	"time"

	"dripfeed/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSourceLifecycle(t *testing.T) {
	db := newTestDB(t)

	id, err := db.CreateSource(&model.ContentSource{
		TopicID:       7,
		Name:          "upstream",
		FeedURL:       "https://example.org/feed",
		CooldownHours: 12,
		IsActive:      true,
		IsCritical:    true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	src, err := db.GetSource(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if src.Name != "upstream" || src.CooldownHours != 12 || !src.IsCritical || !src.IsActive {
		t.Fatalf("round trip mismatch: %+v", src)
	}
	if src.LastPolledAt != nil {
		t.Fatalf("new source must have no poll history")
	}

	// Poll lifecycle: start -> failure -> failure -> success.
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	if err := db.MarkPollStarted(id, now); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	src, _ = db.GetSource(id)
	if src.LastPolledAt == nil || !src.LastPolledAt.Equal(now) || src.LastPollOK {
		t.Fatalf("after start: %+v", src)
	}

	for i := 1; i <= 2; i++ {
		if err := db.RecordPollFailure(id, now); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
	}
	src, _ = db.GetSource(id)
	if src.ConsecutiveFailures != 2 {
		t.Fatalf("failures = %d, want 2", src.ConsecutiveFailures)
	}

	if err := db.RecordPollSuccess(id, now.Add(time.Hour), 9); err != nil {
		t.Fatalf("success: %v", err)
	}
	src, _ = db.GetSource(id)
	if src.ConsecutiveFailures != 0 || !src.LastPollOK || src.ArticlesScraped != 9 {
		t.Fatalf("after success: %+v", src)
	}

	// Deactivation, never deletion.
	if err := db.SetSourceActive(id, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	srcs, err := db.GetSources(7)
	if err != nil {
		t.Fatalf("get sources: %v", err)
	}
	if len(srcs) != 1 || srcs[0].IsActive {
		t.Fatalf("deactivated source missing or still active: %+v", srcs)
	}
}

func TestSourceNotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetSource(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := db.SetSourceActive(99, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDripConfigUpsert(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.GetDripConfig(3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	cfg := model.TopicDripConfig{
		TopicID:              3,
		Enabled:              true,
		ReleaseIntervalHours: 4,
		ItemsPerRelease:      2,
		ActiveStartHour:      6,
		ActiveEndHour:        22,
	}
	if err := db.SaveDripConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	cfg.ItemsPerRelease = 3
	cfg.Enabled = false
	if err := db.SaveDripConfig(cfg); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := db.GetDripConfig(3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ItemsPerRelease != 3 || got.Enabled {
		t.Fatalf("upsert not applied: %+v", got)
	}

	topics, err := db.DripEnabledTopics()
	if err != nil {
		t.Fatalf("enabled topics: %v", err)
	}
	if len(topics) != 0 {
		t.Fatalf("disabled topic listed: %v", topics)
	}

	cfg.Enabled = true
	_ = db.SaveDripConfig(cfg)
	topics, _ = db.DripEnabledTopics()
	if len(topics) != 1 || topics[0] != 3 {
		t.Fatalf("enabled topics = %v, want [3]", topics)
	}
}

func TestQueueOrdering(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)

	// Insert out of ready order; FIFO must sort by (ready_at, id).
	late, _ := db.EnqueueItem(&model.QueuedItem{TopicID: 1, Title: "late", ReadyAt: base.Add(2 * time.Hour)})
	early, _ := db.EnqueueItem(&model.QueuedItem{TopicID: 1, Title: "early", ReadyAt: base})
	tie, _ := db.EnqueueItem(&model.QueuedItem{TopicID: 1, Title: "tie", ReadyAt: base})

	items, err := db.UnscheduledItems(1)
	if err != nil {
		t.Fatalf("unscheduled: %v", err)
	}
	wantOrder := []int64{early, tie, late}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	for i, want := range wantOrder {
		if items[i].ID != want {
			t.Fatalf("position %d = item %d, want %d", i, items[i].ID, want)
		}
	}
}

func TestAssignPublishTimeConditional(t *testing.T) {
	db := newTestDB(t)
	id, _ := db.EnqueueItem(&model.QueuedItem{TopicID: 1, Title: "a", ReadyAt: time.Now().UTC()})

	slot := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	ok, err := db.AssignPublishTime(id, slot)
	if err != nil || !ok {
		t.Fatalf("first assign: ok=%v err=%v", ok, err)
	}

	// The conditional update refuses a second claim.
	ok, err = db.AssignPublishTime(id, slot.Add(time.Hour))
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if ok {
		t.Fatal("second assign claimed an already-claimed item")
	}

	items, _ := db.QueuedItems(1)
	if !items[0].ScheduledPublishAt.Equal(slot) {
		t.Fatalf("slot overwritten: %v", items[0].ScheduledPublishAt)
	}
}

func TestReleaseAllNowScope(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	pending, _ := db.EnqueueItem(&model.QueuedItem{TopicID: 1, Title: "pending", ReadyAt: now})
	future, _ := db.EnqueueItem(&model.QueuedItem{TopicID: 1, Title: "future", ReadyAt: now})
	otherTopic, _ := db.EnqueueItem(&model.QueuedItem{TopicID: 2, Title: "other", ReadyAt: now})
	published, _ := db.EnqueueItem(&model.QueuedItem{TopicID: 1, Title: "done", ReadyAt: now})

	db.AssignPublishTime(future, now.Add(24*time.Hour))
	db.AssignPublishTime(published, now.Add(-time.Hour))
	if _, err := db.MarkPublishedDue(now); err != nil {
		t.Fatalf("mark published: %v", err)
	}

	n, err := db.ReleaseAllNow(1, now)
	if err != nil {
		t.Fatalf("release all: %v", err)
	}
	// The unscheduled item and the future item move; the published item
	// and the other topic are untouched.
	if n != 2 {
		t.Fatalf("released = %d, want 2", n)
	}

	items, _ := db.QueuedItems(1)
	for _, it := range items {
		if (it.ID == pending || it.ID == future) && !it.ScheduledPublishAt.Equal(now) {
			t.Fatalf("item %d slot = %v, want %v", it.ID, it.ScheduledPublishAt, now)
		}
	}
	other, _ := db.QueuedItems(2)
	if other[0].ID != otherTopic || other[0].ScheduledPublishAt != nil {
		t.Fatalf("other topic touched: %+v", other[0])
	}

	again, err := db.ReleaseAllNow(1, now)
	if err != nil {
		t.Fatalf("repeat release: %v", err)
	}
	if again != 0 {
		t.Fatalf("repeat released = %d, want 0", again)
	}
}

func TestWeeklyItemCounts(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	add := func(age time.Duration) {
		if _, err := db.EnqueueItem(&model.QueuedItem{TopicID: 5, Title: "x", ReadyAt: now.Add(-age)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	add(24 * time.Hour)      // this week
	add(6 * 24 * time.Hour)  // this week
	add(8 * 24 * time.Hour)  // last week
	add(13 * 24 * time.Hour) // last week
	add(10 * 24 * time.Hour) // last week
	add(20 * 24 * time.Hour) // older, counted nowhere

	thisWeek, lastWeek, err := db.WeeklyItemCounts(5, now)
	if err != nil {
		t.Fatalf("weekly counts: %v", err)
	}
	if thisWeek != 2 || lastWeek != 3 {
		t.Fatalf("counts = (%d, %d), want (2, 3)", thisWeek, lastWeek)
	}
}
