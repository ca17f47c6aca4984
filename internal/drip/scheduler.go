// Package drip spreads a topic's approved backlog across release slots
// inside the topic's active publishing window.
package drip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dripfeed/internal/database"
	"dripfeed/internal/model"
)

// ErrInvalidConfig is returned when a drip configuration violates its
// allowed ranges. Configs are validated at write time, and the scheduler
// re-validates on every pass rather than trusting upstream clamping.
var ErrInvalidConfig = errors.New("invalid drip configuration")

const (
	minIntervalHours   = 1
	maxIntervalHours   = 8
	minItemsPerRelease = 1
	maxItemsPerRelease = 5
)

// ValidateConfig checks the allowed ranges for a drip configuration.
func ValidateConfig(cfg model.TopicDripConfig) error {
	if cfg.ReleaseIntervalHours < minIntervalHours || cfg.ReleaseIntervalHours > maxIntervalHours {
		return fmt.Errorf("%w: release interval %dh outside [%d,%d]",
			ErrInvalidConfig, cfg.ReleaseIntervalHours, minIntervalHours, maxIntervalHours)
	}
	if cfg.ItemsPerRelease < minItemsPerRelease || cfg.ItemsPerRelease > maxItemsPerRelease {
		return fmt.Errorf("%w: items per release %d outside [%d,%d]",
			ErrInvalidConfig, cfg.ItemsPerRelease, minItemsPerRelease, maxItemsPerRelease)
	}
	if cfg.ActiveStartHour < 0 || cfg.ActiveStartHour > 23 || cfg.ActiveEndHour < 0 || cfg.ActiveEndHour > 23 {
		return fmt.Errorf("%w: active hours %d-%d outside [0,23]",
			ErrInvalidConfig, cfg.ActiveStartHour, cfg.ActiveEndHour)
	}
	if cfg.ActiveEndHour <= cfg.ActiveStartHour {
		return fmt.Errorf("%w: active window %d-%d is empty",
			ErrInvalidConfig, cfg.ActiveStartHour, cfg.ActiveEndHour)
	}
	return nil
}

// SlotsPerDay is how many release slots fit in the active window.
func SlotsPerDay(cfg model.TopicDripConfig) int {
	return (cfg.ActiveEndHour - cfg.ActiveStartHour) / cfg.ReleaseIntervalHours
}

// CapacityPerDay is the advisory daily item throughput; it is never
// enforced as a cap.
func CapacityPerDay(cfg model.TopicDripConfig) int {
	return SlotsPerDay(cfg) * cfg.ItemsPerRelease
}

// NextSlot returns the first slot boundary at or after the given instant.
// Boundaries sit at whole multiples of the release interval past the
// window start, in UTC. A boundary that would land at or past the window
// end rolls to the window start on the next day.
func NextSlot(cfg model.TopicDripConfig, after time.Time) time.Time {
	after = after.UTC()
	day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, time.UTC)
	for {
		for h := cfg.ActiveStartHour; h < cfg.ActiveEndHour; h += cfg.ReleaseIntervalHours {
			slot := day.Add(time.Duration(h) * time.Hour)
			if !slot.Before(after) {
				return slot
			}
		}
		day = day.AddDate(0, 0, 1)
	}
}

// Result summarises one scheduling pass.
type Result struct {
	SlotsAssigned int `json:"slots_assigned"`
	ItemsAssigned int `json:"items_assigned"`
}

// Scheduler assigns release slots to queued items. It is stateless
// between passes: all state lives in the store, so overlapping runs for
// the same topic only contend on the conditional assignment update.
type Scheduler struct {
	store database.Store
	log   zerolog.Logger
	now   func() time.Time
}

// New creates a scheduler over the given store.
func New(store database.Store, log zerolog.Logger) *Scheduler {
	return &Scheduler{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// ScheduleReleases runs one scheduling pass for a topic. Items are taken
// in FIFO order by (readyAt, id) and assigned in groups of itemsPerRelease
// to successive slots. A topic without a drip config, or with drip
// disabled, schedules nothing and keeps its queue intact.
func (s *Scheduler) ScheduleReleases(ctx context.Context, topicID int64) (Result, error) {
	var res Result

	cfg, err := s.store.GetDripConfig(topicID)
	if errors.Is(err, database.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("load drip config: %w", err)
	}
	if !cfg.Enabled {
		return res, nil
	}
	if err := ValidateConfig(*cfg); err != nil {
		return res, err
	}

	items, err := s.store.UnscheduledItems(topicID)
	if err != nil {
		return res, fmt.Errorf("load unscheduled items: %w", err)
	}
	if len(items) == 0 {
		return res, nil
	}

	slot := NextSlot(*cfg, s.now())
	for start := 0; start < len(items); start += cfg.ItemsPerRelease {
		if start > 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			// A disable that lands mid-run stops assignment; the
			// remaining items keep their readyAt and stay queued.
			fresh, err := s.store.GetDripConfig(topicID)
			if err == nil && !fresh.Enabled {
				s.log.Info().Int64("topic", topicID).Int("assigned", res.ItemsAssigned).
					Msg("drip disabled mid-run, deferring remaining items")
				return res, nil
			}
		}

		end := start + cfg.ItemsPerRelease
		if end > len(items) {
			end = len(items)
		}

		slotUsed := false
		for _, item := range items[start:end] {
			ok, err := s.store.AssignPublishTime(item.ID, slot)
			if err != nil {
				return res, fmt.Errorf("assign item %d: %w", item.ID, err)
			}
			if !ok {
				// A concurrent run claimed the item first. Not an error.
				continue
			}
			res.ItemsAssigned++
			slotUsed = true
		}
		if slotUsed {
			res.SlotsAssigned++
		}
		slot = NextSlot(*cfg, slot.Add(time.Second))
	}

	s.log.Info().Int64("topic", topicID).
		Int("items", res.ItemsAssigned).Int("slots", res.SlotsAssigned).
		Msg("scheduling pass complete")
	return res, nil
}

// PublishAll is the emergency override: every queued item of the topic is
// moved to an immediate slot in a single statement. Idempotent; a repeat
// call finds nothing left to move and releases zero items.
func (s *Scheduler) PublishAll(ctx context.Context, topicID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	released, err := s.store.ReleaseAllNow(topicID, s.now())
	if err != nil {
		return 0, fmt.Errorf("publish all: %w", err)
	}
	if released > 0 {
		s.log.Warn().Int64("topic", topicID).Int64("items", released).Msg("emergency publish")
	}
	return released, nil
}

// ReleaseDue stamps publishedAt on every item whose slot has passed.
// Invoked by the recurring release trigger.
func (s *Scheduler) ReleaseDue(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	published, err := s.store.MarkPublishedDue(s.now())
	if err != nil {
		return 0, fmt.Errorf("release due: %w", err)
	}
	if published > 0 {
		s.log.Info().Int64("items", published).Msg("released due items")
	}
	return published, nil
}
