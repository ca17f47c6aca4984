// Package runner hosts the recurring triggers: the drip scheduling sweep
// and the due-item release sweep.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"dripfeed/internal/database"
	"dripfeed/internal/drip"
)

// Config holds the cron specs for the two sweeps.
type Config struct {
	ScheduleSpec string
	ReleaseSpec  string
}

// Runner drives the scheduler on a recurring cadence. Both sweeps are
// stateless and idempotent, so a missed or doubled tick is harmless.
type Runner struct {
	store     database.Store
	scheduler *drip.Scheduler
	cfg       Config
	log       zerolog.Logger

	mu sync.Mutex
	c  *cron.Cron
}

// New creates a runner over the given store and scheduler.
func New(store database.Store, scheduler *drip.Scheduler, cfg Config, log zerolog.Logger) *Runner {
	return &Runner{store: store, scheduler: scheduler, cfg: cfg, log: log}
}

// Start registers the sweeps and starts the cron loop. All slots are UTC.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(r.cfg.ScheduleSpec, func() { r.scheduleSweep(ctx) }); err != nil {
		return fmt.Errorf("register schedule sweep: %w", err)
	}
	if _, err := c.AddFunc(r.cfg.ReleaseSpec, func() { r.releaseSweep(ctx) }); err != nil {
		return fmt.Errorf("register release sweep: %w", err)
	}
	c.Start()
	r.c = c
	r.log.Info().Str("schedule", r.cfg.ScheduleSpec).Str("release", r.cfg.ReleaseSpec).Msg("runner started")
	return nil
}

// Stop halts the cron loop and waits for in-flight sweeps. Idempotent.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return
	}
	<-r.c.Stop().Done()
	r.c = nil
	r.log.Info().Msg("runner stopped")
}

// scheduleSweep runs a scheduling pass for every drip-enabled topic.
// Per-topic failures are logged and skipped, never aborting the sweep.
func (r *Runner) scheduleSweep(ctx context.Context) {
	topics, err := r.store.DripEnabledTopics()
	if err != nil {
		r.log.Error().Err(err).Msg("list drip topics")
		return
	}
	for _, topicID := range topics {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.scheduler.ScheduleReleases(ctx, topicID); err != nil {
			r.log.Error().Err(err).Int64("topic", topicID).Msg("scheduling sweep")
		}
	}
}

func (r *Runner) releaseSweep(ctx context.Context) {
	if _, err := r.scheduler.ReleaseDue(ctx); err != nil {
		r.log.Error().Err(err).Msg("release sweep")
	}
}
