// Package progress reports aggregate completion of an in-flight
// gathering job by polling the topic's source records.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dripfeed/internal/database"
	"dripfeed/internal/model"
)

// recentPollWindow is how far back a poll still counts as part of the
// current gathering run.
const recentPollWindow = 5 * time.Minute

// ErrUnknownJob is returned when the job ID was never registered or does
// not belong to the given topic.
var ErrUnknownJob = errors.New("unknown gathering job")

// Tracker is the in-memory registry of gathering jobs. The gathering
// collaborator registers a job when it starts and marks it complete when
// it finishes; everything else about the job lives in source records.
type Tracker struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*jobState
}

type jobState struct {
	topicID   int64
	startedAt time.Time
	done      bool
}

// NewTracker creates an empty job registry.
func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[uuid.UUID]*jobState)}
}

// StartJob registers a gathering job for a topic and returns its ID.
func (t *Tracker) StartJob(topicID int64) uuid.UUID {
	id := uuid.New()
	t.mu.Lock()
	t.jobs[id] = &jobState{topicID: topicID, startedAt: time.Now().UTC()}
	t.mu.Unlock()
	return id
}

// CompleteJob marks a job as finished. Unknown IDs report false.
func (t *Tracker) CompleteJob(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return false
	}
	job.done = true
	return true
}

func (t *Tracker) lookup(id uuid.UUID) (topicID int64, done bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return 0, false, false
	}
	return job.topicID, job.done, true
}

// SourceProgress is the per-source slice of a snapshot.
type SourceProgress struct {
	SourceID int64              `json:"source_id"`
	Name     string             `json:"name"`
	Status   model.SourceStatus `json:"status"`
}

// Snapshot is one best-effort view of a gathering job.
type Snapshot struct {
	Percent float64          `json:"percent"`
	Done    bool             `json:"done"`
	Sources []SourceProgress `json:"per_source"`
}

// Compute derives per-source statuses and the overall percentage from
// the current source records. A source polled inside the window counts
// as completed once success is recorded, failed once a failure streak is
// recorded, and processing while the outcome is still open. Sources with
// any historical item count are completed regardless. Pure.
func Compute(srcs []model.ContentSource, now time.Time) Snapshot {
	snap := Snapshot{Sources: make([]SourceProgress, 0, len(srcs))}
	if len(srcs) == 0 {
		snap.Percent = 100
		return snap
	}

	completed, processing := 0, 0
	for _, src := range srcs {
		status := model.SourcePending
		recent := src.LastPolledAt != nil && now.Sub(*src.LastPolledAt) <= recentPollWindow
		switch {
		case recent && src.LastPollOK, src.ArticlesScraped > 0:
			status = model.SourceCompleted
			completed++
		case recent && src.ConsecutiveFailures > 0:
			status = model.SourceFailed
		case recent:
			status = model.SourceProcessing
			processing++
		}
		snap.Sources = append(snap.Sources, SourceProgress{SourceID: src.ID, Name: src.Name, Status: status})
	}

	snap.Percent = 100 * (float64(completed) + 0.5*float64(processing)) / float64(len(srcs))
	return snap
}

// Monitor polls source records on behalf of observers.
type Monitor struct {
	store    database.Store
	tracker  *Tracker
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewMonitor creates a monitor polling at the given interval.
func NewMonitor(store database.Store, tracker *Tracker, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		store:    store,
		tracker:  tracker,
		interval: interval,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot returns one read-only view of a gathering job. No side effects.
func (m *Monitor) Snapshot(jobID uuid.UUID, topicID int64) (Snapshot, error) {
	jobTopic, done, ok := m.tracker.lookup(jobID)
	if !ok || jobTopic != topicID {
		return Snapshot{}, ErrUnknownJob
	}
	srcs, err := m.store.GetSources(topicID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load sources: %w", err)
	}
	snap := Compute(srcs, m.now())
	snap.Done = done || snap.Percent >= 100
	return snap, nil
}

// Watch polls the job on the monitor's interval and sends snapshots until
// the job reports completion, the percentage reaches 100, or ctx is
// cancelled. The channel closes exactly once; both completion conditions
// resolving in the same cycle still yield a single onDone call. No timers
// outlive the watch.
func (m *Monitor) Watch(ctx context.Context, jobID uuid.UUID, topicID int64, onDone func()) (<-chan Snapshot, error) {
	if _, _, ok := m.tracker.lookup(jobID); !ok {
		return nil, ErrUnknownJob
	}

	out := make(chan Snapshot, 1)
	var doneOnce sync.Once
	finish := func() {
		if onDone != nil {
			doneOnce.Do(onDone)
		}
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			snap, err := m.Snapshot(jobID, topicID)
			if err != nil {
				// Best effort: keep polling on transient store errors.
				m.log.Warn().Err(err).Str("job", jobID.String()).Msg("progress poll failed")
			} else {
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
				if snap.Done {
					finish()
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, nil
}
