// Package health derives a tri-state health status per topic from its
// source records and recent publishing volume.
package health

import (
	"fmt"
	"time"

	"dripfeed/internal/model"
)

// Thresholds is the single override point for the classifier's cutoffs.
// Production uses DefaultThresholds; tests may tighten or loosen them.
type Thresholds struct {
	// MaxConsecutiveFailures is the failure streak that flags a source.
	MaxConsecutiveFailures int
	// StalePollAge marks an active source as stale when its last poll is
	// older than this.
	StalePollAge time.Duration
	// WarningDropPercent and CriticalDropPercent are week-over-week
	// volume drop cutoffs.
	WarningDropPercent  float64
	CriticalDropPercent float64
}

// DefaultThresholds returns the production cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxConsecutiveFailures: 3,
		StalePollAge:           48 * time.Hour,
		WarningDropPercent:     50,
		CriticalDropPercent:    75,
	}
}

// Input carries everything the classifier looks at. Sources must be the
// topic's full source set, deactivated records included.
type Input struct {
	Sources       []model.ContentSource
	ThisWeekCount int
	LastWeekCount int
}

// Classify computes a topic health snapshot. Critical signals win over
// warnings; all matched issues are reported regardless of the final
// status. Pure and cache-free: every call re-evaluates from scratch.
func Classify(in Input, now time.Time, th Thresholds) model.HealthSnapshot {
	snap := model.HealthSnapshot{Status: model.StatusHealthy, Issues: []string{}}

	critical := func(issue string) {
		snap.Status = model.StatusCritical
		snap.Issues = append(snap.Issues, issue)
	}
	warning := func(issue string) {
		if snap.Status != model.StatusCritical {
			snap.Status = model.StatusWarning
		}
		snap.Issues = append(snap.Issues, issue)
	}

	if len(in.Sources) == 0 {
		critical("no content sources configured")
		return snap
	}

	activeCount := 0
	for _, src := range in.Sources {
		if src.IsActive {
			activeCount++
		}
		if src.IsCritical && !src.IsActive {
			critical(fmt.Sprintf("critical source %q is inactive", src.Name))
		}
	}
	if activeCount == 0 {
		critical("all content sources are inactive")
	}

	drop := volumeDropPercent(in.ThisWeekCount, in.LastWeekCount)
	if drop >= th.CriticalDropPercent {
		critical(fmt.Sprintf("weekly volume dropped %.0f%% (%d -> %d)", drop, in.LastWeekCount, in.ThisWeekCount))
	} else if drop >= th.WarningDropPercent {
		warning(fmt.Sprintf("weekly volume dropped %.0f%% (%d -> %d)", drop, in.LastWeekCount, in.ThisWeekCount))
	}

	for _, src := range in.Sources {
		if !src.IsActive {
			continue
		}
		if src.ConsecutiveFailures >= th.MaxConsecutiveFailures {
			warning(fmt.Sprintf("source %q has failed %d polls in a row", src.Name, src.ConsecutiveFailures))
		}
		if src.LastPolledAt != nil && now.Sub(*src.LastPolledAt) > th.StalePollAge {
			warning(fmt.Sprintf("source %q not polled for %.0fh", src.Name, now.Sub(*src.LastPolledAt).Hours()))
		}
	}

	return snap
}

// volumeDropPercent computes the week-over-week decline. A topic with no
// history last week reports zero drop, so new topics never alarm.
func volumeDropPercent(thisWeek, lastWeek int) float64 {
	if lastWeek <= 0 {
		return 0
	}
	return 100 * float64(lastWeek-thisWeek) / float64(lastWeek)
}

// Degraded builds the snapshot returned when classification itself
// fails. Health is a best-effort read: callers get a warning with the
// evaluation error instead of an error response.
func Degraded(err error) model.HealthSnapshot {
	return model.HealthSnapshot{
		Status: model.StatusWarning,
		Issues: []string{fmt.Sprintf("health evaluation failed: %v", err)},
	}
}
