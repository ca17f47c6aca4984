// Package sources decides which upstream sources are eligible to be polled.
package sources

import (
	"time"

	"dripfeed/internal/model"
)

// Availability reports whether a source may be polled right now and, if
// not, how long the gathering job has to wait.
type Availability struct {
	IsReady        bool    `json:"is_ready"`
	HoursRemaining float64 `json:"hours_remaining"`
}

// Evaluate computes the availability of a single source at the given
// instant. A source that has never been polled, or that has no cooldown
// configured, is ready immediately. The cooldown boundary is inclusive:
// a source polled exactly cooldownHours ago is ready.
//
// Pure function; safe to call with unbounded concurrency.
func Evaluate(src model.ContentSource, now time.Time) Availability {
	if src.LastPolledAt == nil || src.CooldownHours <= 0 {
		return Availability{IsReady: true}
	}

	cooldown := time.Duration(src.CooldownHours * float64(time.Hour))
	remaining := src.LastPolledAt.Add(cooldown).Sub(now).Hours()
	if remaining <= 0 {
		return Availability{IsReady: true}
	}
	return Availability{HoursRemaining: remaining}
}
