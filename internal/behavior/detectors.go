package behavior

import (
	"time"

	"github.com/agenttrust/station/pkg/models"
)

const (
	flagRapidFire         = "rapid_fire"
	flagHighFailureRate   = "high_failure_rate"
	flagActionEnumeration = "action_enumeration"
	flagRepeatedAction    = "repeated_action"
	flagScopeViolation    = "scope_violation"
	flagBurstDetected     = "burst_detected"
)

const trailingWindow = 60 * time.Second

// runDetectors runs the full detector set against session's current action
// list (spec §4.6) and returns the flags that fired on this pass. Detectors
// do not run once a session is already blocked.
func runDetectors(session *models.Session, cfg Config, now time.Time) []string {
	if session.Blocked {
		return nil
	}

	var fired []string
	window := actionsWithin(session.Actions, now, trailingWindow)

	if len(window) > cfg.MaxActionsPerMinute {
		fired = append(fired, flagRapidFire)
	}

	if countFailures(session.Actions) >= cfg.MaxFailuresBeforeFlag {
		fired = append(fired, flagHighFailureRate)
	}

	if countDistinctNames(window) > cfg.MaxUniqueActionsPerMinute {
		fired = append(fired, flagActionEnumeration)
	}

	if maxFingerprintCount(window) > cfg.MaxRepeatedActionsPerMinute {
		fired = append(fired, flagRepeatedAction)
	}

	if last := lastAction(session.Actions); last != nil && last.ScopeViolation {
		fired = append(fired, flagScopeViolation)
	}

	if burstDetected(session.Actions) {
		fired = append(fired, flagBurstDetected)
	}

	return fired
}

func actionsWithin(actions []models.SessionAction, now time.Time, window time.Duration) []models.SessionAction {
	cutoff := now.Add(-window)
	var out []models.SessionAction
	for _, a := range actions {
		if a.Timestamp.After(cutoff) {
			out = append(out, a)
		}
	}
	return out
}

func countFailures(actions []models.SessionAction) int {
	count := 0
	for _, a := range actions {
		if !a.Success {
			count++
		}
	}
	return count
}

func countDistinctNames(actions []models.SessionAction) int {
	seen := make(map[string]struct{})
	for _, a := range actions {
		seen[a.ActionName] = struct{}{}
	}
	return len(seen)
}

func maxFingerprintCount(actions []models.SessionAction) int {
	counts := make(map[string]int)
	max := 0
	for _, a := range actions {
		counts[a.ParamsFingerprint]++
		if counts[a.ParamsFingerprint] > max {
			max = counts[a.ParamsFingerprint]
		}
	}
	return max
}

func lastAction(actions []models.SessionAction) *models.SessionAction {
	if len(actions) == 0 {
		return nil
	}
	return &actions[len(actions)-1]
}

// burstDetected requires at least 6 recorded actions; the gap between the
// 6th-from-last and 5th-from-last action must exceed 30s (a quiet period),
// and the span of the last 5 actions must be under 5s (a sudden burst).
func burstDetected(actions []models.SessionAction) bool {
	n := len(actions)
	if n < 6 {
		return false
	}

	sixthFromLast := actions[n-6].Timestamp
	fifthFromLast := actions[n-5].Timestamp
	gap := fifthFromLast.Sub(sixthFromLast)

	first := actions[n-5].Timestamp
	last := actions[n-1].Timestamp
	span := last.Sub(first)

	return gap > 30*time.Second && span < 5*time.Second
}
