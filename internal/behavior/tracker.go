// Package behavior implements the per-gateway live behavior tracker (spec
// §4.6): a singleton in-memory session map, a six-detector analysis pass
// run after every recorded action, and a ticker-driven sweeper that evicts
// idle sessions — grounded on the control plane's retention janitor.
package behavior

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agenttrust/station/pkg/models"
	"github.com/rs/zerolog/log"
)

// Config tunes detector thresholds and penalties (spec §4.6 table).
type Config struct {
	SessionTimeout            time.Duration
	MaxActionsPerMinute       int
	MaxFailuresBeforeFlag     int
	MaxUniqueActionsPerMinute int
	MaxRepeatedActionsPerMinute int
	ViolationPenalty          int
	BlockThreshold            int
	SweepInterval             time.Duration
}

// Listener receives an event each time a new flag fires and a penalty
// applies.
type Listener func(models.BehaviorEvent)

// Tracker is the per-gateway singleton session tracker.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*models.Session

	cfg      Config
	listener Listener
}

// New creates a Tracker with the given configuration. listener may be nil.
func New(cfg Config, listener Listener) *Tracker {
	if listener == nil {
		listener = func(models.BehaviorEvent) {}
	}
	return &Tracker{
		sessions: make(map[string]*models.Session),
		cfg:      cfg,
		listener: listener,
	}
}

// RecordResult is returned by RecordAction.
type RecordResult struct {
	BehaviorScore int
	NewFlags      []string
	BlockedNow    bool // became blocked as a result of this action specifically
}

// IsBlocked reports whether agentID's current session is blocked, without
// recording an action. Used by the gateway pipeline's live-block check
// (spec §4.7 step 3).
func (t *Tracker) IsBlocked(agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[agentID]
	if !ok {
		return false
	}
	if t.isStale(s) {
		return false
	}
	return s.Blocked
}

// Snapshot returns the public view of every live (non-stale) session, for
// GET /behavior/sessions.
func (t *Tracker) Snapshot() []models.SessionSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.SessionSnapshot, 0, len(t.sessions))
	for _, s := range t.sessions {
		if t.isStale(s) {
			continue
		}
		flags := make([]string, 0, len(s.Flags))
		for f := range s.Flags {
			flags = append(flags, f)
		}
		sort.Strings(flags)
		out = append(out, models.SessionSnapshot{
			AgentID:        s.AgentID,
			ExternalID:     s.ExternalID,
			BehaviorScore:  s.BehaviorScore,
			Flags:          flags,
			Blocked:        s.Blocked,
			LastActivityAt: s.LastActivityAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func (t *Tracker) isStale(s *models.Session) bool {
	return time.Since(s.LastActivityAt) > t.cfg.SessionTimeout
}

// RecordAction appends one action to agentID's session (creating or
// resetting it if absent or stale), runs the detector set, applies
// penalties for newly- and already-fired flags, and returns the resulting
// state (spec §4.6, §4.7 step 8).
func (t *Tracker) RecordAction(agentID, externalID, actionName string, params map[string]interface{}, success, scoreMet bool) RecordResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	session, ok := t.sessions[agentID]
	if !ok || t.isStale(session) {
		session = &models.Session{
			AgentID:       agentID,
			ExternalID:    externalID,
			StartedAt:     now,
			BehaviorScore: 100,
			Flags:         make(map[string]bool),
		}
		t.sessions[agentID] = session
	}

	session.LastActivityAt = now
	session.Actions = append(session.Actions, models.SessionAction{
		ActionName:        actionName,
		ParamsFingerprint: Fingerprint(actionName, params),
		Success:           success,
		ScopeViolation:    !scoreMet,
		Timestamp:         now,
	})

	wasBlocked := session.Blocked
	firedFlags := runDetectors(session, t.cfg, now)
	newFlags := t.applyPenalties(session, firedFlags)

	if session.BehaviorScore <= t.cfg.BlockThreshold {
		session.Blocked = true
	}

	return RecordResult{
		BehaviorScore: session.BehaviorScore,
		NewFlags:      newFlags,
		BlockedNow:    session.Blocked && !wasBlocked,
	}
}

// applyPenalties decrements BehaviorScore for each fired flag: full penalty
// the first time a flag appears in the session, floor(penalty/2) on later
// recurrences — except scope_violation, which always costs full penalty
// (spec §4.6, Open Question resolved toward "reduced on recurrence").
// Every newly-seen flag also emits a BehaviorEvent.
func (t *Tracker) applyPenalties(session *models.Session, fired []string) []string {
	var newFlags []string
	for _, flag := range fired {
		seenBefore := session.Flags[flag]

		penalty := t.cfg.ViolationPenalty
		if seenBefore && flag != flagScopeViolation {
			penalty = t.cfg.ViolationPenalty / 2
		}

		session.BehaviorScore -= penalty
		if session.BehaviorScore < 0 {
			session.BehaviorScore = 0
		}

		if !seenBefore {
			newFlags = append(newFlags, flag)
			session.Flags[flag] = true

			t.listener(models.BehaviorEvent{
				AgentID:   session.AgentID,
				Flag:      flag,
				Penalty:   penalty,
				NewScore:  session.BehaviorScore,
				Blocked:   session.BehaviorScore <= t.cfg.BlockThreshold,
				Timestamp: time.Now(),
			})
		}
	}
	return newFlags
}

// RecordScopeViolation flags a session for a scope check failure without
// appending a regular action entry — used by pipeline steps that deny
// before an action would otherwise be recorded (spec §4.7 step 5).
func (t *Tracker) RecordScopeViolation(agentID, externalID string) RecordResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	session, ok := t.sessions[agentID]
	if !ok || t.isStale(session) {
		session = &models.Session{
			AgentID:       agentID,
			ExternalID:    externalID,
			StartedAt:     now,
			BehaviorScore: 100,
			Flags:         make(map[string]bool),
		}
		t.sessions[agentID] = session
	}
	session.LastActivityAt = now

	wasBlocked := session.Blocked
	newFlags := t.applyPenalties(session, []string{flagScopeViolation})
	if session.BehaviorScore <= t.cfg.BlockThreshold {
		session.Blocked = true
	}
	return RecordResult{BehaviorScore: session.BehaviorScore, NewFlags: newFlags, BlockedNow: session.Blocked && !wasBlocked}
}

// Sweep evicts sessions idle longer than SessionTimeout. Safe to call
// concurrently with RecordAction; it takes the same lock, so it never runs
// mid-mutation but also never blocks a single RecordAction call for long.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, s := range t.sessions {
		if t.isStale(s) {
			delete(t.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Start runs the sweeper on cfg.SweepInterval until ctx is canceled.
func (t *Tracker) Start(ctx context.Context) {
	interval := t.cfg.SweepInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	log.Info().Dur("interval", interval).Msg("behavior sweeper started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("behavior sweeper stopped")
			return
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				log.Info().Int("evicted", n).Msg("behavior sweep evicted idle sessions")
			}
		}
	}
}
