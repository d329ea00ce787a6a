// Package reputation implements the deterministic reputation scoring
// function (spec §4.1). It is a pure function of one agent's persisted
// state — no I/O, no global state — so it is trivial to unit test and safe
// to call from both the issuer's hot path and the station's reputation
// endpoint.
package reputation

import (
	"math"
	"time"
)

const (
	base = 50

	identityBonus = 10

	maxStakeBonus = 15
	minStakeBonus = 5

	maxVouchBonus   = 20
	vouchBonusEach  = 2

	maxSuccessRateBonus = 20

	maxAgeBonus  = 10
	secondsPerMonth = 30 * 24 * 3600

	failurePenaltyEach = 5
)

// Input is the tuple of durable agent state the score is computed from.
type Input struct {
	IdentityVerified     bool
	StakeAmount          float64
	VouchesReceivedCount int
	TotalActions         int64
	SuccessfulActions    int64
	FailedActions        int64
	CreatedAt            time.Time
}

// Breakdown is the per-component contribution to the final score, used by
// the station's reputation-breakdown endpoint.
type Breakdown struct {
	Score            int
	Base             int
	IdentityBonus    int
	StakeBonus       int
	VouchBonus       int
	SuccessRateBonus int
	AgeBonus         int
	FailurePenalty   int
}

// Score computes the final clamped 0-100 reputation score. Calling Score
// twice with the same Input always returns the same value.
func Score(in Input) int {
	return Compute(in).Score
}

// Compute returns the full per-component breakdown plus the final score.
func Compute(in Input) Breakdown {
	b := Breakdown{Base: base}

	if in.IdentityVerified {
		b.IdentityBonus = identityBonus
	}

	b.StakeBonus = stakeBonus(in.StakeAmount)
	b.VouchBonus = vouchBonus(in.VouchesReceivedCount)
	b.SuccessRateBonus = successRateBonus(in.SuccessfulActions, in.TotalActions)
	b.AgeBonus = ageBonus(in.CreatedAt)
	b.FailurePenalty = failurePenaltyEach * int(in.FailedActions)

	sum := b.Base + b.IdentityBonus + b.StakeBonus + b.VouchBonus +
		b.SuccessRateBonus + b.AgeBonus - b.FailurePenalty

	b.Score = clamp(sum, 0, 100)
	return b
}

func stakeBonus(amount float64) int {
	if amount <= 0 {
		return 0
	}
	return clamp(minStakeBonus+int(math.Floor(amount/100)), 0, maxStakeBonus)
}

func vouchBonus(count int) int {
	return clamp(vouchBonusEach*count, 0, maxVouchBonus)
}

func successRateBonus(successful, total int64) int {
	if total <= 0 {
		return 0
	}
	raw := float64(maxSuccessRateBonus) * float64(successful) / float64(total)
	return clamp(int(math.Round(raw)), 0, maxSuccessRateBonus)
}

func ageBonus(createdAt time.Time) int {
	if createdAt.IsZero() {
		return 0
	}
	months := int(time.Since(createdAt).Seconds()) / secondsPerMonth
	return clamp(months, 0, maxAgeBonus)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SuccessRate returns the fraction rounded to two decimal places, or nil
// when total is zero (spec §4.2: successRate is null with no actions yet).
func SuccessRate(successful, total int64) *float64 {
	if total <= 0 {
		return nil
	}
	rate := math.Round(float64(successful)/float64(total)*100) / 100
	return &rate
}
