package reputation_test

import (
	"testing"
	"time"

	"github.com/agenttrust/station/internal/reputation"
)

func TestScore_BaseOnly(t *testing.T) {
	score := reputation.Score(reputation.Input{})
	if score != 50 {
		t.Errorf("Score() = %d, want 50", score)
	}
}

func TestScore_IdentityBonus(t *testing.T) {
	score := reputation.Score(reputation.Input{IdentityVerified: true})
	if score != 60 {
		t.Errorf("Score() = %d, want 60", score)
	}
}

func TestScore_StakeBonusClampedAndFloored(t *testing.T) {
	cases := []struct {
		amount float64
		want   int // score with only stake bonus on top of base
	}{
		{0, 50},
		{1, 55},     // min(15, 5+floor(1/100)) = 5
		{250, 57},   // min(15, 5+2) = 7
		{5000, 65},  // min(15, 5+50) = 15, clamped
	}
	for _, c := range cases {
		got := reputation.Score(reputation.Input{StakeAmount: c.amount})
		if got != c.want {
			t.Errorf("Score(stake=%v) = %d, want %d", c.amount, got, c.want)
		}
	}
}

func TestScore_VouchBonusClamped(t *testing.T) {
	got := reputation.Score(reputation.Input{VouchesReceivedCount: 50})
	if got != 70 { // min(20, 2*50)=20 -> 50+20
		t.Errorf("Score(vouches=50) = %d, want 70", got)
	}
}

func TestScore_SuccessRateBonusRounded(t *testing.T) {
	got := reputation.Score(reputation.Input{TotalActions: 3, SuccessfulActions: 2})
	// round(20 * 2/3) = round(13.33) = 13
	if got != 63 {
		t.Errorf("Score(2/3) = %d, want 63", got)
	}
}

func TestScore_AgeBonusClamped(t *testing.T) {
	got := reputation.Score(reputation.Input{CreatedAt: time.Now().Add(-400 * 24 * time.Hour)})
	if got != 60 { // > 10 months -> clamped to 10
		t.Errorf("Score(old agent) = %d, want 60", got)
	}
}

func TestScore_FailurePenaltyCanDriveToZero(t *testing.T) {
	got := reputation.Score(reputation.Input{FailedActions: 100})
	if got != 0 {
		t.Errorf("Score(100 failures) = %d, want 0 (clamped)", got)
	}
}

func TestScore_ClampedAtMax(t *testing.T) {
	got := reputation.Score(reputation.Input{
		IdentityVerified:     true,
		StakeAmount:          10000,
		VouchesReceivedCount: 100,
		TotalActions:         10,
		SuccessfulActions:    10,
		CreatedAt:            time.Now().Add(-1000 * 24 * time.Hour),
	})
	if got != 100 {
		t.Errorf("Score(max everything) = %d, want 100", got)
	}
}

func TestScore_Deterministic(t *testing.T) {
	in := reputation.Input{IdentityVerified: true, StakeAmount: 300, TotalActions: 7, SuccessfulActions: 5}
	a := reputation.Score(in)
	b := reputation.Score(in)
	if a != b {
		t.Errorf("Score() not deterministic: %d != %d", a, b)
	}
}

func TestSuccessRate_NilWhenNoActions(t *testing.T) {
	if rate := reputation.SuccessRate(0, 0); rate != nil {
		t.Errorf("SuccessRate(0,0) = %v, want nil", *rate)
	}
}

func TestSuccessRate_RoundedToTwoDecimals(t *testing.T) {
	rate := reputation.SuccessRate(2, 3)
	if rate == nil {
		t.Fatal("SuccessRate(2,3) = nil, want a value")
	}
	if *rate != 0.67 {
		t.Errorf("SuccessRate(2,3) = %v, want 0.67", *rate)
	}
}

func TestCompute_BreakdownSumsToScore(t *testing.T) {
	in := reputation.Input{IdentityVerified: true, StakeAmount: 200, VouchesReceivedCount: 3, TotalActions: 4, SuccessfulActions: 3, FailedActions: 1}
	b := reputation.Compute(in)
	sum := b.Base + b.IdentityBonus + b.StakeBonus + b.VouchBonus + b.SuccessRateBonus + b.AgeBonus - b.FailurePenalty
	if sum != b.Score {
		t.Errorf("breakdown components sum to %d, Score is %d", sum, b.Score)
	}
}
