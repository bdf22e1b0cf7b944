package services

import "math"

// Rating engine tunables (tunable via config/env later)
const (
	BaseKFactor          = 32.0
	PlacementKMultiplier = 1.5 // amplified swings while in placement
	PlacementMatchTotal  = 5   // matches granted on return from inactivity

	RatingFloor = 100

	// No rating gain from farming easy AI opponents at high skill.
	BotTierCap = 70

	WinnerBonusCap = 10
	LoserBonusCap  = 5

	// A strong loser still falls less far.
	LossProtectionComposite  = 750
	LossProtectionAccuracy   = 0.85
	LossProtectionMultiplier = 0.7
)

// Performance bands over the 0-1000 composite score, best first.
const (
	BandElite  = "elite"
	BandStrong = "strong"
	BandSolid  = "solid"
	BandWeak   = "weak"
	BandPoor   = "poor"
)

type performanceBand struct {
	Name      string
	MinScore  int
	WinnerMul float64
	LoserMul  float64
}

// Winner multipliers reward dominant wins; loser multipliers are the mirror
// image so a heavily-outplayed loss costs less than a collapsed one.
var performanceBands = []performanceBand{
	{BandElite, 850, 1.2, 0.8},
	{BandStrong, 700, 1.1, 0.9},
	{BandSolid, 500, 1.0, 1.0},
	{BandWeak, 300, 0.9, 1.1},
	{BandPoor, 0, 0.8, 1.2},
}

type bonusRung struct {
	Threshold float64
	Bonus     int
}

// Threshold bonus ladders: only the single highest qualifying rung of each
// ladder counts.
var (
	accuracyBonusLadder = []bonusRung{
		{0.95, 5},
		{0.90, 4},
		{0.80, 2},
	}
	speedBonusLadder = []bonusRung{ // avg response ms, lower is better
		{1500, 5},
		{2500, 3},
		{4000, 1},
	}
	streakBonusLadder = []bonusRung{
		{10, 5},
		{6, 3},
		{3, 1},
	}
)

// Void reasons; empty string means the match is ratable.
const (
	VoidReasonDraw       = "draw"
	VoidReasonIntegrity  = "connection_integrity"
	VoidReasonBotTierCap = "bot_tier_cap"
)

// DeltaBreakdown carries the final delta plus how it was assembled, for the
// response payload and the history row.
type DeltaBreakdown struct {
	Band                 string  `json:"band"`
	Expected             float64 `json:"expected"`
	Base                 float64 `json:"base"`
	TierMultiplier       float64 `json:"tier_multiplier"`
	ProtectionMultiplier float64 `json:"protection_multiplier"`
	AccuracyBonus        int     `json:"accuracy_bonus"`
	SpeedBonus           int     `json:"speed_bonus"`
	StreakBonus          int     `json:"streak_bonus"`
	BonusApplied         int     `json:"bonus_applied"` // after cap
	Delta                int     `json:"delta"`
}

// ExpectedScore is the standard logistic curve: the probability the player
// beats the opponent given current ratings.
func ExpectedScore(playerRating, opponentRating int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(opponentRating-playerRating)/400.0))
}

// EffectiveKFactor returns the K to feed ComputeDelta: base K, amplified
// while the player is inside their placement window.
func EffectiveKFactor(placementMatchesLeft int) float64 {
	if placementMatchesLeft > 0 {
		return BaseKFactor * PlacementKMultiplier
	}
	return BaseKFactor
}

// BandFor buckets a 0-1000 composite score into its performance band.
func BandFor(composite int) string {
	for _, b := range performanceBands {
		if composite >= b.MinScore {
			return b.Name
		}
	}
	return BandPoor
}

func bandMultiplier(composite int, won bool) (string, float64) {
	for _, b := range performanceBands {
		if composite >= b.MinScore {
			if won {
				return b.Name, b.WinnerMul
			}
			return b.Name, b.LoserMul
		}
	}
	last := performanceBands[len(performanceBands)-1]
	if won {
		return last.Name, last.WinnerMul
	}
	return last.Name, last.LoserMul
}

// highestRung returns the bonus of the best qualifying rung, where qualify
// means value >= threshold when ascending is true, value <= threshold when
// false (speed ladder).
func highestRung(ladder []bonusRung, value float64, ascending bool) int {
	for _, r := range ladder {
		if ascending && value >= r.Threshold {
			return r.Bonus
		}
		if !ascending && value <= r.Threshold {
			return r.Bonus
		}
	}
	return 0
}

// VoidReason decides up front whether a match outcome is ratable for this
// player. Draws, degraded connections, and high-tier humans beating bots all
// zero the delta.
func VoidReason(isDraw bool, integrity string, isAIMatch bool, humanTier int) string {
	if isDraw {
		return VoidReasonDraw
	}
	if integrity == IntegrityDegraded || integrity == IntegrityFailed {
		return VoidReasonIntegrity
	}
	if isAIMatch && humanTier > BotTierCap {
		return VoidReasonBotTierCap
	}
	return ""
}

// ComputeDelta runs the full multi-stage formula for one side of a ratable
// match: logistic base, performance-band multiplier, loss protection, then
// capped threshold bonuses. It is a pure function — callers handle void
// matches and the rating floor.
func ComputeDelta(playerRating, opponentRating int, won bool, perf PerformanceStats, kFactor float64) DeltaBreakdown {
	expected := ExpectedScore(playerRating, opponentRating)
	actual := 0.0
	if won {
		actual = 1.0
	}
	base := kFactor * (actual - expected)

	band, tierMul := bandMultiplier(perf.Composite, won)

	protection := 1.0
	if !won && (perf.Composite >= LossProtectionComposite || perf.Accuracy >= LossProtectionAccuracy) {
		protection = LossProtectionMultiplier
	}

	accBonus := highestRung(accuracyBonusLadder, perf.Accuracy, true)
	speedBonus := highestRung(speedBonusLadder, float64(perf.AvgResponseMs), false)
	streakBonus := highestRung(streakBonusLadder, float64(perf.MaxStreak), true)

	bonus := accBonus + speedBonus + streakBonus
	cap := WinnerBonusCap
	if !won {
		cap = LoserBonusCap
	}
	if bonus > cap {
		bonus = cap
	}

	delta := int(math.Round(base*tierMul*protection)) + bonus

	return DeltaBreakdown{
		Band:                 band,
		Expected:             expected,
		Base:                 base,
		TierMultiplier:       tierMul,
		ProtectionMultiplier: protection,
		AccuracyBonus:        accBonus,
		SpeedBonus:           speedBonus,
		StreakBonus:          streakBonus,
		BonusApplied:         bonus,
		Delta:                delta,
	}
}

// ClampRating applies the protective floor after a delta lands.
func ClampRating(rating int) int {
	if rating < RatingFloor {
		return RatingFloor
	}
	return rating
}
