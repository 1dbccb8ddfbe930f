package rtconsensus

import "math"

// ConvictionParams controls how the conviction multiplier grows with
// the number of consecutive rounds an agent holds a stake.
//
// When MaxMultiplier, TargetFraction, and TargetRounds are all set,
// growth is exponential: the multiplier approaches MaxMultiplier,
// reaching the TargetFraction of the way there after TargetRounds rounds.
// Otherwise Base and Growth define a linear fallback.
type ConvictionParams struct {
	MaxMultiplier  float64 `yaml:"max_multiplier"`
	TargetFraction float64 `yaml:"target_fraction"`
	TargetRounds   int     `yaml:"target_rounds"`

	Base   float64 `yaml:"base"`
	Growth float64 `yaml:"growth"`
}

// Exponential reports whether the exponential growth mode is configured.
func (p ConvictionParams) Exponential() bool {
	return p.MaxMultiplier > 1 && p.TargetFraction > 0 && p.TargetFraction < 1 && p.TargetRounds >= 1
}

// Multiplier returns the conviction multiplier for a streak of rounds,
// rounded to three decimals. A zero streak always yields 1.0 in
// exponential mode.
func (p ConvictionParams) Multiplier(rounds int) float64 {
	if p.Exponential() {
		if rounds <= 0 {
			return 1.0
		}
		k := -math.Log(1-p.TargetFraction) / float64(p.TargetRounds)
		m := 1 + (p.MaxMultiplier-1)*(1-math.Exp(-k*float64(rounds)))
		return round3(m)
	}
	return round3(p.Base + p.Growth*float64(rounds))
}

// ConvictionEntry is the derived aggregate for one (agent, proposal) pair.
type ConvictionEntry struct {
	// AccumulatedCP is the sum of stakes toward the proposal
	// in the current hold period.
	AccumulatedCP int

	// ConsecutiveRounds is the streak length; it resets to zero
	// when the agent switches support.
	ConsecutiveRounds int

	// TotalRoundsHeld is monotonic and never resets.
	TotalRoundsHeld int

	// LastRound is the stake round that last advanced this entry.
	// The scheduler uses it to avoid double-advancing a streak
	// within a single round.
	LastRound int
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// Round2 rounds to two decimals. Effective weights are reported at
// this precision everywhere.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}
