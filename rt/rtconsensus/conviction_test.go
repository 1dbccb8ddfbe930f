package rtconsensus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
)

func standardParams() rtconsensus.ConvictionParams {
	return rtconsensus.ConvictionParams{
		MaxMultiplier:  2.0,
		TargetFraction: 0.98,
		TargetRounds:   5,
	}
}

func TestConvictionParams_Exponential(t *testing.T) {
	t.Parallel()

	require.True(t, standardParams().Exponential())

	linear := rtconsensus.ConvictionParams{Base: 1.0, Growth: 0.1}
	require.False(t, linear.Exponential())
}

func TestConvictionParams_Multiplier_Exponential(t *testing.T) {
	t.Parallel()

	p := standardParams()

	// A zero or negative streak carries no bonus.
	require.Equal(t, 1.0, p.Multiplier(0))
	require.Equal(t, 1.0, p.Multiplier(-3))

	// At the target round count the multiplier covers the target
	// fraction of the gap exactly: 1 + (2-1)*0.98 = 1.98.
	require.Equal(t, 1.98, p.Multiplier(5))

	// Non-decreasing, asymptotic to the max. Three-decimal rounding
	// saturates the multiplier at 2.000 around round ten.
	prev := 1.0
	for r := 1; r <= 20; r++ {
		m := p.Multiplier(r)
		require.GreaterOrEqual(t, m, prev, "round %d", r)
		require.LessOrEqual(t, m, p.MaxMultiplier)
		prev = m
	}
	require.Equal(t, 2.0, p.Multiplier(20))

	require.InDelta(t, 1.543, p.Multiplier(1), 0.0005)
	require.InDelta(t, 1.791, p.Multiplier(2), 0.0005)
}

func TestConvictionParams_Multiplier_Linear(t *testing.T) {
	t.Parallel()

	p := rtconsensus.ConvictionParams{Base: 1.0, Growth: 0.1}
	require.Equal(t, 1.0, p.Multiplier(0))
	require.Equal(t, 1.3, p.Multiplier(3))
}

func TestRound2(t *testing.T) {
	t.Parallel()

	require.Equal(t, 99.55, rtconsensus.Round2(50*1.991))
	require.Equal(t, 0.0, rtconsensus.Round2(0))
}
