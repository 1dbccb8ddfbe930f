package rtconfig_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roundtable-engine/roundtable/rt/rtconfig"
	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, rtconfig.Default().Validate())
}

func TestParse_LayersOverDefaults(t *testing.T) {
	t.Parallel()

	doc := `
simulation:
  max_scenarios: 3
  num_agents: 4
consensus:
  staking_rounds: 7
  conviction_params:
    max_multiplier: 3.0
    target_fraction: 0.9
    target_rounds: 4
issue:
  problem_statement: Pick a meeting cadence.
`
	cfg, err := rtconfig.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Simulation.MaxScenarios)
	require.Equal(t, 4, cfg.Simulation.NumAgents)
	require.Equal(t, 7, cfg.Consensus.StakingRounds)
	require.Equal(t, 3.0, cfg.Consensus.ConvictionParams.MaxMultiplier)
	require.Equal(t, "Pick a meeting cadence.", cfg.Issue.ProblemStatement)

	// Untouched sections keep their defaults.
	require.Equal(t, 50, cfg.Consensus.ProposalSelfStake)
	require.Equal(t, 100, cfg.Consensus.AssignmentAward)
	require.Equal(t, [2]int{200, 400}, cfg.AgentPool.BalanceRange)
}

func TestParse_EmptyDocumentIsDefault(t *testing.T) {
	t.Parallel()

	cfg, err := rtconfig.Parse(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, rtconfig.Default(), cfg)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := rtconfig.Parse(strings.NewReader("simulation:\n  max_rounds: 9\n"))
	require.Error(t, err)
}

func TestValidate_Bounds(t *testing.T) {
	t.Parallel()

	for name, mutate := range map[string]func(*rtconfig.Config){
		"zero scenarios":      func(c *rtconfig.Config) { c.Simulation.MaxScenarios = 0 },
		"one agent":           func(c *rtconfig.Config) { c.Simulation.NumAgents = 1 },
		"inverted balances":   func(c *rtconfig.Config) { c.AgentPool.BalanceRange = [2]int{400, 200} },
		"zero award":          func(c *rtconfig.Config) { c.Consensus.AssignmentAward = 0 },
		"zero self stake":     func(c *rtconfig.Config) { c.Consensus.ProposalSelfStake = 0 },
		"cycles too high":     func(c *rtconfig.Config) { c.Consensus.RevisionCycles = 5 },
		"rounds too low":      func(c *rtconfig.Config) { c.Consensus.StakingRounds = 4 },
		"rounds too high":     func(c *rtconfig.Config) { c.Consensus.StakingRounds = 11 },
		"no problem statement": func(c *rtconfig.Config) { c.Issue.ProblemStatement = "" },
		"no conviction growth": func(c *rtconfig.Config) {
			c.Consensus.ConvictionParams = rtconsensus.ConvictionParams{}
		},
	} {
		cfg := rtconfig.Default()
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestPoolSize(t *testing.T) {
	t.Parallel()

	cfg := rtconfig.Default()
	cfg.Simulation.NumAgents = 8
	cfg.AgentPool.SizeMultiplier = 3
	cfg.AgentPool.MinSize = 10
	require.Equal(t, 24, cfg.PoolSize())

	cfg.Simulation.NumAgents = 2
	require.Equal(t, 10, cfg.PoolSize())
}
