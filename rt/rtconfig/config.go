// Package rtconfig loads and validates the YAML configuration for a
// roundtable simulation run.
package rtconfig

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
)

// Config is the root of the YAML document.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	AgentPool  AgentPoolConfig  `yaml:"agent_pool"`
	Consensus  ConsensusConfig  `yaml:"consensus"`
	Issue      IssueConfig      `yaml:"issue"`
}

// SimulationConfig controls the outer scenario loop.
type SimulationConfig struct {
	MaxScenarios int `yaml:"max_scenarios"`

	// PoolSeed seeds agent pool generation; RunSeed seeds scenario
	// execution. Scenario i derives its seed as RunSeed+i.
	PoolSeed int64 `yaml:"pool_seed"`
	RunSeed  int64 `yaml:"run_seed"`

	// NumAgents is how many agents each scenario selects from the pool.
	NumAgents int `yaml:"num_agents"`
}

// AgentPoolConfig controls generated agent pools.
type AgentPoolConfig struct {
	MinSize int `yaml:"min_size"`

	// SizeMultiplier scales the pool relative to NumAgents so scenario
	// selection has slack.
	SizeMultiplier int `yaml:"size_multiplier"`

	// BalanceRange is the inclusive [min, max] initial CP per agent.
	BalanceRange [2]int `yaml:"balance_range"`
}

// ConsensusConfig carries the per-deliberation protocol parameters.
type ConsensusConfig struct {
	AssignmentAward     int `yaml:"assignment_award"`
	ProposalSelfStake   int `yaml:"proposal_self_stake"`
	FeedbackStake       int `yaml:"feedback_stake"`
	MaxFeedbackPerAgent int `yaml:"max_feedback_per_agent"`

	RevisionCycles int `yaml:"revision_cycles"`
	StakingRounds  int `yaml:"staking_rounds"`

	MaxThinkTicks            int `yaml:"max_think_ticks"`
	FeedbackCommentMaxLength int `yaml:"feedback_comment_max_length"`

	ConvictionParams rtconsensus.ConvictionParams `yaml:"conviction_params"`
}

// IssueConfig describes the issue every scenario deliberates.
type IssueConfig struct {
	ProblemStatement string `yaml:"problem_statement"`
	Background       string `yaml:"background"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{
			MaxScenarios: 1,
			PoolSeed:     42,
			RunSeed:      1000,
			NumAgents:    5,
		},
		AgentPool: AgentPoolConfig{
			MinSize:        10,
			SizeMultiplier: 2,
			BalanceRange:   [2]int{200, 400},
		},
		Consensus: ConsensusConfig{
			AssignmentAward:          100,
			ProposalSelfStake:        50,
			FeedbackStake:            5,
			MaxFeedbackPerAgent:      3,
			RevisionCycles:           1,
			StakingRounds:            5,
			MaxThinkTicks:            3,
			FeedbackCommentMaxLength: 500,
			ConvictionParams: rtconsensus.ConvictionParams{
				MaxMultiplier:  2.0,
				TargetFraction: 0.98,
				TargetRounds:   5,
			},
		},
		Issue: IssueConfig{
			ProblemStatement: "Decide how the shared infrastructure budget is allocated.",
			Background:       "Several competing proposals exist; the group must converge on one.",
		},
	}
}

// Load reads and parses the file at path, layered over Default.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML document from r, layered over Default.
// Fields absent from the document keep their default values.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the documented parameter bounds.
func (c Config) Validate() error {
	s := c.Simulation
	if s.MaxScenarios < 1 {
		return fmt.Errorf("rtconfig: max_scenarios must be >= 1, got %d", s.MaxScenarios)
	}
	if s.NumAgents < 2 {
		return fmt.Errorf("rtconfig: num_agents must be >= 2, got %d", s.NumAgents)
	}

	p := c.AgentPool
	if p.MinSize < 1 {
		return fmt.Errorf("rtconfig: agent_pool.min_size must be >= 1, got %d", p.MinSize)
	}
	if p.SizeMultiplier < 1 {
		return fmt.Errorf("rtconfig: agent_pool.size_multiplier must be >= 1, got %d", p.SizeMultiplier)
	}
	if p.BalanceRange[0] < 1 || p.BalanceRange[1] < p.BalanceRange[0] {
		return fmt.Errorf("rtconfig: agent_pool.balance_range [%d, %d] is not a valid range",
			p.BalanceRange[0], p.BalanceRange[1])
	}

	cc := c.Consensus
	switch {
	case cc.AssignmentAward < 1:
		return fmt.Errorf("rtconfig: assignment_award must be >= 1, got %d", cc.AssignmentAward)
	case cc.ProposalSelfStake < 1:
		return fmt.Errorf("rtconfig: proposal_self_stake must be >= 1, got %d", cc.ProposalSelfStake)
	case cc.FeedbackStake < 1:
		return fmt.Errorf("rtconfig: feedback_stake must be >= 1, got %d", cc.FeedbackStake)
	case cc.MaxFeedbackPerAgent < 1:
		return fmt.Errorf("rtconfig: max_feedback_per_agent must be >= 1, got %d", cc.MaxFeedbackPerAgent)
	case cc.RevisionCycles < 1 || cc.RevisionCycles > 4:
		return fmt.Errorf("rtconfig: revision_cycles must be in [1,4], got %d", cc.RevisionCycles)
	case cc.StakingRounds < 5 || cc.StakingRounds > 10:
		return fmt.Errorf("rtconfig: staking_rounds must be in [5,10], got %d", cc.StakingRounds)
	case cc.MaxThinkTicks < 1:
		return fmt.Errorf("rtconfig: max_think_ticks must be >= 1, got %d", cc.MaxThinkTicks)
	case cc.FeedbackCommentMaxLength < 1:
		return fmt.Errorf("rtconfig: feedback_comment_max_length must be >= 1, got %d", cc.FeedbackCommentMaxLength)
	}

	cp := cc.ConvictionParams
	if !cp.Exponential() && cp.Base <= 0 {
		return errors.New("rtconfig: conviction_params must configure exponential or linear growth")
	}

	if c.Issue.ProblemStatement == "" {
		return errors.New("rtconfig: issue.problem_statement is required")
	}
	return nil
}

// PoolSize returns the agent pool size implied by the config:
// NumAgents scaled by SizeMultiplier, floored at MinSize.
func (c Config) PoolSize() int {
	n := c.Simulation.NumAgents * c.AgentPool.SizeMultiplier
	if n < c.AgentPool.MinSize {
		return c.AgentPool.MinSize
	}
	return n
}
