// Package rtagent provides deterministic, trait-driven agent drivers
// and the pools scenarios draw them from.
//
// An agent's behavior is fully determined by its trait profile and its
// RNG seed; two agents with the same profile and seed make identical
// decisions given identical signals.
package rtagent

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
	"github.com/roundtable-engine/roundtable/rt/rtdriver"
)

// Traits is an agent's behavioral profile. All values are in [0, 1].
type Traits struct {
	// Initiative is the propensity to author a proposal.
	Initiative float64 `yaml:"initiative"`

	// Compliance is the propensity to revise when criticized.
	Compliance float64 `yaml:"compliance"`

	// RiskTolerance scales how much of the spendable balance the agent
	// commits per stake.
	RiskTolerance float64 `yaml:"risk_tolerance"`

	// SelfInterest is the propensity to back one's own proposal over
	// the current leader.
	SelfInterest float64 `yaml:"self_interest"`

	// Consistency is the propensity to hold a position rather than
	// switch or withdraw.
	Consistency float64 `yaml:"consistency"`

	// Persuasiveness is the propensity to spend CP on feedback.
	Persuasiveness float64 `yaml:"persuasiveness"`
}

// Archetype is a named trait profile.
type Archetype struct {
	Name   string
	Traits Traits
}

// Archetypes returns the built-in profiles, in the order pool
// generation cycles through them.
func Archetypes() []Archetype {
	return []Archetype{
		{Name: "builder", Traits: Traits{
			Initiative: 0.9, Compliance: 0.7, RiskTolerance: 0.6,
			SelfInterest: 0.8, Consistency: 0.8, Persuasiveness: 0.4,
		}},
		{Name: "critic", Traits: Traits{
			Initiative: 0.3, Compliance: 0.4, RiskTolerance: 0.4,
			SelfInterest: 0.3, Consistency: 0.6, Persuasiveness: 0.9,
		}},
		{Name: "pragmatist", Traits: Traits{
			Initiative: 0.5, Compliance: 0.8, RiskTolerance: 0.5,
			SelfInterest: 0.4, Consistency: 0.7, Persuasiveness: 0.5,
		}},
		{Name: "loyalist", Traits: Traits{
			Initiative: 0.2, Compliance: 0.5, RiskTolerance: 0.3,
			SelfInterest: 0.2, Consistency: 0.95, Persuasiveness: 0.2,
		}},
		{Name: "opportunist", Traits: Traits{
			Initiative: 0.6, Compliance: 0.3, RiskTolerance: 0.8,
			SelfInterest: 0.7, Consistency: 0.3, Persuasiveness: 0.6,
		}},
	}
}

// Agent is a deterministic rtdriver.AgentDriver.
type Agent struct {
	ID        string
	Archetype string
	Traits    Traits

	// InitialBalance is what the agent brings into a scenario, before
	// the assignment award.
	InitialBalance int

	rng *rand.Rand

	proposed bool
	lastPick int
	hasPick  bool
}

// New returns an agent whose decision stream is determined by seed.
func New(id, archetype string, traits Traits, initialBalance int, seed int64) *Agent {
	return &Agent{
		ID:             id,
		Archetype:      archetype,
		Traits:         traits,
		InitialBalance: initialBalance,
		rng:            rand.New(rand.NewSource(seed ^ idSeed(id))),
	}
}

// Reseed resets the agent's RNG and per-scenario memory so the same
// agent can run a fresh scenario deterministically.
func (a *Agent) Reseed(seed int64) {
	a.rng = rand.New(rand.NewSource(seed ^ idSeed(a.ID)))
	a.proposed = false
	a.hasPick = false
	a.lastPick = 0
}

func idSeed(id string) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return int64(h.Sum64())
}

// HandleSignal decides and enqueues the agent's response to one signal.
// Every path ends with the agent ready; trait agents never stall a phase.
func (a *Agent) HandleSignal(ctx context.Context, s rtdriver.Signal, q rtdriver.ActionSubmitter) {
	switch s.Type {
	case rtdriver.SignalPropose:
		a.handlePropose(s, q)
	case rtdriver.SignalFeedback:
		a.handleFeedback(s, q)
	case rtdriver.SignalRevise:
		a.handleRevise(s, q)
	case rtdriver.SignalStake:
		a.handleStake(s, q)
	default:
		a.ready(q)
	}
}

func (a *Agent) ready(q rtdriver.ActionSubmitter) {
	q.Submit(rtconsensus.Action{Type: rtconsensus.ActionSignalReady, AgentID: a.ID})
}

func (a *Agent) handlePropose(s rtdriver.Signal, q rtdriver.ActionSubmitter) {
	if a.proposed || s.CurrentBalance < s.ProposalSelfStake ||
		a.rng.Float64() >= a.Traits.Initiative {
		a.ready(q)
		return
	}

	a.proposed = true
	q.Submit(rtconsensus.Action{
		Type:    rtconsensus.ActionSubmitProposal,
		AgentID: a.ID,
		SubmitProposal: &rtconsensus.SubmitProposalAction{
			Content: a.proposalContent(s),
			IssueID: s.IssueID,
		},
	})
}

func (a *Agent) handleFeedback(s rtdriver.Signal, q rtdriver.ActionSubmitter) {
	target, ok := a.pickOtherProposal(s)
	if !ok || a.rng.Float64() >= a.Traits.Persuasiveness {
		a.ready(q)
		return
	}

	q.Submit(rtconsensus.Action{
		Type:    rtconsensus.ActionFeedback,
		AgentID: a.ID,
		Feedback: &rtconsensus.FeedbackAction{
			TargetProposalID: target,
			Comment:          a.feedbackComment(target),
			Tick:             s.Tick,
			IssueID:          s.IssueID,
		},
	})
}

func (a *Agent) handleRevise(s rtdriver.Signal, q rtdriver.ActionSubmitter) {
	ownsCurrent := s.CurrentProposalID != nil &&
		*s.CurrentProposalID != rtconsensus.NoActionProposalID && a.proposed
	if !ownsCurrent || len(s.FeedbackReceived) == 0 ||
		a.rng.Float64() >= a.Traits.Compliance {
		a.ready(q)
		return
	}

	q.Submit(rtconsensus.Action{
		Type:    rtconsensus.ActionRevise,
		AgentID: a.ID,
		Revise: &rtconsensus.ReviseAction{
			NewContent: a.revisedContent(s),
			Tick:       s.Tick,
			IssueID:    s.IssueID,
		},
	})
}

func (a *Agent) handleStake(s rtdriver.Signal, q rtdriver.ActionSubmitter) {
	amount := a.stakeAmount(s.CurrentBalance)
	if amount == 0 {
		a.ready(q)
		return
	}

	pid := a.pickStakeTarget(s)
	q.Submit(rtconsensus.Action{
		Type:    rtconsensus.ActionStake,
		AgentID: a.ID,
		Stake: &rtconsensus.StakeAction{
			ProposalID:   pid,
			StakeAmount:  amount,
			RoundNumber:  s.RoundNumber,
			Tick:         s.Tick,
			IssueID:      s.IssueID,
			ChoiceReason: a.Archetype,
		},
	})
	a.lastPick = pid
	a.hasPick = true
}

// stakeAmount commits a risk-scaled fraction of the spendable balance,
// at least 1 CP when any balance remains.
func (a *Agent) stakeAmount(balance int) int {
	if balance <= 0 {
		return 0
	}
	amount := int(float64(balance) * a.Traits.RiskTolerance * a.rng.Float64())
	if amount < 1 {
		amount = 1
	}
	if amount > balance {
		amount = balance
	}
	return amount
}

// pickStakeTarget holds the previous pick with probability Consistency,
// backs its own proposal with probability SelfInterest, and otherwise
// follows the current conviction leader.
func (a *Agent) pickStakeTarget(s rtdriver.Signal) int {
	if a.hasPick && a.rng.Float64() < a.Traits.Consistency {
		return a.lastPick
	}
	if s.CurrentProposalID != nil && a.rng.Float64() < a.Traits.SelfInterest {
		return *s.CurrentProposalID
	}
	if leader, ok := convictionLeader(s.CurrentConviction); ok {
		return leader
	}
	if s.CurrentProposalID != nil {
		return *s.CurrentProposalID
	}
	return rtconsensus.NoActionProposalID
}

// convictionLeader returns the proposal with the most accumulated CP
// across all agents. Ties resolve to the lower proposal id.
func convictionLeader(conviction map[string]map[int]int) (int, bool) {
	totals := make(map[int]int)
	for _, byProposal := range conviction {
		for pid, cp := range byProposal {
			totals[pid] += cp
		}
	}
	if len(totals) == 0 {
		return 0, false
	}

	pids := make([]int, 0, len(totals))
	for pid := range totals {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	best := pids[0]
	for _, pid := range pids[1:] {
		if totals[pid] > totals[best] {
			best = pid
		}
	}
	return best, true
}

// pickOtherProposal chooses a deterministic random proposal authored by
// another agent.
func (a *Agent) pickOtherProposal(s rtdriver.Signal) (int, bool) {
	var candidates []int
	for agentID, pid := range s.AllProposals {
		if agentID == a.ID || pid == rtconsensus.NoActionProposalID {
			continue
		}
		candidates = append(candidates, pid)
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.Ints(candidates)
	return candidates[a.rng.Intn(len(candidates))], true
}

func (a *Agent) proposalContent(s rtdriver.Signal) string {
	angle := pickPhrase(a.rng, proposalAngles)
	return fmt.Sprintf("%s proposes to %s. The plan favors %s and commits to measurable checkpoints. Funding follows delivery.",
		a.ID, angle, pickPhrase(a.rng, proposalPriorities))
}

func (a *Agent) feedbackComment(targetID int) string {
	return fmt.Sprintf("Proposal %d %s. %s", targetID,
		pickPhrase(a.rng, feedbackCritiques), pickPhrase(a.rng, feedbackAsks))
}

func (a *Agent) revisedContent(s rtdriver.Signal) string {
	return fmt.Sprintf("%s proposes a revised plan addressing %d comments. The scope now favors %s with staged delivery. Funding follows delivery. Oversight reports monthly.",
		a.ID, len(s.FeedbackReceived), pickPhrase(a.rng, proposalPriorities))
}

func pickPhrase(rng *rand.Rand, phrases []string) string {
	return phrases[rng.Intn(len(phrases))]
}

var (
	proposalAngles = []string{
		"consolidate the budget into a single funded workstream",
		"split the budget across the two highest-demand requests",
		"defer spending until demand is re-measured",
		"fund a pilot and gate the remainder on its results",
	}
	proposalPriorities = []string{
		"near-term impact", "long-term capacity", "broad participation", "lowest execution risk",
	}
	feedbackCritiques = []string{
		"understates the execution risk",
		"leaves the success criteria vague",
		"allocates too much to a single workstream",
		"ignores the maintenance burden",
	}
	feedbackAsks = []string{
		"Add explicit checkpoints.",
		"Name an owner per workstream.",
		"Reserve a contingency share.",
		"Define what failure looks like.",
	}
)
