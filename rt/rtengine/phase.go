package rtengine

import (
	"context"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
	"github.com/roundtable-engine/roundtable/rt/rtdriver"
)

// Phase is one entry in the scheduler's ordered phase list.
//
// Begin runs on the phase's first tick, Do on every tick, and Finish on
// the tick where the phase tick reaches the think-tick budget. Once the
// budget is exhausted and every agent is ready, the advance to the next
// phase consumes one further tick during which no hook runs.
type Phase interface {
	Kind() rtconsensus.PhaseKind
	Number() int
	MaxThinkTicks() int

	Begin(ctx context.Context, e *Engine)
	Do(ctx context.Context, e *Engine)
	Finish(ctx context.Context, e *Engine)
}

type basePhase struct {
	kind          rtconsensus.PhaseKind
	number        int
	maxThinkTicks int
}

func (p basePhase) Kind() rtconsensus.PhaseKind     { return p.kind }
func (p basePhase) Number() int                     { return p.number }
func (p basePhase) MaxThinkTicks() int              { return p.maxThinkTicks }
func (p basePhase) Begin(context.Context, *Engine)  {}
func (p basePhase) Finish(context.Context, *Engine) {}

// GeneratePhases builds the ordered phase list:
// one propose phase, then revision_cycles feedback/revise pairs,
// then staking_rounds+1 stake rounds, then the finalize phase.
func GeneratePhases(cfg Config) []Phase {
	var phases []Phase
	n := 0
	next := func() int { n++; return n - 1 }

	phases = append(phases, &proposePhase{
		basePhase: basePhase{rtconsensus.PhasePropose, next(), cfg.MaxThinkTicks},
	})

	for cycle := 1; cycle <= cfg.RevisionCycles; cycle++ {
		phases = append(phases, &feedbackPhase{
			basePhase: basePhase{rtconsensus.PhaseFeedback, next(), cfg.MaxThinkTicks},
			cycle:     cycle,
		})
		phases = append(phases, &revisePhase{
			basePhase: basePhase{rtconsensus.PhaseRevise, next(), cfg.MaxThinkTicks},
			cycle:     cycle,
		})
	}

	for round := 1; round <= cfg.StakingRounds+1; round++ {
		phases = append(phases, &stakePhase{
			basePhase: basePhase{rtconsensus.PhaseStake, next(), cfg.MaxThinkTicks},
			round:     round,
		})
	}

	phases = append(phases, &finalizePhase{
		basePhase: basePhase{rtconsensus.PhaseFinalize, next(), cfg.MaxThinkTicks},
	})

	return phases
}

type proposePhase struct {
	basePhase
}

// Begin creates the system NoAction proposal so every later phase has a
// default target for agents that never act.
func (p *proposePhase) Begin(ctx context.Context, e *Engine) {
	noAction := &rtconsensus.Proposal{
		ID:             rtconsensus.NoActionProposalID,
		Content:        "Take no action.",
		Author:         rtconsensus.SystemAuthorID,
		AuthorType:     rtconsensus.AuthorTypeSystem,
		Type:           rtconsensus.ProposalTypeNoAction,
		RevisionNumber: 1,
		Active:         true,
		Tick:           e.state.Tick,
		IssueID:        e.state.Issue.ID,
	}
	e.state.Issue.AddProposal(noAction)

	e.log.Info("NoAction proposal created", "issue", e.state.Issue.ID, "tick", e.state.Tick)
}

func (p *proposePhase) Do(ctx context.Context, e *Engine) {
	for _, agentID := range e.state.AgentIDs() {
		if e.state.IsReady(agentID) {
			continue
		}
		e.signalAgent(ctx, agentID, rtdriver.Signal{
			Type:              rtdriver.SignalPropose,
			Tick:              e.state.Tick,
			IssueID:           e.state.Issue.ID,
			ProposalSelfStake: e.cfg.ProposalSelfStake,
			ConvictionParams:  e.cfg.ConvictionParams,
			CurrentBalance:    e.ledger.Balance(agentID),
		})
	}
}

// Finish stake-assigns every agent without a proposal to NoAction.
// This guarantees each agent carries a proposal into later phases.
func (p *proposePhase) Finish(ctx context.Context, e *Engine) {
	tick := e.state.Tick
	issueID := e.state.Issue.ID

	for _, agentID := range e.state.AgentIDs() {
		_, assigned := e.state.Issue.AgentProposalIDs[agentID]
		if e.state.IsReady(agentID) && assigned {
			continue
		}

		e.ledger.StakeToProposal(ctx, agentID, rtconsensus.NoActionProposalID,
			e.cfg.ProposalSelfStake, tick, issueID, rtconsensus.StakeTypeInitial)
		e.state.Issue.AssignAgentToProposal(agentID, rtconsensus.NoActionProposalID)
		e.controller.signalReady(ctx, agentID, "noaction_default")

		e.log.Info("Agent defaulted to NoAction", "agent", agentID, "tick", tick)
	}
}

type feedbackPhase struct {
	basePhase
	cycle int
}

// Do marks quota-exhausted agents ready instead of signaling them.
func (p *feedbackPhase) Do(ctx context.Context, e *Engine) {
	for _, agentID := range e.state.AgentIDs() {
		if e.state.IsReady(agentID) {
			continue
		}
		if e.state.Issue.CountFeedbacksBy(agentID) >= e.cfg.MaxFeedbackPerAgent {
			e.controller.signalReady(ctx, agentID, "feedback_quota_reached")
			continue
		}

		e.signalAgent(ctx, agentID, rtdriver.Signal{
			Type:              rtdriver.SignalFeedback,
			Tick:              e.state.Tick,
			IssueID:           e.state.Issue.ID,
			CycleNumber:       p.cycle,
			MaxFeedback:       e.cfg.MaxFeedbackPerAgent,
			CurrentBalance:    e.ledger.Balance(agentID),
			CurrentProposalID: e.currentProposalID(agentID),
			AllProposals:      e.allProposalIDs(),
		})
	}
}

// Finish forces readiness; the feedback phase never outlives its budget.
func (p *feedbackPhase) Finish(ctx context.Context, e *Engine) {
	for _, agentID := range e.state.AgentIDs() {
		e.controller.signalReady(ctx, agentID, "feedback_phase_timeout")
	}
}

type revisePhase struct {
	basePhase
	cycle int
}

func (p *revisePhase) Do(ctx context.Context, e *Engine) {
	for _, agentID := range e.state.AgentIDs() {
		if e.state.IsReady(agentID) {
			continue
		}
		e.signalAgent(ctx, agentID, rtdriver.Signal{
			Type:              rtdriver.SignalRevise,
			Tick:              e.state.Tick,
			IssueID:           e.state.Issue.ID,
			CycleNumber:       p.cycle,
			ProposalSelfStake: e.cfg.ProposalSelfStake,
			CurrentBalance:    e.ledger.Balance(agentID),
			CurrentProposalID: e.currentProposalID(agentID),
			AllProposals:      e.allProposalIDs(),
			FeedbackReceived:  e.feedbackFor(agentID),
		})
	}
}

type stakePhase struct {
	basePhase
	round int
}

// Begin seeds the conviction tables.
//
// On round 1 every initial stake record enters the conviction table;
// this is the only time initial self-stakes become conviction. On later
// rounds the streak of every held position that was not already advanced
// this round is incremented without adding CP, so passive holders keep
// building conviction.
func (p *stakePhase) Begin(ctx context.Context, e *Engine) {
	tick := e.state.Tick
	issueID := e.state.Issue.ID

	if p.round == 1 {
		for _, rec := range e.ledger.StakeRecordsOfType(rtconsensus.StakeTypeInitial) {
			upd := e.ledger.UpdateConviction(ctx, rec.AgentID, rec.ProposalID, rec.CP,
				e.cfg.ConvictionParams, p.round, tick, issueID)

			e.log.Info("Initial stake entered conviction",
				"agent", rec.AgentID, "proposal", rec.ProposalID, "amount", rec.CP,
				"effective_weight", upd.EffectiveWeight)
		}
		return
	}

	for _, pair := range e.ledger.ConvictionPairs() {
		if pair.Entry.ConsecutiveRounds == 0 || pair.Entry.LastRound >= p.round {
			continue
		}
		e.ledger.UpdateConviction(ctx, pair.AgentID, pair.ProposalID, 0,
			e.cfg.ConvictionParams, p.round, tick, issueID)
	}
}

func (p *stakePhase) Do(ctx context.Context, e *Engine) {
	conviction := e.ledger.AccumulatedByAgent()
	for _, agentID := range e.state.AgentIDs() {
		if e.state.IsReady(agentID) {
			continue
		}
		e.signalAgent(ctx, agentID, rtdriver.Signal{
			Type:              rtdriver.SignalStake,
			Tick:              e.state.Tick,
			IssueID:           e.state.Issue.ID,
			RoundNumber:       p.round,
			ConvictionParams:  e.cfg.ConvictionParams,
			CurrentBalance:    e.ledger.Balance(agentID),
			CurrentProposalID: e.currentProposalID(agentID),
			AllProposals:      e.allProposalIDs(),
			CurrentConviction: conviction,
		})
	}
}

type finalizePhase struct {
	basePhase
}

// Begin runs the finalization decision exactly once.
func (p *finalizePhase) Begin(ctx context.Context, e *Engine) {
	e.finalizeIssue(ctx)
}

func (p *finalizePhase) Do(ctx context.Context, e *Engine) {
	for _, agentID := range e.state.AgentIDs() {
		if e.state.IsReady(agentID) {
			continue
		}
		e.signalAgent(ctx, agentID, rtdriver.Signal{
			Type:    rtdriver.SignalFinalize,
			Tick:    e.state.Tick,
			IssueID: e.state.Issue.ID,
		})
	}
}
