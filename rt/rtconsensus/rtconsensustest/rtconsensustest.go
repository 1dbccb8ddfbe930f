// Package rtconsensustest provides canned issues, deterministic agent
// drivers, and standard parameter sets for tests exercising the
// deliberation engine.
package rtconsensustest

import (
	"context"
	"fmt"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
	"github.com/roundtable-engine/roundtable/rt/rtdriver"
)

// StandardConvictionParams is the exponential parameter set most tests
// use: the multiplier approaches 2.0, covering 98% of the gap after
// five held rounds.
func StandardConvictionParams() rtconsensus.ConvictionParams {
	return rtconsensus.ConvictionParams{
		MaxMultiplier:  2.0,
		TargetFraction: 0.98,
		TargetRounds:   5,
	}
}

// AgentIDs returns n deterministic agent ids: agent-01, agent-02, ...
func AgentIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("agent-%02d", i+1)
	}
	return ids
}

// NewIssue returns an issue with n assigned agents and a fixed
// problem statement.
func NewIssue(id string, n int) *rtconsensus.Issue {
	issue := rtconsensus.NewIssue(id,
		"Decide how the community garden budget is spent this season.",
		"The garden has a 500 CP discretionary budget and three competing requests.")
	issue.AgentIDs = AgentIDs(n)
	return issue
}

// ScriptedDriver answers each signal type with a fixed handler.
//
// A handler returns the actions to enqueue for that signal; the driver
// stamps its agent id on each before submitting. Signals with no handler
// resolve to a bare signal_ready, so scripted agents never stall a phase.
type ScriptedDriver struct {
	ID string

	Handlers map[rtdriver.SignalType]func(s rtdriver.Signal) []rtconsensus.Action
}

// NewScriptedDriver returns a driver with no handlers; every signal
// resolves to signal_ready until handlers are added.
func NewScriptedDriver(id string) *ScriptedDriver {
	return &ScriptedDriver{
		ID:       id,
		Handlers: make(map[rtdriver.SignalType]func(s rtdriver.Signal) []rtconsensus.Action),
	}
}

// On registers the handler for one signal type and returns the driver.
func (d *ScriptedDriver) On(t rtdriver.SignalType, h func(s rtdriver.Signal) []rtconsensus.Action) *ScriptedDriver {
	d.Handlers[t] = h
	return d
}

func (d *ScriptedDriver) HandleSignal(ctx context.Context, s rtdriver.Signal, q rtdriver.ActionSubmitter) {
	h, ok := d.Handlers[s.Type]
	if !ok {
		q.Submit(rtconsensus.Action{Type: rtconsensus.ActionSignalReady, AgentID: d.ID})
		return
	}

	acts := h(s)
	for _, a := range acts {
		a.AgentID = d.ID
		q.Submit(a)
	}
	if len(acts) == 0 {
		q.Submit(rtconsensus.Action{Type: rtconsensus.ActionSignalReady, AgentID: d.ID})
	}
}

// PassiveDriver signals ready for every phase and never acts.
// Engines full of passive drivers finalize on the NoAction proposal.
type PassiveDriver struct {
	ID string
}

func (d PassiveDriver) HandleSignal(ctx context.Context, s rtdriver.Signal, q rtdriver.ActionSubmitter) {
	q.Submit(rtconsensus.Action{Type: rtconsensus.ActionSignalReady, AgentID: d.ID})
}

// ProposeOnce returns a handler that submits content on the first
// propose signal and stays silent afterward.
func ProposeOnce(content string) func(s rtdriver.Signal) []rtconsensus.Action {
	submitted := false
	return func(s rtdriver.Signal) []rtconsensus.Action {
		if submitted {
			return nil
		}
		submitted = true
		return []rtconsensus.Action{{
			Type: rtconsensus.ActionSubmitProposal,
			SubmitProposal: &rtconsensus.SubmitProposalAction{
				Content: content,
				IssueID: s.IssueID,
			},
		}}
	}
}

// StakeEveryRound returns a handler that stakes amount on the proposal
// chosen by pick each stake round. pick receives the signal so it can
// inspect balances and the current conviction map.
func StakeEveryRound(amount int, pick func(s rtdriver.Signal) int) func(s rtdriver.Signal) []rtconsensus.Action {
	return func(s rtdriver.Signal) []rtconsensus.Action {
		return []rtconsensus.Action{{
			Type: rtconsensus.ActionStake,
			Stake: &rtconsensus.StakeAction{
				ProposalID:  pick(s),
				StakeAmount: amount,
				RoundNumber: s.RoundNumber,
				Tick:        s.Tick,
				IssueID:     s.IssueID,
			},
		}}
	}
}

// OwnProposal is a pick function for StakeEveryRound that targets the
// agent's current proposal, falling back to NoAction when unassigned.
func OwnProposal(s rtdriver.Signal) int {
	if s.CurrentProposalID != nil {
		return *s.CurrentProposalID
	}
	return rtconsensus.NoActionProposalID
}
