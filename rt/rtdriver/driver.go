// Package rtdriver holds the types through which the engine communicates
// with agent implementations. The engine signals each agent once per tick
// of the active phase; agents respond by enqueueing zero or more actions
// and must return without blocking.
package rtdriver

import (
	"context"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
)

// SignalType names the phase a signal originates from.
type SignalType string

const (
	SignalPropose  SignalType = "Propose"
	SignalFeedback SignalType = "Feedback"
	SignalRevise   SignalType = "Revise"
	SignalStake    SignalType = "Stake"
	SignalFinalize SignalType = "Finalize"
)

// Signal is the synchronous invitation sent to each agent during a
// phase's do step. Fields beyond Type, Tick, and IssueID are populated
// per signal type.
type Signal struct {
	Type    SignalType
	Tick    int
	IssueID string

	// CycleNumber identifies the feedback/revise cycle (Feedback, Revise).
	CycleNumber int

	// RoundNumber identifies the stake round (Stake).
	RoundNumber int

	// MaxFeedback is the per-agent feedback quota (Feedback).
	MaxFeedback int

	// ProposalSelfStake is the submission stake and the revision cost
	// base (Propose, Revise).
	ProposalSelfStake int

	ConvictionParams rtconsensus.ConvictionParams

	CurrentBalance int

	// CurrentProposalID is the proposal the agent currently backs,
	// or nil if unassigned.
	CurrentProposalID *int

	// AllProposals maps every assigned agent to its current proposal id.
	AllProposals map[string]int

	// FeedbackReceived lists feedback targeting the agent's current
	// proposal (Revise).
	FeedbackReceived []rtconsensus.Feedback

	// CurrentConviction maps agent -> proposal -> accumulated CP (Stake).
	CurrentConviction map[string]map[int]int
}

// ActionSubmitter is the agent's write-only access to the engine.
type ActionSubmitter interface {
	Submit(a rtconsensus.Action)
}

// AgentDriver makes decisions for a single agent.
// HandleSignal must return promptly; the engine does not run agent
// decisions concurrently with its own state mutation.
type AgentDriver interface {
	HandleSignal(ctx context.Context, s Signal, q ActionSubmitter)
}
