// Package rtstore defines the observer interfaces the engine emits to:
// a structured event sink and a per-tick snapshot store.
// Implementations must not influence protocol behavior.
package rtstore

import (
	"context"
	"log/slog"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
)

// EventType enumerates every structured event the engine emits.
type EventType string

const (
	EventSimulationStart    EventType = "SIMULATION_START"
	EventSimulationComplete EventType = "SIMULATION_COMPLETE"
	EventSimulationError    EventType = "SIMULATION_ERROR"
	EventScenarioStart      EventType = "SCENARIO_START"
	EventScenarioComplete   EventType = "SCENARIO_COMPLETE"

	EventConsensusTick   EventType = "CONSENSUS_TICK"
	EventPhaseTransition EventType = "PHASE_TRANSITION"
	EventAgentReady      EventType = "AGENT_READY"

	EventProposalReceived EventType = "PROPOSAL_RECEIVED"
	EventProposalAccepted EventType = "PROPOSAL_ACCEPTED"
	EventProposalRejected EventType = "PROPOSAL_REJECTED"

	EventFeedbackReceived EventType = "FEEDBACK_RECEIVED"
	EventFeedbackAccepted EventType = "FEEDBACK_ACCEPTED"
	EventFeedbackRejected EventType = "FEEDBACK_REJECTED"

	EventRevisionReceived EventType = "REVISION_RECEIVED"
	EventRevisionAccepted EventType = "REVISION_ACCEPTED"
	EventRevisionRejected EventType = "REVISION_REJECTED"
	EventRevisionWarning  EventType = "REVISION_WARNING"

	EventStakeReceived EventType = "STAKE_RECEIVED"
	EventStakeRecorded EventType = "STAKE_RECORDED"
	EventStakeRejected EventType = "STAKE_REJECTED"

	EventSwitchReceived EventType = "SWITCH_RECEIVED"
	EventSwitchRecorded EventType = "SWITCH_RECORDED"
	EventSwitchRejected EventType = "SWITCH_REJECTED"

	EventUnstakeReceived EventType = "UNSTAKE_RECEIVED"
	EventUnstakeRecorded EventType = "UNSTAKE_RECORDED"
	EventUnstakeRejected EventType = "UNSTAKE_REJECTED"

	EventCreditBurn         EventType = "CREDIT_BURN"
	EventCreditAward        EventType = "CREDIT_AWARD"
	EventInsufficientCredit EventType = "INSUFFICIENT_CREDIT"
	EventConvictionSwitched EventType = "CONVICTION_SWITCHED"

	EventFinalizationDecision EventType = "FINALIZATION_DECISION"
	EventInfluenceRecorded    EventType = "INFLUENCE_RECORDED"
	EventIssueFinalized       EventType = "ISSUE_FINALIZED"
)

// Entry is one structured record emitted to an EventSink.
type Entry struct {
	Tick    int
	Phase   rtconsensus.PhaseKind
	Type    EventType
	AgentID string
	Payload map[string]any
	Message string
	Level   slog.Level
}

// Snapshot is the full engine state serialized once per tick.
type Snapshot struct {
	Tick      int
	Phase     rtconsensus.PhaseKind
	PhaseTick int

	AgentBalances    map[string]int
	AgentStaked      map[string]int
	AgentReadiness   map[string]bool
	AgentProposalIDs map[string]int

	Proposals    []rtconsensus.Proposal
	StakeRecords []rtconsensus.StakeRecord
	CreditEvents []rtconsensus.CreditEvent

	ProposalCounter  int
	IssueFinalized   bool
	FinalizationTick int
}

// EventSink receives every structured engine event, in emission order.
type EventSink interface {
	EmitEvent(ctx context.Context, e Entry) error
}

// SnapshotStore receives one snapshot per tick.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s Snapshot) error
}

// NopSink discards events and snapshots.
type NopSink struct{}

func (NopSink) EmitEvent(context.Context, Entry) error { return nil }
func (NopSink) SaveSnapshot(context.Context, Snapshot) error { return nil }
