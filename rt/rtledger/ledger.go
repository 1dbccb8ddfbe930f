// Package rtledger implements the credit-point ledger of a roundtable run:
// agent balances, the staked bucket, the append-only stake and credit-event
// records, and the conviction tables that finalization aggregates.
//
// All predicate operations return bool rather than error; every
// state-changing outcome emits exactly one structured event to the sink.
package rtledger

import (
	"context"
	"log/slog"
	"slices"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
	"github.com/roundtable-engine/roundtable/rt/rtstore"
)

// LedgerConfig carries the dependencies for a Ledger.
type LedgerConfig struct {
	Log  *slog.Logger
	Sink rtstore.EventSink

	InitialBalances map[string]int

	// PhaseFn, if set, supplies the current phase for emitted events.
	PhaseFn func() rtconsensus.PhaseKind
}

// Ledger tracks every credit point in a run.
//
// CP lives in exactly one of two places per agent: the spendable balance
// or the staked bucket. Stakes are recoverable until finalize; burns
// (feedback stakes, revision costs) leave both.
type Ledger struct {
	log  *slog.Logger
	sink rtstore.EventSink

	phaseFn func() rtconsensus.PhaseKind

	balances map[string]int
	staked   map[string]int

	events  []rtconsensus.CreditEvent
	records []rtconsensus.StakeRecord

	// conviction is a lazily populated two-level map:
	// agent id -> proposal id -> entry.
	conviction map[string]map[int]*rtconsensus.ConvictionEntry

	// firstStakeTick records, per proposal id, the earliest tick at which
	// a stake record referenced it. Finalization tie-breaks on it.
	firstStakeTick map[int]int
}

// NewLedger returns a ledger seeded with the given balances.
// The initial balances are copied; no credit events are emitted for them.
func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Sink == nil {
		cfg.Sink = rtstore.NopSink{}
	}

	balances := make(map[string]int, len(cfg.InitialBalances))
	for id, b := range cfg.InitialBalances {
		balances[id] = b
	}

	return &Ledger{
		log:            cfg.Log,
		sink:           cfg.Sink,
		phaseFn:        cfg.PhaseFn,
		balances:       balances,
		staked:         make(map[string]int),
		conviction:     make(map[string]map[int]*rtconsensus.ConvictionEntry),
		firstStakeTick: make(map[int]int),
	}
}

func (l *Ledger) phase() rtconsensus.PhaseKind {
	if l.phaseFn == nil {
		return rtconsensus.PhaseInit
	}
	return l.phaseFn()
}

func (l *Ledger) emit(ctx context.Context, e rtstore.Entry) {
	e.Phase = l.phase()
	if err := l.sink.EmitEvent(ctx, e); err != nil {
		l.log.Warn("Event sink rejected ledger event", "type", e.Type, "err", err)
	}
}

// Balance returns the agent's spendable balance. Unknown agents have zero.
func (l *Ledger) Balance(agentID string) int {
	return l.balances[agentID]
}

// StakedBalance returns the CP the agent currently holds in the staked bucket.
func (l *Ledger) StakedBalance(agentID string) int {
	return l.staked[agentID]
}

// Credit unconditionally adds amount to the agent's balance.
func (l *Ledger) Credit(ctx context.Context, agentID string, amount int, reason string, tick int, issueID string) {
	l.balances[agentID] += amount
	l.events = append(l.events, rtconsensus.CreditEvent{
		Type:    rtconsensus.CreditEventCredit,
		AgentID: agentID,
		Amount:  amount,
		Reason:  reason,
		Tick:    tick,
		IssueID: issueID,
	})

	l.emit(ctx, rtstore.Entry{
		Tick:    tick,
		Type:    rtstore.EventCreditAward,
		AgentID: agentID,
		Payload: map[string]any{
			"amount":      amount,
			"reason":      reason,
			"new_balance": l.balances[agentID],
			"issue_id":    issueID,
		},
		Message: "Credit awarded",
		Level:   slog.LevelInfo,
	})
	l.log.Info("Credit awarded", "agent", agentID, "amount", amount, "reason", reason)
}

// TryDeduct atomically burns amount from the agent's balance if it covers it.
// It emits a Burn event on success and InsufficientCredit on failure.
func (l *Ledger) TryDeduct(ctx context.Context, agentID string, amount int, reason string, tick int, issueID string) bool {
	if l.balances[agentID] < amount {
		l.recordInsufficient(ctx, agentID, amount, reason, tick, issueID)
		return false
	}

	l.balances[agentID] -= amount
	l.events = append(l.events, rtconsensus.CreditEvent{
		Type:    rtconsensus.CreditEventBurn,
		AgentID: agentID,
		Amount:  -amount,
		Reason:  reason,
		Tick:    tick,
		IssueID: issueID,
	})

	l.emit(ctx, rtstore.Entry{
		Tick:    tick,
		Type:    rtstore.EventCreditBurn,
		AgentID: agentID,
		Payload: map[string]any{
			"amount":      amount,
			"reason":      reason,
			"new_balance": l.balances[agentID],
			"issue_id":    issueID,
		},
		Message: "Credit burned",
		Level:   slog.LevelInfo,
	})
	return true
}

func (l *Ledger) recordInsufficient(ctx context.Context, agentID string, amount int, reason string, tick int, issueID string) {
	l.events = append(l.events, rtconsensus.CreditEvent{
		Type:    rtconsensus.CreditEventInsufficientCredit,
		AgentID: agentID,
		Amount:  amount,
		Reason:  reason,
		Tick:    tick,
		IssueID: issueID,
	})

	l.emit(ctx, rtstore.Entry{
		Tick:    tick,
		Type:    rtstore.EventInsufficientCredit,
		AgentID: agentID,
		Payload: map[string]any{
			"amount":          amount,
			"reason":          reason,
			"current_balance": l.balances[agentID],
			"issue_id":        issueID,
		},
		Message: "Insufficient credit",
		Level:   slog.LevelWarn,
	})
	l.log.Warn("Insufficient credit",
		"agent", agentID, "requested", amount, "balance", l.balances[agentID], "reason", reason)
}

// StakeToProposal moves amount from the agent's balance into the staked
// bucket and appends a stake record. On insufficient balance no record
// is appended and false is returned.
//
// Staked CP is recoverable until finalize; the deduction is recorded as a
// Burn credit event whose reason identifies the stake.
func (l *Ledger) StakeToProposal(
	ctx context.Context,
	agentID string, proposalID, amount, tick int,
	issueID string,
	stakeType rtconsensus.StakeType,
) bool {
	reason := "Proposal Self Stake"
	if stakeType == rtconsensus.StakeTypeVoluntary {
		reason = "Voluntary Stake"
	}

	if !l.TryDeduct(ctx, agentID, amount, reason, tick, issueID) {
		return false
	}
	l.staked[agentID] += amount

	l.records = append(l.records, rtconsensus.StakeRecord{
		AgentID:    agentID,
		ProposalID: proposalID,
		CP:         amount,
		Tick:       tick,
		Type:       stakeType,
		IssueID:    issueID,
	})
	l.noteStakeTick(proposalID, tick)

	l.log.Info("Stake recorded",
		"agent", agentID, "proposal", proposalID, "amount", amount, "stake_type", stakeType)
	return true
}

// TransferStake rewrites every stake record on oldProposalID to
// newProposalID, updating each record's tick to the transfer tick.
// Returns true iff at least one record moved.
func (l *Ledger) TransferStake(ctx context.Context, oldProposalID, newProposalID, tick int, issueID string) bool {
	moved := 0
	for i := range l.records {
		if l.records[i].ProposalID != oldProposalID {
			continue
		}
		l.records[i].ProposalID = newProposalID
		l.records[i].Tick = tick
		moved++
	}
	if moved == 0 {
		return false
	}

	delete(l.firstStakeTick, oldProposalID)
	l.noteStakeTick(newProposalID, tick)

	l.log.Info("Stake transferred",
		"from_proposal", oldProposalID, "to_proposal", newProposalID, "records", moved, "tick", tick)
	return true
}

func (l *Ledger) noteStakeTick(proposalID, tick int) {
	if t, ok := l.firstStakeTick[proposalID]; !ok || tick < t {
		l.firstStakeTick[proposalID] = tick
	}
}

// AppendCreditEvent appends an already-built event to the credit ledger.
// Used for Revision, Finalization, and Influence records whose fields
// the controller or scheduler assembles.
func (l *Ledger) AppendCreditEvent(ev rtconsensus.CreditEvent) {
	l.events = append(l.events, ev)
}

// FirstStakeTick returns the earliest tick a stake record referenced the
// proposal, and whether any stake has ever referenced it.
func (l *Ledger) FirstStakeTick(proposalID int) (int, bool) {
	t, ok := l.firstStakeTick[proposalID]
	return t, ok
}

// Balances returns a copy of all spendable balances.
func (l *Ledger) Balances() map[string]int {
	out := make(map[string]int, len(l.balances))
	for id, b := range l.balances {
		out[id] = b
	}
	return out
}

// StakedBalances returns a copy of the per-agent staked buckets.
func (l *Ledger) StakedBalances() map[string]int {
	out := make(map[string]int, len(l.staked))
	for id, b := range l.staked {
		out[id] = b
	}
	return out
}

// Events returns a copy of the credit-event history in append order.
func (l *Ledger) Events() []rtconsensus.CreditEvent {
	return slices.Clone(l.events)
}

// StakeRecords returns a copy of the stake ledger in append order.
func (l *Ledger) StakeRecords() []rtconsensus.StakeRecord {
	return slices.Clone(l.records)
}

// StakeRecordsOfType returns the stake records with the given type,
// in append order.
func (l *Ledger) StakeRecordsOfType(t rtconsensus.StakeType) []rtconsensus.StakeRecord {
	var out []rtconsensus.StakeRecord
	for _, r := range l.records {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}
