package rtledger

import (
	"context"
	"log/slog"
	"sort"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
	"github.com/roundtable-engine/roundtable/rt/rtstore"
)

// ConvictionUpdate reports the outcome of one conviction table update.
type ConvictionUpdate struct {
	Multiplier        float64
	EffectiveWeight   float64
	TotalConviction   int
	ConsecutiveRounds int

	// SwitchedFrom is the proposal whose streak was broken by this
	// update, or nil if the agent was not supporting another proposal.
	SwitchedFrom *int
}

// ConvictionPair is one (agent, proposal) conviction entry,
// returned in deterministic order by ConvictionPairs.
type ConvictionPair struct {
	AgentID    string
	ProposalID int
	Entry      rtconsensus.ConvictionEntry
}

func (l *Ledger) entryFor(agentID string, proposalID int) *rtconsensus.ConvictionEntry {
	byProposal, ok := l.conviction[agentID]
	if !ok {
		byProposal = make(map[int]*rtconsensus.ConvictionEntry)
		l.conviction[agentID] = byProposal
	}
	e, ok := byProposal[proposalID]
	if !ok {
		e = &rtconsensus.ConvictionEntry{}
		byProposal[proposalID] = e
	}
	return e
}

// currentSupport returns the proposal on which the agent holds an active
// streak, other than exclude. At most one such proposal can exist.
func (l *Ledger) currentSupport(agentID string, exclude int) (int, bool) {
	for pid, e := range l.conviction[agentID] {
		if pid != exclude && e.ConsecutiveRounds > 0 {
			return pid, true
		}
	}
	return 0, false
}

// UpdateConviction accumulates stakeAmount toward the agent's conviction
// on the proposal and advances the streak, at most once per round: a pair
// whose LastRound already covers roundNumber gains CP but no streak.
//
// If the agent held a streak on a different proposal, that streak resets
// to zero (the switching penalty) but its accumulated CP is untouched.
// A stakeAmount of zero advances the streak without adding CP; the
// scheduler uses that to build conviction for passive holders.
func (l *Ledger) UpdateConviction(
	ctx context.Context,
	agentID string, proposalID, stakeAmount int,
	params rtconsensus.ConvictionParams,
	roundNumber, tick int,
	issueID string,
) ConvictionUpdate {
	var switchedFrom *int
	if prev, ok := l.currentSupport(agentID, proposalID); ok {
		l.conviction[agentID][prev].ConsecutiveRounds = 0
		switchedFrom = &prev

		l.emit(ctx, rtstore.Entry{
			Tick:    tick,
			Type:    rtstore.EventConvictionSwitched,
			AgentID: agentID,
			Payload: map[string]any{
				"from_proposal_id": prev,
				"to_proposal_id":   proposalID,
				"issue_id":         issueID,
			},
			Message: "Conviction switched; previous streak reset",
			Level:   slog.LevelInfo,
		})
	}

	e := l.entryFor(agentID, proposalID)
	e.AccumulatedCP += stakeAmount
	if roundNumber > e.LastRound {
		e.ConsecutiveRounds++
		e.TotalRoundsHeld++
		e.LastRound = roundNumber
	}

	mult := params.Multiplier(e.ConsecutiveRounds)
	return ConvictionUpdate{
		Multiplier:        mult,
		EffectiveWeight:   rtconsensus.Round2(float64(stakeAmount) * mult),
		TotalConviction:   e.AccumulatedCP,
		ConsecutiveRounds: e.ConsecutiveRounds,
		SwitchedFrom:      switchedFrom,
	}
}

// HasSufficientConviction reports whether the agent has at least cpAmount
// accumulated on the proposal.
func (l *Ledger) HasSufficientConviction(agentID string, proposalID, cpAmount int) bool {
	byProposal, ok := l.conviction[agentID]
	if !ok {
		return false
	}
	e, ok := byProposal[proposalID]
	return ok && e.AccumulatedCP >= cpAmount
}

// SwitchConviction moves cpAmount of accumulated conviction from src to dst.
// Both streaks reset to zero; dst starts a fresh streak on its next stake.
// Returns false without mutating anything if the agent's accumulation on
// src does not cover cpAmount.
func (l *Ledger) SwitchConviction(
	ctx context.Context,
	agentID string, src, dst, cpAmount, tick int,
	issueID, reason string,
) bool {
	if !l.HasSufficientConviction(agentID, src, cpAmount) {
		return false
	}

	srcEntry := l.conviction[agentID][src]
	srcEntry.AccumulatedCP -= cpAmount
	srcEntry.ConsecutiveRounds = 0

	dstEntry := l.entryFor(agentID, dst)
	dstEntry.AccumulatedCP += cpAmount
	dstEntry.ConsecutiveRounds = 0

	l.noteStakeTick(dst, tick)

	l.log.Info("Conviction switched",
		"agent", agentID, "from_proposal", src, "to_proposal", dst,
		"amount", cpAmount, "reason", reason)
	return true
}

// UnstakeFromProposal returns cpAmount of accumulated conviction to the
// agent's spendable balance. The streak on the proposal resets to zero.
// Returns false without mutating anything if accumulation is insufficient.
func (l *Ledger) UnstakeFromProposal(
	ctx context.Context,
	agentID string, proposalID, cpAmount, tick int,
	issueID, reason string,
) bool {
	if !l.HasSufficientConviction(agentID, proposalID, cpAmount) {
		return false
	}

	e := l.conviction[agentID][proposalID]
	e.AccumulatedCP -= cpAmount
	e.ConsecutiveRounds = 0

	if l.staked[agentID] >= cpAmount {
		l.staked[agentID] -= cpAmount
	} else {
		l.staked[agentID] = 0
	}

	l.Credit(ctx, agentID, cpAmount, reason, tick, issueID)
	return true
}

// ConvictionEntryFor returns a copy of the conviction entry for the pair,
// and whether one exists.
func (l *Ledger) ConvictionEntryFor(agentID string, proposalID int) (rtconsensus.ConvictionEntry, bool) {
	byProposal, ok := l.conviction[agentID]
	if !ok {
		return rtconsensus.ConvictionEntry{}, false
	}
	e, ok := byProposal[proposalID]
	if !ok {
		return rtconsensus.ConvictionEntry{}, false
	}
	return *e, true
}

// ConvictionPairs returns every conviction entry, ordered by agent id
// and then proposal id. Finalization and snapshots iterate this so that
// identical runs produce identical event streams.
func (l *Ledger) ConvictionPairs() []ConvictionPair {
	var pairs []ConvictionPair
	for agentID, byProposal := range l.conviction {
		for pid, e := range byProposal {
			pairs = append(pairs, ConvictionPair{
				AgentID:    agentID,
				ProposalID: pid,
				Entry:      *e,
			})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].AgentID != pairs[j].AgentID {
			return pairs[i].AgentID < pairs[j].AgentID
		}
		return pairs[i].ProposalID < pairs[j].ProposalID
	})
	return pairs
}

// AccumulatedByAgent returns, for agents with any accumulated conviction,
// a map of proposal id to accumulated CP. The result is a copy.
func (l *Ledger) AccumulatedByAgent() map[string]map[int]int {
	out := make(map[string]map[int]int, len(l.conviction))
	for agentID, byProposal := range l.conviction {
		inner := make(map[int]int, len(byProposal))
		for pid, e := range byProposal {
			if e.AccumulatedCP > 0 {
				inner[pid] = e.AccumulatedCP
			}
		}
		if len(inner) > 0 {
			out[agentID] = inner
		}
	}
	return out
}
