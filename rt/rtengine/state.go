package rtengine

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
)

// State is the single mutable value a roundtable engine owns.
// Everything the tick loop, the controller, and the phases touch
// lives here; no other component holds protocol state.
type State struct {
	Tick int

	CurrentPhase rtconsensus.PhaseKind

	// CurrentPhaseNumber is the number of the phase the state last
	// observed; -1 before the first tick. Phase transitions are detected
	// by number, not kind, so consecutive stake rounds each reset
	// readiness and the phase tick.
	CurrentPhaseNumber int
	PhaseTick          int

	Issue *rtconsensus.Issue

	// agentIDs is sorted; all per-agent iteration in the engine follows
	// this order so identical runs emit identical event streams.
	agentIDs   []string
	agentIndex map[string]uint
	ready      *bitset.BitSet

	// LatestProposalIDs tracks, per agent, the newest proposal id in the
	// lineage the agent authored. Used by the stale-self-stake guard.
	LatestProposalIDs map[string]int

	// ProposalsThisPhase tracks which agents already submitted during
	// the current propose phase.
	ProposalsThisPhase map[string]struct{}

	proposalCounter int

	IssueFinalized   bool
	FinalizationTick int
}

// NewState returns a state for the issue with all agents unready.
// Proposal id 0 stays reserved for the NoAction proposal; the counter
// starts at 1.
func NewState(issue *rtconsensus.Issue, agentIDs []string) *State {
	ids := make([]string, len(agentIDs))
	copy(ids, agentIDs)
	sort.Strings(ids)

	idx := make(map[string]uint, len(ids))
	for i, id := range ids {
		idx[id] = uint(i)
	}

	return &State{
		CurrentPhase:       rtconsensus.PhaseInit,
		CurrentPhaseNumber: -1,
		Issue:              issue,
		agentIDs:           ids,
		agentIndex:         idx,
		ready:              bitset.New(uint(len(ids))),
		LatestProposalIDs:  make(map[string]int),
		ProposalsThisPhase: make(map[string]struct{}),
		proposalCounter:    1,
	}
}

// AgentIDs returns the assigned agents in sorted order.
// Callers must not mutate the returned slice.
func (s *State) AgentIDs() []string {
	return s.agentIDs
}

// NextProposalID returns the next monotonic proposal id.
func (s *State) NextProposalID() int {
	id := s.proposalCounter
	s.proposalCounter++
	return id
}

// ProposalCounter returns the next id that would be assigned.
func (s *State) ProposalCounter() int {
	return s.proposalCounter
}

// MarkReady sets the agent's ready flag.
// It returns true iff the flag actually changed; marking an
// already-ready agent is a no-op.
func (s *State) MarkReady(agentID string) bool {
	i, ok := s.agentIndex[agentID]
	if !ok || s.ready.Test(i) {
		return false
	}
	s.ready.Set(i)
	return true
}

// IsReady reports the agent's ready flag.
func (s *State) IsReady(agentID string) bool {
	i, ok := s.agentIndex[agentID]
	return ok && s.ready.Test(i)
}

// AllReady reports whether every assigned agent is ready.
func (s *State) AllReady() bool {
	return s.ready.Count() == uint(len(s.agentIDs))
}

// ResetReadiness clears every ready flag.
func (s *State) ResetReadiness() {
	s.ready.ClearAll()
}

// Readiness returns a copy of the per-agent ready flags.
func (s *State) Readiness() map[string]bool {
	out := make(map[string]bool, len(s.agentIDs))
	for _, id := range s.agentIDs {
		out[id] = s.ready.Test(s.agentIndex[id])
	}
	return out
}
