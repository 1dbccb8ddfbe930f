package rtconsensus

import "slices"

// Feedback is one entry in an issue's append-only feedback log.
type Feedback struct {
	From             string
	TargetProposalID int
	Comment          string
	Tick             int
}

// Issue is the single deliberation target of one engine instance.
// It owns the versioned proposal list, the agent-to-proposal assignment,
// and the feedback log.
type Issue struct {
	ID               string
	ProblemStatement string
	Background       string

	// AgentIDs is the set of agents assigned (authorized) to this issue.
	AgentIDs []string

	Proposals []*Proposal

	// AgentProposalIDs maps each agent to the proposal it currently backs.
	AgentProposalIDs map[string]int

	FeedbackLog []Feedback
}

// NewIssue returns an issue with no proposals and no assignments.
func NewIssue(id, problemStatement, background string) *Issue {
	return &Issue{
		ID:               id,
		ProblemStatement: problemStatement,
		Background:       background,
		AgentProposalIDs: make(map[string]int),
	}
}

// IsAssigned reports whether the agent is authorized to act on this issue.
func (i *Issue) IsAssigned(agentID string) bool {
	return slices.Contains(i.AgentIDs, agentID)
}

// AddProposal appends p to the issue.
// If p is active and agent-authored, the author's current-proposal
// assignment is updated to p.
func (i *Issue) AddProposal(p *Proposal) {
	i.Proposals = append(i.Proposals, p)
	if p.Active && p.AuthorType == AuthorTypeAgent {
		i.AgentProposalIDs[p.Author] = p.ID
	}
}

// ProposalByID returns the proposal with the given ID, or nil.
// Lookup is a linear search; proposal lists stay small
// (one entry per submission or revision).
func (i *Issue) ProposalByID(id int) *Proposal {
	for _, p := range i.Proposals {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// ActiveProposalByAuthor returns the unique active proposal in the lineage
// the agent owns, or nil if the agent has none.
func (i *Issue) ActiveProposalByAuthor(agentID string) *Proposal {
	for _, p := range i.Proposals {
		if p.Active && p.Author == agentID {
			return p
		}
	}
	return nil
}

// AssignAgentToProposal sets the agent's current proposal unconditionally.
func (i *Issue) AssignAgentToProposal(agentID string, proposalID int) {
	i.AgentProposalIDs[agentID] = proposalID
}

// AddFeedback appends an entry to the feedback log.
func (i *Issue) AddFeedback(from string, targetProposalID int, comment string, tick int) {
	i.FeedbackLog = append(i.FeedbackLog, Feedback{
		From:             from,
		TargetProposalID: targetProposalID,
		Comment:          comment,
		Tick:             tick,
	})
}

// CountFeedbacksBy returns how many feedback entries the agent has given.
func (i *Issue) CountFeedbacksBy(agentID string) int {
	n := 0
	for _, fb := range i.FeedbackLog {
		if fb.From == agentID {
			n++
		}
	}
	return n
}
