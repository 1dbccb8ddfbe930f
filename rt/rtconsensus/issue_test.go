package rtconsensus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
)

func TestIssue_AddProposal_AssignsActiveAgentAuthors(t *testing.T) {
	t.Parallel()

	issue := rtconsensus.NewIssue("issue-1", "problem", "background")
	issue.AgentIDs = []string{"alice", "bob"}

	issue.AddProposal(&rtconsensus.Proposal{
		ID: rtconsensus.NoActionProposalID,
		Author: rtconsensus.SystemAuthorID, AuthorType: rtconsensus.AuthorTypeSystem,
		Type: rtconsensus.ProposalTypeNoAction, Active: true,
	})
	// System proposals never take over an agent's assignment.
	require.Empty(t, issue.AgentProposalIDs)

	issue.AddProposal(&rtconsensus.Proposal{
		ID: 1, Author: "alice", AuthorType: rtconsensus.AuthorTypeAgent,
		Type: rtconsensus.ProposalTypeStandard, Active: true, RevisionNumber: 1,
	})
	require.Equal(t, map[string]int{"alice": 1}, issue.AgentProposalIDs)
}

func TestIssue_ProposalByID(t *testing.T) {
	t.Parallel()

	issue := rtconsensus.NewIssue("issue-1", "problem", "background")
	issue.AddProposal(&rtconsensus.Proposal{ID: 1, Author: "alice", AuthorType: rtconsensus.AuthorTypeAgent, Active: true})
	issue.AddProposal(&rtconsensus.Proposal{ID: 2, Author: "bob", AuthorType: rtconsensus.AuthorTypeAgent, Active: true})

	require.Equal(t, "bob", issue.ProposalByID(2).Author)
	require.Nil(t, issue.ProposalByID(99))
}

func TestIssue_ActiveProposalByAuthor_FollowsRevisions(t *testing.T) {
	t.Parallel()

	issue := rtconsensus.NewIssue("issue-1", "problem", "background")

	root := &rtconsensus.Proposal{ID: 1, Author: "alice", AuthorType: rtconsensus.AuthorTypeAgent, Active: true, RevisionNumber: 1}
	issue.AddProposal(root)
	require.Equal(t, 1, issue.ActiveProposalByAuthor("alice").ID)

	parent := root.ID
	root.Active = false
	issue.AddProposal(&rtconsensus.Proposal{
		ID: 2, Author: "alice", AuthorType: rtconsensus.AuthorTypeAgent,
		Active: true, ParentID: &parent, RevisionNumber: 2,
	})

	active := issue.ActiveProposalByAuthor("alice")
	require.Equal(t, 2, active.ID)
	require.Equal(t, 2, active.RevisionNumber)
	require.Equal(t, 2, issue.AgentProposalIDs["alice"])
	require.Nil(t, issue.ActiveProposalByAuthor("bob"))
}

func TestIssue_FeedbackCounting(t *testing.T) {
	t.Parallel()

	issue := rtconsensus.NewIssue("issue-1", "problem", "background")
	issue.AddFeedback("bob", 1, "needs checkpoints", 4)
	issue.AddFeedback("bob", 1, "owner unclear", 5)
	issue.AddFeedback("carol", 1, "too broad", 5)

	require.Equal(t, 2, issue.CountFeedbacksBy("bob"))
	require.Equal(t, 1, issue.CountFeedbacksBy("carol"))
	require.Zero(t, issue.CountFeedbacksBy("alice"))
	require.Len(t, issue.FeedbackLog, 3)
}

func TestActionQueue_FIFOAndDrain(t *testing.T) {
	t.Parallel()

	q := rtconsensus.NewActionQueue()
	require.Zero(t, q.Len())

	q.Submit(rtconsensus.Action{Type: rtconsensus.ActionSignalReady, AgentID: "alice"})
	q.Submit(rtconsensus.Action{Type: rtconsensus.ActionSignalReady, AgentID: "bob"})
	require.Equal(t, 2, q.Len())

	drained := q.Drain()
	require.Len(t, drained, 2)
	require.Equal(t, "alice", drained[0].AgentID)
	require.Equal(t, "bob", drained[1].AgentID)

	require.Zero(t, q.Len())
	require.Empty(t, q.Drain())
}
