package rtengine_test

import (
	"context"
	"strings"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
	"github.com/roundtable-engine/roundtable/rt/rtconsensus/rtconsensustest"
	"github.com/roundtable-engine/roundtable/rt/rtdriver"
	"github.com/roundtable-engine/roundtable/rt/rtengine"
	"github.com/roundtable-engine/roundtable/rt/rtstore"
	"github.com/roundtable-engine/roundtable/rt/rtstore/rtmemstore"
)

// standardConfig wires a three-tick, one-cycle, five-round engine over
// the given drivers, capturing everything in the returned store.
func standardConfig(t *testing.T, issue *rtconsensus.Issue, drivers map[string]rtdriver.AgentDriver) (rtengine.Config, *rtmemstore.Store) {
	t.Helper()

	store := rtmemstore.NewStore()
	return rtengine.Config{
		Log:                 slogt.New(t),
		Sink:                store,
		Snapshots:           store,
		Issue:               issue,
		Drivers:             drivers,
		AssignmentAward:     100,
		ProposalSelfStake:   50,
		FeedbackStake:       5,
		MaxFeedbackPerAgent: 3,
		RevisionCycles:      1,
		StakingRounds:       5,
		MaxThinkTicks:       3,
		ConvictionParams:    rtconsensustest.StandardConvictionParams(),
	}, store
}

func runToCompletion(t *testing.T, cfg rtengine.Config) *rtengine.Engine {
	t.Helper()
	ctx := context.Background()

	e, err := rtengine.New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx))
	return e
}

func TestEngine_ConfigValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issue := rtconsensustest.NewIssue("issue-1", 3)
	base, _ := standardConfig(t, issue, nil)

	for name, mutate := range map[string]func(*rtengine.Config){
		"no issue":             func(c *rtengine.Config) { c.Issue = nil },
		"zero award":           func(c *rtengine.Config) { c.AssignmentAward = 0 },
		"zero self stake":      func(c *rtengine.Config) { c.ProposalSelfStake = 0 },
		"zero feedback stake":  func(c *rtengine.Config) { c.FeedbackStake = 0 },
		"zero feedback quota":  func(c *rtengine.Config) { c.MaxFeedbackPerAgent = 0 },
		"cycles too high":      func(c *rtengine.Config) { c.RevisionCycles = 5 },
		"rounds too low":       func(c *rtengine.Config) { c.StakingRounds = 4 },
		"rounds too high":      func(c *rtengine.Config) { c.StakingRounds = 11 },
		"issue without agents": func(c *rtengine.Config) { c.Issue = rtconsensus.NewIssue("empty", "p", "b") },
	} {
		cfg := base
		mutate(&cfg)
		_, err := rtengine.New(ctx, cfg)
		require.Error(t, err, name)
	}
}

// With every agent passive, the NoAction proposal wins on the default
// self-stakes alone.
func TestEngine_AllPassiveAgentsFinalizeOnNoAction(t *testing.T) {
	t.Parallel()

	issue := rtconsensustest.NewIssue("issue-1", 3)
	drivers := make(map[string]rtdriver.AgentDriver)
	for _, id := range issue.AgentIDs {
		drivers[id] = rtconsensustest.PassiveDriver{ID: id}
	}

	cfg, store := standardConfig(t, issue, drivers)
	e := runToCompletion(t, cfg)

	result, finalized := e.Result()
	require.True(t, finalized)
	require.True(t, result.Decided)
	require.Equal(t, rtconsensus.NoActionProposalID, result.WinningProposalID)
	require.Equal(t, rtconsensus.SystemAuthorID, result.WinningAuthor)

	require.Len(t, result.Standings, 1)
	require.Equal(t, 150, result.Standings[0].RawCP)
	require.Equal(t, 3, result.Standings[0].Contributors)
	// Each agent: 50 CP held for six rounds, multiplier 1.991.
	require.InDelta(t, 3*rtconsensus.Round2(50*1.991), result.Standings[0].EffectiveWeight, 0.001)

	for _, id := range issue.AgentIDs {
		require.Equal(t, 50, e.Ledger().Balance(id))
		require.Equal(t, 50, e.Ledger().StakedBalance(id))
	}

	require.Len(t, store.EntriesOfType(rtstore.EventIssueFinalized), 1)
	require.Len(t, store.EntriesOfType(rtstore.EventInfluenceRecorded), 3)

	snap, ok := store.LastSnapshot()
	require.True(t, ok)
	require.True(t, snap.IssueFinalized)
	require.Equal(t, result.Tick, snap.FinalizationTick)
}

// A proposal that attracts voluntary stakes beats the NoAction default,
// and conviction streaks broken by switching carry no multiplier.
func TestEngine_VoluntaryStakesOutweighDefaults(t *testing.T) {
	t.Parallel()

	issue := rtconsensustest.NewIssue("issue-1", 3)
	alice, bob, carol := issue.AgentIDs[0], issue.AgentIDs[1], issue.AgentIDs[2]

	backAlice := func(s rtdriver.Signal) int { return 1 }
	drivers := map[string]rtdriver.AgentDriver{
		alice: rtconsensustest.NewScriptedDriver(alice).
			On(rtdriver.SignalPropose, rtconsensustest.ProposeOnce("Fund the pilot. Gate the rest on results.")),
		bob: rtconsensustest.NewScriptedDriver(bob).
			On(rtdriver.SignalStake, rtconsensustest.StakeEveryRound(5, backAlice)),
		carol: rtconsensustest.NewScriptedDriver(carol).
			On(rtdriver.SignalStake, rtconsensustest.StakeEveryRound(5, backAlice)),
	}

	cfg, store := standardConfig(t, issue, drivers)
	e := runToCompletion(t, cfg)

	result, _ := e.Result()
	require.True(t, result.Decided)
	require.Equal(t, 1, result.WinningProposalID)
	require.Equal(t, alice, result.WinningAuthor)

	require.Len(t, result.Standings, 2)
	var noAction, winner rtengine.ProposalStanding
	for _, s := range result.Standings {
		switch s.ProposalID {
		case rtconsensus.NoActionProposalID:
			noAction = s
		case 1:
			winner = s
		}
	}

	// bob and carol abandoned NoAction in round 1: their 50 CP stays
	// but the streak reset leaves it at multiplier 1.0.
	require.Equal(t, 100, noAction.RawCP)
	require.InDelta(t, 100.0, noAction.EffectiveWeight, 0.001)

	// All three held the winner for six rounds (multiplier 1.991):
	// alice's 50 CP self stake, 30 CP staked by each of bob and carol.
	require.Equal(t, 110, winner.RawCP)
	require.Equal(t, 3, winner.Contributors)
	require.InDelta(t, rtconsensus.Round2(50*1.991)+2*rtconsensus.Round2(30*1.991), winner.EffectiveWeight, 0.001)

	require.Len(t, store.EntriesOfType(rtstore.EventConvictionSwitched), 2)

	// CP conservation: 300 CP awarded, none burned outside stakes.
	total := 0
	for _, id := range issue.AgentIDs {
		total += e.Ledger().Balance(id) + e.Ledger().StakedBalance(id)
	}
	require.Equal(t, 300, total)
}

// Revising replaces the active proposal, burns a delta-scaled cost, and
// carries the stake records to the new version.
func TestEngine_RevisionTransfersStake(t *testing.T) {
	t.Parallel()

	issue := rtconsensustest.NewIssue("issue-1", 2)
	alice, bob := issue.AgentIDs[0], issue.AgentIDs[1]

	contentA := "Build a shared tool shed. Fund it from the commons budget."
	contentB := "Build a shared tool shed. Fund it through member dues instead."

	drivers := map[string]rtdriver.AgentDriver{
		alice: rtconsensustest.NewScriptedDriver(alice).
			On(rtdriver.SignalPropose, rtconsensustest.ProposeOnce(contentA)).
			On(rtdriver.SignalRevise, func(s rtdriver.Signal) []rtconsensus.Action {
				if len(s.FeedbackReceived) == 0 {
					return nil
				}
				return []rtconsensus.Action{{
					Type: rtconsensus.ActionRevise,
					Revise: &rtconsensus.ReviseAction{
						NewContent: contentB,
						Tick:       s.Tick,
						IssueID:    s.IssueID,
					},
				}}
			}),
		bob: rtconsensustest.NewScriptedDriver(bob).
			On(rtdriver.SignalFeedback, func(s rtdriver.Signal) []rtconsensus.Action {
				return []rtconsensus.Action{{
					Type: rtconsensus.ActionFeedback,
					Feedback: &rtconsensus.FeedbackAction{
						TargetProposalID: s.AllProposals[alice],
						Comment:          "Dues are steadier than the commons budget.",
						Tick:             s.Tick,
						IssueID:          s.IssueID,
					},
				}}
			}),
	}

	cfg, store := standardConfig(t, issue, drivers)
	e := runToCompletion(t, cfg)

	// One sentence of two changed: delta 0.5, cost floor(50*0.5) = 25.
	require.Len(t, store.EntriesOfType(rtstore.EventRevisionAccepted), 1)
	accepted := store.EntriesOfType(rtstore.EventRevisionAccepted)[0]
	require.Equal(t, 0.5, accepted.Payload["delta"])
	require.Equal(t, 25, accepted.Payload["cost"])

	parent := e.Issue().ProposalByID(1)
	require.NotNil(t, parent)
	require.False(t, parent.Active)

	child := e.Issue().ProposalByID(2)
	require.NotNil(t, child)
	require.True(t, child.Active)
	require.Equal(t, alice, child.Author)
	require.Equal(t, 2, child.RevisionNumber)
	require.NotNil(t, child.ParentID)
	require.Equal(t, 1, *child.ParentID)
	require.Equal(t, contentB, child.Content)

	// 100 award - 50 self stake - 25 revision cost.
	require.Equal(t, 25, e.Ledger().Balance(alice))

	var revision *rtconsensus.CreditEvent
	for _, ev := range e.Ledger().Events() {
		if ev.Type == rtconsensus.CreditEventRevision {
			ev := ev
			revision = &ev
		}
	}
	require.NotNil(t, revision)
	require.Equal(t, -25, revision.Amount)
	require.Equal(t, 1, revision.ParentID)
	require.Equal(t, 2, revision.NewProposalID)
	require.Equal(t, 0.5, revision.Delta)

	// The initial self stake follows the lineage.
	initial := e.Ledger().StakeRecordsOfType(rtconsensus.StakeTypeInitial)
	var alicesStake []rtconsensus.StakeRecord
	for _, r := range initial {
		if r.AgentID == alice {
			alicesStake = append(alicesStake, r)
		}
	}
	require.Len(t, alicesStake, 1)
	require.Equal(t, 2, alicesStake[0].ProposalID)

	// Equal effective weights: NoAction staked earlier than the revised
	// lineage, so the tie breaks toward it.
	result, _ := e.Result()
	require.True(t, result.Decided)
	require.Equal(t, rtconsensus.NoActionProposalID, result.WinningProposalID)
}

// Two proposals with identical support and identical first stake ticks
// fall through to the lowest proposal id.
func TestEngine_TieBreaksOnLowestProposalID(t *testing.T) {
	t.Parallel()

	issue := rtconsensustest.NewIssue("issue-1", 2)
	alice, bob := issue.AgentIDs[0], issue.AgentIDs[1]

	drivers := map[string]rtdriver.AgentDriver{
		alice: rtconsensustest.NewScriptedDriver(alice).
			On(rtdriver.SignalPropose, rtconsensustest.ProposeOnce("Pave the north path. Review in spring.")),
		bob: rtconsensustest.NewScriptedDriver(bob).
			On(rtdriver.SignalPropose, rtconsensustest.ProposeOnce("Pave the south path. Review in autumn.")),
	}

	cfg, _ := standardConfig(t, issue, drivers)
	e := runToCompletion(t, cfg)

	result, _ := e.Result()
	require.True(t, result.Decided)
	require.Equal(t, 1, result.WinningProposalID)
	require.Equal(t, alice, result.WinningAuthor)
}

// An agent that cannot cover the self stake is rejected, defaults to
// NoAction, and a roundtable with no conviction at all ends undecided.
func TestEngine_InsufficientCPCascade(t *testing.T) {
	t.Parallel()

	issue := rtconsensustest.NewIssue("issue-1", 2)
	alice, bob := issue.AgentIDs[0], issue.AgentIDs[1]

	drivers := map[string]rtdriver.AgentDriver{
		alice: rtconsensustest.NewScriptedDriver(alice).
			On(rtdriver.SignalPropose, rtconsensustest.ProposeOnce("Spend everything at once.")),
		bob: rtconsensustest.PassiveDriver{ID: bob},
	}

	cfg, store := standardConfig(t, issue, drivers)
	cfg.AssignmentAward = 1
	cfg.ProposalSelfStake = 90

	e := runToCompletion(t, cfg)

	rejected := store.EntriesOfType(rtstore.EventProposalRejected)
	require.Len(t, rejected, 1)
	require.Equal(t, alice, rejected[0].AgentID)
	require.Equal(t, "insufficient_cp_for_stake", rejected[0].Payload["reason"])

	// Both agents were assigned to NoAction, but neither could cover the
	// default stake either, so no conviction exists and nothing wins.
	require.Equal(t, rtconsensus.NoActionProposalID, e.Issue().AgentProposalIDs[alice])
	require.Equal(t, rtconsensus.NoActionProposalID, e.Issue().AgentProposalIDs[bob])
	require.NotEmpty(t, store.EntriesOfType(rtstore.EventInsufficientCredit))

	result, finalized := e.Result()
	require.True(t, finalized)
	require.False(t, result.Decided)

	// A run without conviction still records an explicit no-winner
	// decision ahead of the terminal event.
	decisions := store.EntriesOfType(rtstore.EventFinalizationDecision)
	require.Len(t, decisions, 1)
	require.Equal(t, false, decisions[0].Payload["decided"])
	require.Len(t, store.EntriesOfType(rtstore.EventIssueFinalized), 1)
}

// Identical configurations and scripts produce byte-identical event
// streams.
func TestEngine_Deterministic(t *testing.T) {
	t.Parallel()

	run := func() []rtstore.Entry {
		issue := rtconsensustest.NewIssue("issue-1", 3)
		alice, bob, carol := issue.AgentIDs[0], issue.AgentIDs[1], issue.AgentIDs[2]

		backAlice := func(s rtdriver.Signal) int { return 1 }
		drivers := map[string]rtdriver.AgentDriver{
			alice: rtconsensustest.NewScriptedDriver(alice).
				On(rtdriver.SignalPropose, rtconsensustest.ProposeOnce("Fund the pilot. Gate the rest on results.")),
			bob: rtconsensustest.NewScriptedDriver(bob).
				On(rtdriver.SignalStake, rtconsensustest.StakeEveryRound(5, backAlice)),
			carol: rtconsensustest.NewScriptedDriver(carol).
				On(rtdriver.SignalStake, rtconsensustest.StakeEveryRound(5, backAlice)),
		}

		cfg, store := standardConfig(t, issue, drivers)
		runToCompletion(t, cfg)
		return store.Entries()
	}

	first := run()
	second := run()
	require.Equal(t, first, second)
}

// Phase transitions are detected by phase number, so consecutive stake
// rounds each reset readiness and re-signal agents.
func TestEngine_EveryStakeRoundTransitions(t *testing.T) {
	t.Parallel()

	issue := rtconsensustest.NewIssue("issue-1", 2)
	drivers := make(map[string]rtdriver.AgentDriver)
	for _, id := range issue.AgentIDs {
		drivers[id] = rtconsensustest.PassiveDriver{ID: id}
	}

	cfg, store := standardConfig(t, issue, drivers)
	runToCompletion(t, cfg)

	stakeTransitions := 0
	for _, e := range store.EntriesOfType(rtstore.EventPhaseTransition) {
		if e.Payload["to_phase"] == rtconsensus.PhaseStake {
			stakeTransitions++
		}
	}
	require.Equal(t, cfg.StakingRounds+1, stakeTransitions)

	// propose + feedback + revise + six stake rounds + finalize.
	require.Len(t, store.EntriesOfType(rtstore.EventPhaseTransition), 10)
}

// Advancing out of a completed phase consumes a tick of its own; the
// next phase begins on the following tick.
func TestEngine_PhaseAdvanceConsumesATick(t *testing.T) {
	t.Parallel()

	issue := rtconsensustest.NewIssue("issue-1", 2)
	drivers := make(map[string]rtdriver.AgentDriver)
	for _, id := range issue.AgentIDs {
		drivers[id] = rtconsensustest.PassiveDriver{ID: id}
	}

	cfg, store := standardConfig(t, issue, drivers)
	e := runToCompletion(t, cfg)

	var ticks []int
	for _, entry := range store.EntriesOfType(rtstore.EventPhaseTransition) {
		ticks = append(ticks, entry.Tick)
	}

	// Three think ticks per phase plus one advance tick between phases.
	require.Equal(t, []int{1, 5, 9, 13, 17, 21, 25, 29, 33, 37}, ticks)
	require.Equal(t, 40, e.Tick())
}

// feedbackOnce scripts a single batch of feedback actions on the first
// feedback signal; later signals fall through to ready.
func feedbackOnce(build func(s rtdriver.Signal) []rtconsensus.Action) func(s rtdriver.Signal) []rtconsensus.Action {
	sent := false
	return func(s rtdriver.Signal) []rtconsensus.Action {
		if sent {
			return nil
		}
		sent = true
		return build(s)
	}
}

func feedbackTargeting(s rtdriver.Signal, proposalID int, comment string) rtconsensus.Action {
	return rtconsensus.Action{
		Type: rtconsensus.ActionFeedback,
		Feedback: &rtconsensus.FeedbackAction{
			TargetProposalID: proposalID,
			Comment:          comment,
			Tick:             s.Tick,
			IssueID:          s.IssueID,
		},
	}
}

// Feedback may not target the proposal the agent itself backs, whether
// the agent authored it or was defaulted onto it.
func TestEngine_SelfFeedbackRejected(t *testing.T) {
	t.Parallel()

	issue := rtconsensustest.NewIssue("issue-1", 2)
	alice, bob := issue.AgentIDs[0], issue.AgentIDs[1]

	drivers := map[string]rtdriver.AgentDriver{
		alice: rtconsensustest.NewScriptedDriver(alice).
			On(rtdriver.SignalPropose, rtconsensustest.ProposeOnce("Fund the pilot. Gate the rest on results.")).
			On(rtdriver.SignalFeedback, feedbackOnce(func(s rtdriver.Signal) []rtconsensus.Action {
				return []rtconsensus.Action{
					feedbackTargeting(s, *s.CurrentProposalID, "Needs a contingency share."),
				}
			})),
		bob: rtconsensustest.NewScriptedDriver(bob).
			On(rtdriver.SignalFeedback, feedbackOnce(func(s rtdriver.Signal) []rtconsensus.Action {
				return []rtconsensus.Action{
					feedbackTargeting(s, rtconsensus.NoActionProposalID, "Doing nothing is underrated."),
				}
			})),
	}

	cfg, store := standardConfig(t, issue, drivers)
	e := runToCompletion(t, cfg)

	// alice targeted her own proposal, bob the NoAction proposal he was
	// defaulted onto. Both are self-feedback.
	rejected := store.EntriesOfType(rtstore.EventFeedbackRejected)
	require.Len(t, rejected, 2)
	for _, r := range rejected {
		require.Equal(t, "self_feedback", r.Payload["reason"])
	}
	require.Empty(t, store.EntriesOfType(rtstore.EventFeedbackAccepted))
	require.Empty(t, e.Issue().FeedbackLog)

	// No feedback stake was burned.
	require.Equal(t, 50, e.Ledger().Balance(alice))
	require.Equal(t, 50, e.Ledger().Balance(bob))
}

// Overlong comments and quota overruns are rejected without a burn;
// accepted feedback burns the stake.
func TestEngine_FeedbackQuotaAndLengthEnforced(t *testing.T) {
	t.Parallel()

	issue := rtconsensustest.NewIssue("issue-1", 2)
	alice, bob := issue.AgentIDs[0], issue.AgentIDs[1]

	drivers := map[string]rtdriver.AgentDriver{
		alice: rtconsensustest.NewScriptedDriver(alice).
			On(rtdriver.SignalPropose, rtconsensustest.ProposeOnce("Fund the pilot. Gate the rest on results.")),
		bob: rtconsensustest.NewScriptedDriver(bob).
			On(rtdriver.SignalFeedback, feedbackOnce(func(s rtdriver.Signal) []rtconsensus.Action {
				pid := s.AllProposals[alice]
				return []rtconsensus.Action{
					feedbackTargeting(s, pid, strings.Repeat("x", 501)),
					feedbackTargeting(s, pid, "Understates the execution risk."),
					feedbackTargeting(s, pid, "Name an owner per workstream."),
					feedbackTargeting(s, pid, "Reserve a contingency share."),
					feedbackTargeting(s, pid, "Define what failure looks like."),
				}
			})),
	}

	cfg, store := standardConfig(t, issue, drivers)
	e := runToCompletion(t, cfg)

	require.Len(t, store.EntriesOfType(rtstore.EventFeedbackAccepted), 3)

	rejected := store.EntriesOfType(rtstore.EventFeedbackRejected)
	require.Len(t, rejected, 2)
	require.Equal(t, "comment_too_long", rejected[0].Payload["reason"])
	require.Equal(t, "max_feedback_exceeded", rejected[1].Payload["reason"])

	require.Equal(t, 3, e.Issue().CountFeedbacksBy(bob))
	// 100 award - 50 NoAction default - three accepted feedback stakes.
	require.Equal(t, 35, e.Ledger().Balance(bob))
}

// A feedback stake the balance cannot cover is rejected with no burn.
func TestEngine_FeedbackInsufficientCPRejected(t *testing.T) {
	t.Parallel()

	issue := rtconsensustest.NewIssue("issue-1", 2)
	alice, bob := issue.AgentIDs[0], issue.AgentIDs[1]

	drivers := map[string]rtdriver.AgentDriver{
		alice: rtconsensustest.NewScriptedDriver(alice).
			On(rtdriver.SignalPropose, rtconsensustest.ProposeOnce("Fund the pilot. Gate the rest on results.")),
		bob: rtconsensustest.NewScriptedDriver(bob).
			On(rtdriver.SignalFeedback, feedbackOnce(func(s rtdriver.Signal) []rtconsensus.Action {
				pid := s.AllProposals[alice]
				return []rtconsensus.Action{
					feedbackTargeting(s, pid, "Understates the execution risk."),
					feedbackTargeting(s, pid, "Name an owner per workstream."),
					feedbackTargeting(s, pid, "Reserve a contingency share."),
				}
			})),
	}

	cfg, store := standardConfig(t, issue, drivers)
	// 100 award - 90 NoAction default leaves bob 10 CP, enough for two
	// feedback stakes of 5.
	cfg.ProposalSelfStake = 90

	e := runToCompletion(t, cfg)

	require.Len(t, store.EntriesOfType(rtstore.EventFeedbackAccepted), 2)

	rejected := store.EntriesOfType(rtstore.EventFeedbackRejected)
	require.Len(t, rejected, 1)
	require.Equal(t, "insufficient_cp_for_stake", rejected[0].Payload["reason"])
	require.NotEmpty(t, store.EntriesOfType(rtstore.EventInsufficientCredit))

	require.Equal(t, 2, e.Issue().CountFeedbacksBy(bob))
	require.Equal(t, 0, e.Ledger().Balance(bob))
}
