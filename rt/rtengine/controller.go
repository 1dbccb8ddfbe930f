package rtengine

import (
	"context"
	"log/slog"
	"math"

	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
	"github.com/roundtable-engine/roundtable/rt/rtstore"
)

// Controller validates and applies the actions agents enqueue.
//
// Every drained action resolves to exactly one accepted or rejected
// event; a rejected action never mutates protocol state. Stake-phase
// actions mark the acting agent ready on resolution, accepted or not;
// a rejected proposal or feedback leaves the agent unready so it can
// retry within the phase budget.
type Controller struct {
	e *Engine
}

// ProcessPendingActions drains the queue and applies each action
// in submission order.
func (c *Controller) ProcessPendingActions(ctx context.Context) {
	for _, a := range c.e.queue.Drain() {
		c.processAction(ctx, a)
	}
}

func (c *Controller) processAction(ctx context.Context, a rtconsensus.Action) {
	if a.Type == rtconsensus.ActionSignalReady {
		c.signalReady(ctx, a.AgentID, "agent_signal")
		return
	}

	issueID, ok := actionIssueID(a)
	if !ok {
		c.reject(ctx, a, "malformed_action")
		return
	}

	issue := c.e.state.Issue
	switch {
	case issue == nil:
		c.reject(ctx, a, "no_active_issue")
		return
	case issueID != issue.ID:
		c.reject(ctx, a, "wrong_issue")
		return
	case !issue.IsAssigned(a.AgentID):
		c.reject(ctx, a, "not_assigned")
		return
	}

	switch a.Type {
	case rtconsensus.ActionSubmitProposal:
		c.handleSubmitProposal(ctx, a)
	case rtconsensus.ActionFeedback:
		c.handleFeedback(ctx, a)
	case rtconsensus.ActionRevise:
		c.handleRevise(ctx, a)
	case rtconsensus.ActionStake:
		c.handleStake(ctx, a)
	case rtconsensus.ActionSwitchStake:
		c.handleSwitchStake(ctx, a)
	case rtconsensus.ActionUnstake:
		c.handleUnstake(ctx, a)
	default:
		c.reject(ctx, a, "unknown_action_type")
	}
}

// actionIssueID extracts the issue id from whichever payload is set.
func actionIssueID(a rtconsensus.Action) (string, bool) {
	switch a.Type {
	case rtconsensus.ActionSubmitProposal:
		if a.SubmitProposal != nil {
			return a.SubmitProposal.IssueID, true
		}
	case rtconsensus.ActionFeedback:
		if a.Feedback != nil {
			return a.Feedback.IssueID, true
		}
	case rtconsensus.ActionRevise:
		if a.Revise != nil {
			return a.Revise.IssueID, true
		}
	case rtconsensus.ActionStake:
		if a.Stake != nil {
			return a.Stake.IssueID, true
		}
	case rtconsensus.ActionSwitchStake:
		if a.SwitchStake != nil {
			return a.SwitchStake.IssueID, true
		}
	case rtconsensus.ActionUnstake:
		if a.Unstake != nil {
			return a.Unstake.IssueID, true
		}
	}
	return "", false
}

func (c *Controller) handleSubmitProposal(ctx context.Context, a rtconsensus.Action) {
	e := c.e
	sp := a.SubmitProposal

	c.received(ctx, a, map[string]any{"content_length": len(sp.Content)})

	if _, done := e.state.ProposalsThisPhase[a.AgentID]; done {
		c.reject(ctx, a, "already_submitted")
		return
	}
	if e.ledger.Balance(a.AgentID) < e.cfg.ProposalSelfStake {
		c.reject(ctx, a, "insufficient_cp_for_stake")
		return
	}

	id := e.state.NextProposalID()
	p := &rtconsensus.Proposal{
		ID:             id,
		Content:        sp.Content,
		Author:         a.AgentID,
		AuthorType:     rtconsensus.AuthorTypeAgent,
		Type:           rtconsensus.ProposalTypeStandard,
		RevisionNumber: 1,
		Active:         true,
		Tick:           e.state.Tick,
		IssueID:        sp.IssueID,
	}
	e.state.Issue.AddProposal(p)
	e.ledger.StakeToProposal(ctx, a.AgentID, id, e.cfg.ProposalSelfStake,
		e.state.Tick, sp.IssueID, rtconsensus.StakeTypeInitial)

	e.state.ProposalsThisPhase[a.AgentID] = struct{}{}
	e.state.LatestProposalIDs[a.AgentID] = id

	e.emit(ctx, rtstore.Entry{
		Tick:    e.state.Tick,
		Type:    rtstore.EventProposalAccepted,
		AgentID: a.AgentID,
		Payload: map[string]any{
			"proposal_id": id,
			"self_stake":  e.cfg.ProposalSelfStake,
			"issue_id":    sp.IssueID,
		},
		Message: "Proposal accepted",
		Level:   slog.LevelInfo,
	})
	c.signalReady(ctx, a.AgentID, "proposal_submitted")
}

func (c *Controller) handleFeedback(ctx context.Context, a rtconsensus.Action) {
	e := c.e
	fb := a.Feedback

	c.received(ctx, a, map[string]any{"target_proposal_id": fb.TargetProposalID})

	target := e.state.Issue.ProposalByID(fb.TargetProposalID)
	backedID, backs := e.state.Issue.AgentProposalIDs[a.AgentID]
	switch {
	case target == nil:
		c.reject(ctx, a, "target_proposal_not_found")
	// An agent may not buy feedback on the proposal it backs, whether it
	// authored it or was defaulted onto it.
	case target.Author == a.AgentID || (backs && backedID == fb.TargetProposalID):
		c.reject(ctx, a, "self_feedback")
	case e.state.Issue.CountFeedbacksBy(a.AgentID) >= e.cfg.MaxFeedbackPerAgent:
		c.reject(ctx, a, "max_feedback_exceeded")
	case len(fb.Comment) > e.cfg.FeedbackCommentMaxLength:
		c.reject(ctx, a, "comment_too_long")
	case !e.ledger.TryDeduct(ctx, a.AgentID, e.cfg.FeedbackStake, "Feedback Stake", e.state.Tick, fb.IssueID):
		c.reject(ctx, a, "insufficient_cp_for_stake")
	default:
		e.state.Issue.AddFeedback(a.AgentID, fb.TargetProposalID, fb.Comment, e.state.Tick)
		e.emit(ctx, rtstore.Entry{
			Tick:    e.state.Tick,
			Type:    rtstore.EventFeedbackAccepted,
			AgentID: a.AgentID,
			Payload: map[string]any{
				"target_proposal_id": fb.TargetProposalID,
				"stake_burned":       e.cfg.FeedbackStake,
				"issue_id":           fb.IssueID,
			},
			Message: "Feedback accepted",
			Level:   slog.LevelInfo,
		})
		c.signalReady(ctx, a.AgentID, "feedback_given")
	}
}

func (c *Controller) handleRevise(ctx context.Context, a rtconsensus.Action) {
	e := c.e
	rv := a.Revise

	c.received(ctx, a, nil)

	if rv.NewContent == "" {
		c.reject(ctx, a, "invalid_revision_data")
		return
	}
	pid, ok := e.state.Issue.AgentProposalIDs[a.AgentID]
	if !ok {
		c.reject(ctx, a, "no_proposal_to_revise")
		return
	}
	old := e.state.Issue.ProposalByID(pid)
	if old == nil || !old.Active {
		c.reject(ctx, a, "active_proposal_not_found")
		return
	}
	if old.Author != a.AgentID {
		c.reject(ctx, a, "not_proposal_author")
		return
	}

	delta := e.cfg.Delta(old.Content, rv.NewContent)
	if delta < 0.1 || delta > 1.0 {
		c.reject(ctx, a, "invalid_calculated_delta")
		return
	}

	cost := int(math.Floor(float64(e.cfg.ProposalSelfStake) * delta))
	if !e.ledger.TryDeduct(ctx, a.AgentID, cost, "Revision Cost", e.state.Tick, rv.IssueID) {
		c.reject(ctx, a, "insufficient_cp")
		return
	}

	parent := pid
	newID := e.state.NextProposalID()
	child := &rtconsensus.Proposal{
		ID:             newID,
		Content:        rv.NewContent,
		Author:         old.Author,
		AuthorType:     old.AuthorType,
		Type:           old.Type,
		ParentID:       &parent,
		RevisionNumber: old.RevisionNumber + 1,
		Active:         true,
		Tick:           e.state.Tick,
		IssueID:        rv.IssueID,
	}
	old.Active = false
	e.state.Issue.AddProposal(child)

	if !e.ledger.TransferStake(ctx, pid, newID, e.state.Tick, rv.IssueID) {
		e.emit(ctx, rtstore.Entry{
			Tick:    e.state.Tick,
			Type:    rtstore.EventRevisionWarning,
			AgentID: a.AgentID,
			Payload: map[string]any{
				"reason":          "no_stake_to_transfer",
				"parent_id":       pid,
				"new_proposal_id": newID,
			},
			Message: "Revision carried no stake records",
			Level:   slog.LevelWarn,
		})
	}

	e.ledger.AppendCreditEvent(rtconsensus.CreditEvent{
		Type:           rtconsensus.CreditEventRevision,
		AgentID:        a.AgentID,
		Amount:         -cost,
		Reason:         "Proposal Revision",
		Tick:           e.state.Tick,
		IssueID:        rv.IssueID,
		ParentID:       pid,
		NewProposalID:  newID,
		Delta:          delta,
		RevisionNumber: child.RevisionNumber,
	})
	e.state.LatestProposalIDs[a.AgentID] = newID

	e.emit(ctx, rtstore.Entry{
		Tick:    e.state.Tick,
		Type:    rtstore.EventRevisionAccepted,
		AgentID: a.AgentID,
		Payload: map[string]any{
			"parent_id":       pid,
			"new_proposal_id": newID,
			"delta":           delta,
			"cost":            cost,
			"revision_number": child.RevisionNumber,
			"issue_id":        rv.IssueID,
		},
		Message: "Revision accepted",
		Level:   slog.LevelInfo,
	})
	c.signalReady(ctx, a.AgentID, "revision_submitted")
}

func (c *Controller) handleStake(ctx context.Context, a rtconsensus.Action) {
	e := c.e
	st := a.Stake

	c.received(ctx, a, map[string]any{
		"proposal_id": st.ProposalID,
		"amount":      st.StakeAmount,
		"round":       st.RoundNumber,
	})

	// A stake action always resolves the agent's turn for this tick,
	// accepted or not.
	defer c.signalReady(ctx, a.AgentID, "stake_resolved")

	if st.StakeAmount <= 0 {
		c.reject(ctx, a, "invalid_amount")
		return
	}
	if st.ProposalID < 0 {
		c.reject(ctx, a, "missing_proposal_id")
		return
	}
	target := e.state.Issue.ProposalByID(st.ProposalID)
	if target == nil {
		c.reject(ctx, a, "target_proposal_not_found")
		return
	}

	// Staking onto one's own superseded proposal is a stale action;
	// the lineage's newest revision is the only valid self target.
	if latest, ok := e.state.LatestProposalIDs[a.AgentID]; ok &&
		target.Author == a.AgentID && latest != st.ProposalID {
		c.reject(ctx, a, "not_latest_proposal")
		return
	}

	if !e.ledger.StakeToProposal(ctx, a.AgentID, st.ProposalID, st.StakeAmount,
		e.state.Tick, st.IssueID, rtconsensus.StakeTypeVoluntary) {
		c.reject(ctx, a, "insufficient_cp_for_stake")
		return
	}

	upd := e.ledger.UpdateConviction(ctx, a.AgentID, st.ProposalID, st.StakeAmount,
		e.cfg.ConvictionParams, st.RoundNumber, e.state.Tick, st.IssueID)

	payload := map[string]any{
		"proposal_id":        st.ProposalID,
		"amount":             st.StakeAmount,
		"round":              st.RoundNumber,
		"multiplier":         upd.Multiplier,
		"effective_weight":   upd.EffectiveWeight,
		"total_conviction":   upd.TotalConviction,
		"consecutive_rounds": upd.ConsecutiveRounds,
		"issue_id":           st.IssueID,
	}
	if st.ChoiceReason != "" {
		payload["choice_reason"] = st.ChoiceReason
	}
	if upd.SwitchedFrom != nil {
		payload["switched_from"] = *upd.SwitchedFrom
	}

	e.emit(ctx, rtstore.Entry{
		Tick:    e.state.Tick,
		Type:    rtstore.EventStakeRecorded,
		AgentID: a.AgentID,
		Payload: payload,
		Message: "Stake recorded",
		Level:   slog.LevelInfo,
	})
}

func (c *Controller) handleSwitchStake(ctx context.Context, a rtconsensus.Action) {
	e := c.e
	sw := a.SwitchStake

	c.received(ctx, a, map[string]any{
		"source_proposal_id": sw.SourceProposalID,
		"target_proposal_id": sw.TargetProposalID,
		"amount":             sw.CPAmount,
	})

	defer c.signalReady(ctx, a.AgentID, "switch_resolved")

	switch {
	case sw.SourceProposalID < 0 || sw.TargetProposalID < 0:
		c.reject(ctx, a, "missing_proposal_ids")
		return
	case sw.SourceProposalID == sw.TargetProposalID:
		c.reject(ctx, a, "same_proposal")
		return
	case sw.CPAmount <= 0:
		c.reject(ctx, a, "invalid_amount")
		return
	case !e.ledger.HasSufficientConviction(a.AgentID, sw.SourceProposalID, sw.CPAmount):
		c.reject(ctx, a, "insufficient_conviction")
		return
	}

	if !e.ledger.SwitchConviction(ctx, a.AgentID, sw.SourceProposalID, sw.TargetProposalID,
		sw.CPAmount, e.state.Tick, sw.IssueID, sw.Reason) {
		c.reject(ctx, a, "switch_failed")
		return
	}

	e.emit(ctx, rtstore.Entry{
		Tick:    e.state.Tick,
		Type:    rtstore.EventSwitchRecorded,
		AgentID: a.AgentID,
		Payload: map[string]any{
			"source_proposal_id": sw.SourceProposalID,
			"target_proposal_id": sw.TargetProposalID,
			"amount":             sw.CPAmount,
			"reason":             sw.Reason,
			"issue_id":           sw.IssueID,
		},
		Message: "Stake switched",
		Level:   slog.LevelInfo,
	})
}

func (c *Controller) handleUnstake(ctx context.Context, a rtconsensus.Action) {
	e := c.e
	un := a.Unstake

	c.received(ctx, a, map[string]any{
		"proposal_id": un.ProposalID,
		"amount":      un.CPAmount,
	})

	defer c.signalReady(ctx, a.AgentID, "unstake_resolved")

	switch {
	case un.ProposalID < 0:
		c.reject(ctx, a, "missing_proposal_id")
		return
	case un.CPAmount <= 0:
		c.reject(ctx, a, "invalid_amount")
		return
	}

	if !e.ledger.UnstakeFromProposal(ctx, a.AgentID, un.ProposalID, un.CPAmount,
		e.state.Tick, un.IssueID, un.Reason) {
		c.reject(ctx, a, "unstake_failed")
		return
	}

	e.emit(ctx, rtstore.Entry{
		Tick:    e.state.Tick,
		Type:    rtstore.EventUnstakeRecorded,
		AgentID: a.AgentID,
		Payload: map[string]any{
			"proposal_id": un.ProposalID,
			"amount":      un.CPAmount,
			"reason":      un.Reason,
			"issue_id":    un.IssueID,
		},
		Message: "Stake withdrawn",
		Level:   slog.LevelInfo,
	})
}

// signalReady marks the agent ready, emitting AGENT_READY only on the
// first transition in the current phase.
func (c *Controller) signalReady(ctx context.Context, agentID, reason string) {
	if !c.e.state.MarkReady(agentID) {
		return
	}
	c.e.emit(ctx, rtstore.Entry{
		Tick:    c.e.state.Tick,
		Type:    rtstore.EventAgentReady,
		AgentID: agentID,
		Payload: map[string]any{"reason": reason},
		Message: "Agent ready",
		Level:   slog.LevelDebug,
	})
}

func (c *Controller) received(ctx context.Context, a rtconsensus.Action, payload map[string]any) {
	c.e.emit(ctx, rtstore.Entry{
		Tick:    c.e.state.Tick,
		Type:    receivedEvent(a.Type),
		AgentID: a.AgentID,
		Payload: payload,
		Message: "Action received",
		Level:   slog.LevelDebug,
	})
}

func (c *Controller) reject(ctx context.Context, a rtconsensus.Action, reason string) {
	c.e.emit(ctx, rtstore.Entry{
		Tick:    c.e.state.Tick,
		Type:    rejectedEvent(a.Type),
		AgentID: a.AgentID,
		Payload: map[string]any{"reason": reason},
		Message: "Action rejected",
		Level:   slog.LevelWarn,
	})
	c.e.log.Warn("Action rejected", "agent", a.AgentID, "action", a.Type, "reason", reason)
}

func receivedEvent(t rtconsensus.ActionType) rtstore.EventType {
	switch t {
	case rtconsensus.ActionSubmitProposal:
		return rtstore.EventProposalReceived
	case rtconsensus.ActionFeedback:
		return rtstore.EventFeedbackReceived
	case rtconsensus.ActionRevise:
		return rtstore.EventRevisionReceived
	case rtconsensus.ActionStake:
		return rtstore.EventStakeReceived
	case rtconsensus.ActionSwitchStake:
		return rtstore.EventSwitchReceived
	case rtconsensus.ActionUnstake:
		return rtstore.EventUnstakeReceived
	}
	return rtstore.EventSimulationError
}

func rejectedEvent(t rtconsensus.ActionType) rtstore.EventType {
	switch t {
	case rtconsensus.ActionSubmitProposal:
		return rtstore.EventProposalRejected
	case rtconsensus.ActionFeedback:
		return rtstore.EventFeedbackRejected
	case rtconsensus.ActionRevise:
		return rtstore.EventRevisionRejected
	case rtconsensus.ActionStake:
		return rtstore.EventStakeRejected
	case rtconsensus.ActionSwitchStake:
		return rtstore.EventSwitchRejected
	case rtconsensus.ActionUnstake:
		return rtstore.EventUnstakeRejected
	}
	return rtstore.EventSimulationError
}
