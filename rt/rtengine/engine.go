// Package rtengine runs one roundtable deliberation to completion.
//
// The engine owns a single issue and drives it through the phase
// schedule: propose, feedback/revise cycles, stake rounds, finalize.
// Each tick it first applies the actions agents enqueued during the
// previous tick's signals, then advances the phase machinery.
package rtengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roundtable-engine/roundtable/gdelta"
	"github.com/roundtable-engine/roundtable/rt/rtconsensus"
	"github.com/roundtable-engine/roundtable/rt/rtdriver"
	"github.com/roundtable-engine/roundtable/rt/rtledger"
	"github.com/roundtable-engine/roundtable/rt/rtstore"
)

// ErrMaxTicksExceeded is returned by Run when the tick limit is reached
// before the issue finalizes. It indicates a stalled phase, usually an
// agent driver that never signals ready.
var ErrMaxTicksExceeded = errors.New("rtengine: max ticks exceeded before finalization")

// DefaultMaxThinkTicks is the per-phase tick budget when the config
// leaves MaxThinkTicks zero.
const DefaultMaxThinkTicks = 3

// DefaultFeedbackCommentMaxLength caps feedback comments when the config
// leaves FeedbackCommentMaxLength zero.
const DefaultFeedbackCommentMaxLength = 500

// DefaultMaxTicks bounds a run when the config leaves MaxTicks zero.
const DefaultMaxTicks = 500

// Config carries everything an Engine needs.
// Call New rather than constructing an Engine directly.
type Config struct {
	Log *slog.Logger

	// Sink receives every structured event; Snapshots receives one
	// state snapshot per tick. Either may be nil.
	Sink      rtstore.EventSink
	Snapshots rtstore.SnapshotStore

	Issue *rtconsensus.Issue

	// Drivers maps agent ids to their decision logic. An assigned agent
	// without a driver is never signaled and falls through the NoAction
	// defaults.
	Drivers map[string]rtdriver.AgentDriver

	// InitialBalances seeds each agent's CP before the assignment award.
	InitialBalances map[string]int

	AssignmentAward     int
	ProposalSelfStake   int
	FeedbackStake       int
	MaxFeedbackPerAgent int

	RevisionCycles int
	StakingRounds  int

	MaxThinkTicks            int
	FeedbackCommentMaxLength int

	// MaxTicks aborts the run if the issue has not finalized by then.
	MaxTicks int

	ConvictionParams rtconsensus.ConvictionParams

	// Delta scores how far a revision diverges from its parent, in [0,1].
	// Defaults to gdelta.SentenceSequenceDelta.
	Delta func(oldContent, newContent string) float64
}

func (c *Config) validate() error {
	if c.Issue == nil {
		return errors.New("rtengine: config requires an issue")
	}
	if len(c.Issue.AgentIDs) == 0 {
		return fmt.Errorf("rtengine: issue %q has no assigned agents", c.Issue.ID)
	}
	if c.AssignmentAward < 1 {
		return fmt.Errorf("rtengine: assignment award must be >= 1, got %d", c.AssignmentAward)
	}
	if c.ProposalSelfStake < 1 {
		return fmt.Errorf("rtengine: proposal self stake must be >= 1, got %d", c.ProposalSelfStake)
	}
	if c.FeedbackStake < 1 {
		return fmt.Errorf("rtengine: feedback stake must be >= 1, got %d", c.FeedbackStake)
	}
	if c.MaxFeedbackPerAgent < 1 {
		return fmt.Errorf("rtengine: max feedback per agent must be >= 1, got %d", c.MaxFeedbackPerAgent)
	}
	if c.RevisionCycles < 1 || c.RevisionCycles > 4 {
		return fmt.Errorf("rtengine: revision cycles must be in [1,4], got %d", c.RevisionCycles)
	}
	if c.StakingRounds < 5 || c.StakingRounds > 10 {
		return fmt.Errorf("rtengine: staking rounds must be in [5,10], got %d", c.StakingRounds)
	}
	return nil
}

// ProposalStanding is one proposal's aggregate position at finalization.
type ProposalStanding struct {
	ProposalID      int
	EffectiveWeight float64
	RawCP           int
	Contributors    int
}

// FinalizationResult is the outcome of the finalize phase.
type FinalizationResult struct {
	Decided           bool
	WinningProposalID int
	WinningAuthor     string
	Tick              int

	// Standings is ordered by proposal id.
	Standings []ProposalStanding
}

// Engine drives one issue through the full phase schedule.
// It is not safe for concurrent use; Run owns it until it returns.
type Engine struct {
	cfg Config
	log *slog.Logger

	sink  rtstore.EventSink
	snaps rtstore.SnapshotStore

	state      *State
	ledger     *rtledger.Ledger
	queue      *rtconsensus.ActionQueue
	controller *Controller

	phases     []Phase
	phaseIndex int

	result FinalizationResult
}

// New validates the config, credits each agent the assignment award,
// and builds the phase schedule. The first tick happens in Run.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Sink == nil {
		cfg.Sink = rtstore.NopSink{}
	}
	if cfg.MaxThinkTicks == 0 {
		cfg.MaxThinkTicks = DefaultMaxThinkTicks
	}
	if cfg.FeedbackCommentMaxLength == 0 {
		cfg.FeedbackCommentMaxLength = DefaultFeedbackCommentMaxLength
	}
	if cfg.MaxTicks == 0 {
		cfg.MaxTicks = DefaultMaxTicks
	}
	if cfg.Delta == nil {
		cfg.Delta = gdelta.SentenceSequenceDelta
	}

	state := NewState(cfg.Issue, cfg.Issue.AgentIDs)

	e := &Engine{
		cfg:    cfg,
		log:    cfg.Log,
		sink:   cfg.Sink,
		snaps:  cfg.Snapshots,
		state:  state,
		queue:  rtconsensus.NewActionQueue(),
		phases: GeneratePhases(cfg),
	}
	e.controller = &Controller{e: e}
	e.ledger = rtledger.NewLedger(rtledger.LedgerConfig{
		Log:             cfg.Log,
		Sink:            cfg.Sink,
		InitialBalances: cfg.InitialBalances,
		PhaseFn:         func() rtconsensus.PhaseKind { return e.state.CurrentPhase },
	})

	for _, agentID := range state.AgentIDs() {
		e.ledger.Credit(ctx, agentID, cfg.AssignmentAward, "Assignment Award", 0, cfg.Issue.ID)
	}

	return e, nil
}

// Run ticks the engine until the issue finalizes and the finalize phase
// completes. It returns nil on a completed run, ctx.Err on cancellation,
// and ErrMaxTicksExceeded if the schedule stalls.
func (e *Engine) Run(ctx context.Context) error {
	e.emit(ctx, rtstore.Entry{
		Type:    rtstore.EventScenarioStart,
		AgentID: "",
		Payload: map[string]any{
			"issue_id": e.state.Issue.ID,
			"agents":   len(e.state.AgentIDs()),
			"phases":   len(e.phases),
		},
		Message: "Deliberation started",
		Level:   slog.LevelInfo,
	})

	for e.phaseIndex < len(e.phases) {
		if err := ctx.Err(); err != nil {
			e.emitError(ctx, err)
			return err
		}
		if e.state.Tick >= e.cfg.MaxTicks {
			e.emitError(ctx, ErrMaxTicksExceeded)
			return ErrMaxTicksExceeded
		}

		e.controller.ProcessPendingActions(ctx)
		e.tick(ctx)
	}

	e.emit(ctx, rtstore.Entry{
		Tick: e.state.Tick,
		Type: rtstore.EventScenarioComplete,
		Payload: map[string]any{
			"issue_id":            e.state.Issue.ID,
			"ticks":               e.state.Tick,
			"finalized":           e.state.IssueFinalized,
			"winning_proposal_id": e.result.WinningProposalID,
		},
		Message: "Deliberation complete",
		Level:   slog.LevelInfo,
	})
	return nil
}

func (e *Engine) tick(ctx context.Context) {
	e.state.Tick++

	p := e.phases[e.phaseIndex]
	if p.Number() != e.state.CurrentPhaseNumber {
		e.transitionTo(ctx, p)
	} else {
		e.state.PhaseTick++

		// A phase past its think-tick budget with every agent ready
		// advances here. The advance consumes the whole tick: no phase
		// hook runs, and the next phase starts on the following tick.
		if e.state.AllReady() && e.state.PhaseTick > p.MaxThinkTicks() {
			e.phaseIndex++
			e.emitTick(ctx)
			e.saveSnapshot(ctx)
			return
		}
	}

	if e.state.PhaseTick == 1 {
		p.Begin(ctx, e)
	}
	p.Do(ctx, e)
	if e.state.PhaseTick == p.MaxThinkTicks() {
		p.Finish(ctx, e)
	}

	e.emitTick(ctx)
	e.saveSnapshot(ctx)
}

func (e *Engine) emitTick(ctx context.Context) {
	e.emit(ctx, rtstore.Entry{
		Tick: e.state.Tick,
		Type: rtstore.EventConsensusTick,
		Payload: map[string]any{
			"phase_tick":      e.state.PhaseTick,
			"pending_actions": e.queue.Len(),
		},
		Message: "Tick",
		Level:   slog.LevelDebug,
	})
}

func (e *Engine) transitionTo(ctx context.Context, p Phase) {
	from := e.state.CurrentPhase
	e.state.CurrentPhase = p.Kind()
	e.state.CurrentPhaseNumber = p.Number()
	e.state.PhaseTick = 1
	e.state.ResetReadiness()

	if p.Kind() == rtconsensus.PhasePropose {
		e.state.ProposalsThisPhase = make(map[string]struct{})
	}

	e.emit(ctx, rtstore.Entry{
		Tick: e.state.Tick,
		Type: rtstore.EventPhaseTransition,
		Payload: map[string]any{
			"from_phase":   from,
			"to_phase":     p.Kind(),
			"phase_number": p.Number(),
		},
		Message: "Phase transition",
		Level:   slog.LevelInfo,
	})
	e.log.Info("Phase transition",
		"from", from, "to", p.Kind(), "phase_number", p.Number(), "tick", e.state.Tick)
}

// finalizeIssue aggregates conviction into per-proposal standings,
// picks the winner, and records the influence of its supporters.
// Ties break on earliest first stake tick, then lowest proposal id.
func (e *Engine) finalizeIssue(ctx context.Context) {
	if e.state.IssueFinalized {
		return
	}

	tick := e.state.Tick
	issueID := e.state.Issue.ID
	pairs := e.ledger.ConvictionPairs()

	standings := make(map[int]*ProposalStanding)
	for _, pair := range pairs {
		if pair.Entry.AccumulatedCP <= 0 {
			continue
		}
		s, ok := standings[pair.ProposalID]
		if !ok {
			s = &ProposalStanding{ProposalID: pair.ProposalID}
			standings[pair.ProposalID] = s
		}
		mult := e.cfg.ConvictionParams.Multiplier(pair.Entry.ConsecutiveRounds)
		s.EffectiveWeight += rtconsensus.Round2(float64(pair.Entry.AccumulatedCP) * mult)
		s.RawCP += pair.Entry.AccumulatedCP
		s.Contributors++
	}

	var ordered []ProposalStanding
	for _, s := range standings {
		ordered = append(ordered, *s)
	}
	sortStandings(ordered)

	e.state.IssueFinalized = true
	e.state.FinalizationTick = tick
	e.result = FinalizationResult{Tick: tick, Standings: ordered}

	if len(ordered) == 0 {
		e.emit(ctx, rtstore.Entry{
			Tick:    tick,
			Type:    rtstore.EventFinalizationDecision,
			Payload: map[string]any{"issue_id": issueID, "decided": false},
			Message: "No conviction recorded; no winner",
			Level:   slog.LevelWarn,
		})
		e.emit(ctx, rtstore.Entry{
			Tick:    tick,
			Type:    rtstore.EventIssueFinalized,
			Payload: map[string]any{"issue_id": issueID, "decided": false},
			Message: "Issue finalized without conviction",
			Level:   slog.LevelWarn,
		})
		return
	}

	winner := ordered[0]
	for _, s := range ordered[1:] {
		if e.beats(s, winner) {
			winner = s
		}
	}

	winning := e.state.Issue.ProposalByID(winner.ProposalID)
	author := rtconsensus.SystemAuthorID
	if winning != nil {
		author = winning.Author
	}

	e.result.Decided = true
	e.result.WinningProposalID = winner.ProposalID
	e.result.WinningAuthor = author

	standingsPayload := make(map[string]any, len(ordered))
	for _, s := range ordered {
		standingsPayload[fmt.Sprintf("%d", s.ProposalID)] = s.EffectiveWeight
	}

	e.emit(ctx, rtstore.Entry{
		Tick:    tick,
		Type:    rtstore.EventFinalizationDecision,
		AgentID: author,
		Payload: map[string]any{
			"issue_id":            issueID,
			"winning_proposal_id": winner.ProposalID,
			"effective_weight":    winner.EffectiveWeight,
			"raw_cp":              winner.RawCP,
			"contributors":        winner.Contributors,
			"standings":           standingsPayload,
		},
		Message: "Finalization decision",
		Level:   slog.LevelInfo,
	})
	e.ledger.AppendCreditEvent(rtconsensus.CreditEvent{
		Type:          rtconsensus.CreditEventFinalization,
		AgentID:       author,
		Reason:        "Issue Finalized",
		Tick:          tick,
		IssueID:       issueID,
		NewProposalID: winner.ProposalID,
	})

	for _, pair := range pairs {
		if pair.ProposalID != winner.ProposalID || pair.Entry.AccumulatedCP <= 0 {
			continue
		}
		mult := e.cfg.ConvictionParams.Multiplier(pair.Entry.ConsecutiveRounds)
		effective := rtconsensus.Round2(float64(pair.Entry.AccumulatedCP) * mult)

		e.emit(ctx, rtstore.Entry{
			Tick:    tick,
			Type:    rtstore.EventInfluenceRecorded,
			AgentID: pair.AgentID,
			Payload: map[string]any{
				"issue_id":           issueID,
				"proposal_id":        pair.ProposalID,
				"accumulated_cp":     pair.Entry.AccumulatedCP,
				"consecutive_rounds": pair.Entry.ConsecutiveRounds,
				"multiplier":         mult,
				"effective_weight":   effective,
			},
			Message: "Influence recorded",
			Level:   slog.LevelInfo,
		})
		e.ledger.AppendCreditEvent(rtconsensus.CreditEvent{
			Type:          rtconsensus.CreditEventInfluence,
			AgentID:       pair.AgentID,
			Reason:        "Winning Proposal Support",
			Tick:          tick,
			IssueID:       issueID,
			NewProposalID: pair.ProposalID,
		})
	}

	e.emit(ctx, rtstore.Entry{
		Tick:    tick,
		Type:    rtstore.EventIssueFinalized,
		AgentID: author,
		Payload: map[string]any{
			"issue_id":            issueID,
			"decided":             true,
			"winning_proposal_id": winner.ProposalID,
		},
		Message: "Issue finalized",
		Level:   slog.LevelInfo,
	})
	e.log.Info("Issue finalized",
		"issue", issueID, "winning_proposal", winner.ProposalID,
		"author", author, "effective_weight", winner.EffectiveWeight, "tick", tick)
}

// beats reports whether a should win over b: higher effective weight,
// then earlier first stake tick, then lower proposal id.
func (e *Engine) beats(a, b ProposalStanding) bool {
	if a.EffectiveWeight != b.EffectiveWeight {
		return a.EffectiveWeight > b.EffectiveWeight
	}
	at, aok := e.ledger.FirstStakeTick(a.ProposalID)
	bt, bok := e.ledger.FirstStakeTick(b.ProposalID)
	if aok && bok && at != bt {
		return at < bt
	}
	return a.ProposalID < b.ProposalID
}

func sortStandings(s []ProposalStanding) {
	sort.Slice(s, func(i, j int) bool { return s[i].ProposalID < s[j].ProposalID })
}

func (e *Engine) signalAgent(ctx context.Context, agentID string, sig rtdriver.Signal) {
	driver, ok := e.cfg.Drivers[agentID]
	if !ok {
		return
	}
	driver.HandleSignal(ctx, sig, e.queue)
}

func (e *Engine) currentProposalID(agentID string) *int {
	pid, ok := e.state.Issue.AgentProposalIDs[agentID]
	if !ok {
		return nil
	}
	return &pid
}

func (e *Engine) allProposalIDs() map[string]int {
	out := make(map[string]int, len(e.state.Issue.AgentProposalIDs))
	for id, pid := range e.state.Issue.AgentProposalIDs {
		out[id] = pid
	}
	return out
}

// feedbackFor returns the feedback entries targeting the agent's
// current proposal.
func (e *Engine) feedbackFor(agentID string) []rtconsensus.Feedback {
	pid, ok := e.state.Issue.AgentProposalIDs[agentID]
	if !ok {
		return nil
	}
	var out []rtconsensus.Feedback
	for _, fb := range e.state.Issue.FeedbackLog {
		if fb.TargetProposalID == pid {
			out = append(out, fb)
		}
	}
	return out
}

func (e *Engine) emit(ctx context.Context, entry rtstore.Entry) {
	entry.Phase = e.state.CurrentPhase
	if err := e.sink.EmitEvent(ctx, entry); err != nil {
		e.log.Warn("Event sink rejected event", "type", entry.Type, "err", err)
	}
}

func (e *Engine) emitError(ctx context.Context, err error) {
	e.emit(ctx, rtstore.Entry{
		Tick:    e.state.Tick,
		Type:    rtstore.EventSimulationError,
		Payload: map[string]any{"error": err.Error()},
		Message: "Run aborted",
		Level:   slog.LevelError,
	})
}

func (e *Engine) saveSnapshot(ctx context.Context) {
	if e.snaps == nil {
		return
	}

	proposals := make([]rtconsensus.Proposal, 0, len(e.state.Issue.Proposals))
	for _, p := range e.state.Issue.Proposals {
		proposals = append(proposals, *p)
	}

	snap := rtstore.Snapshot{
		Tick:             e.state.Tick,
		Phase:            e.state.CurrentPhase,
		PhaseTick:        e.state.PhaseTick,
		AgentBalances:    e.ledger.Balances(),
		AgentStaked:      e.ledger.StakedBalances(),
		AgentReadiness:   e.state.Readiness(),
		AgentProposalIDs: e.allProposalIDs(),
		Proposals:        proposals,
		StakeRecords:     e.ledger.StakeRecords(),
		CreditEvents:     e.ledger.Events(),
		ProposalCounter:  e.state.ProposalCounter(),
		IssueFinalized:   e.state.IssueFinalized,
		FinalizationTick: e.state.FinalizationTick,
	}
	if err := e.snaps.SaveSnapshot(ctx, snap); err != nil {
		e.log.Warn("Snapshot store rejected snapshot", "tick", snap.Tick, "err", err)
	}
}

// Tick returns the number of ticks the engine has executed.
func (e *Engine) Tick() int { return e.state.Tick }

// Issue returns the engine's issue.
func (e *Engine) Issue() *rtconsensus.Issue { return e.state.Issue }

// Ledger exposes the run's CP ledger for inspection.
func (e *Engine) Ledger() *rtledger.Ledger { return e.ledger }

// Result returns the finalization outcome and whether the issue has
// been finalized yet.
func (e *Engine) Result() (FinalizationResult, bool) {
	return e.result, e.state.IssueFinalized
}

// Readiness returns the per-agent ready flags for the current phase.
func (e *Engine) Readiness() map[string]bool { return e.state.Readiness() }
