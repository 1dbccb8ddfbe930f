package rtconsensus

import "sync"

// ActionType enumerates the actions an agent may enqueue.
type ActionType string

const (
	ActionSubmitProposal ActionType = "submit_proposal"
	ActionFeedback       ActionType = "feedback"
	ActionRevise         ActionType = "revise"
	ActionStake          ActionType = "stake"
	ActionSwitchStake    ActionType = "switch_stake"
	ActionUnstake        ActionType = "unstake"
	ActionSignalReady    ActionType = "signal_ready"
)

// Action is one pending agent action.
// Exactly the payload field matching Type is set;
// signal_ready carries no payload.
type Action struct {
	Type    ActionType
	AgentID string

	SubmitProposal *SubmitProposalAction
	Feedback       *FeedbackAction
	Revise         *ReviseAction
	Stake          *StakeAction
	SwitchStake    *SwitchStakeAction
	Unstake        *UnstakeAction
}

// SubmitProposalAction carries a candidate proposal.
// The engine assigns the ID, tick, author, and revision fields on acceptance.
type SubmitProposalAction struct {
	Content string
	IssueID string
}

type FeedbackAction struct {
	TargetProposalID int
	Comment          string
	Tick             int
	IssueID          string
}

type ReviseAction struct {
	NewContent string
	Tick       int
	IssueID    string
}

type StakeAction struct {
	ProposalID   int
	StakeAmount  int
	RoundNumber  int
	Tick         int
	IssueID      string
	ChoiceReason string
}

type SwitchStakeAction struct {
	SourceProposalID int
	TargetProposalID int
	CPAmount         int
	Tick             int
	IssueID          string
	Reason           string
}

type UnstakeAction struct {
	ProposalID int
	CPAmount   int
	Tick       int
	IssueID    string
	Reason     string
}

// ActionQueue is a FIFO of pending agent actions.
// Submitters append during the signal window; the controller drains
// the whole queue once per tick. Submit is safe for concurrent use
// in case a driver implementation fans agent decisions out.
type ActionQueue struct {
	mu      sync.Mutex
	pending []Action
}

// NewActionQueue returns an empty queue.
func NewActionQueue() *ActionQueue {
	return &ActionQueue{}
}

// Submit appends an action in FIFO order.
func (q *ActionQueue) Submit(a Action) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, a)
}

// Drain atomically returns all pending actions in submission order
// and empties the queue.
func (q *ActionQueue) Drain() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.pending
	q.pending = nil
	return drained
}

// Len reports the number of pending actions.
func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
