package rtconsensus

// StakeType distinguishes the mandatory self-stake placed on submission
// from voluntary stakes placed during stake rounds.
type StakeType string

const (
	StakeTypeInitial   StakeType = "initial"
	StakeTypeVoluntary StakeType = "voluntary"
)

// StakeRecord is one append-only entry in the stake ledger.
// Records are never deleted; a revision rewrites the ProposalID and Tick
// of every record on the revised proposal so stakes follow the lineage.
type StakeRecord struct {
	AgentID    string
	ProposalID int
	CP         int
	Tick       int
	Type       StakeType
	IssueID    string
}
