package rtconsensus

// NoActionProposalID is the reserved proposal ID for the system-authored
// "take no action" proposal created at the start of the propose phase.
// Agents who fail to act are stake-assigned to it.
const NoActionProposalID = 0

// SystemAuthorID is the author recorded on system-generated proposals.
const SystemAuthorID = "system"

// AuthorType distinguishes agent-authored proposals from system-generated ones.
type AuthorType string

const (
	AuthorTypeAgent  AuthorType = "agent"
	AuthorTypeSystem AuthorType = "system"
)

// ProposalType distinguishes standard proposals from the NoAction default.
type ProposalType string

const (
	ProposalTypeStandard ProposalType = "standard"
	ProposalTypeNoAction ProposalType = "noaction"
)

// Proposal is an immutable snapshot of one version of a proposal.
// Revisions create a new Proposal linked through ParentID;
// at most one proposal in a lineage has Active set.
type Proposal struct {
	// ID is assigned by the engine and is monotonic per engine instance.
	// ID 0 is reserved for the NoAction proposal.
	ID int

	// Content is opaque to the engine.
	Content string

	Author     string
	AuthorType AuthorType
	Type       ProposalType

	// ParentID points at the previous version in the lineage.
	// Nil for a revision-number-1 root.
	ParentID *int

	// RevisionNumber is the number of ancestors plus one.
	RevisionNumber int

	// Active is true only for the latest version in a lineage.
	Active bool

	// Tick the proposal was created at.
	Tick int

	IssueID string
}
