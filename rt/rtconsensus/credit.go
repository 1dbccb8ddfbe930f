package rtconsensus

// CreditEventType enumerates every kind of balance-affecting record.
type CreditEventType string

const (
	CreditEventBurn               CreditEventType = "Burn"
	CreditEventCredit             CreditEventType = "Credit"
	CreditEventInsufficientCredit CreditEventType = "InsufficientCredit"
	CreditEventRevision           CreditEventType = "Revision"
	CreditEventFinalization       CreditEventType = "Finalization"
	CreditEventInfluence          CreditEventType = "Influence"
)

// CreditEvent is one append-only record of a balance change.
// Amount is signed: negative for deductions, positive for credits,
// zero for informational records (finalization, influence).
type CreditEvent struct {
	Type    CreditEventType
	AgentID string
	Amount  int
	Reason  string
	Tick    int
	IssueID string

	// Revision lineage metadata; only set on Revision events.
	ParentID       int
	NewProposalID  int
	Delta          float64
	RevisionNumber int
}
