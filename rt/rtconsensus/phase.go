package rtconsensus

// PhaseKind names the phases of a roundtable run.
type PhaseKind string

const (
	PhaseInit     PhaseKind = "INIT"
	PhasePropose  PhaseKind = "PROPOSE"
	PhaseFeedback PhaseKind = "FEEDBACK"
	PhaseRevise   PhaseKind = "REVISE"
	PhaseStake    PhaseKind = "STAKE"
	PhaseFinalize PhaseKind = "FINALIZE"
)
