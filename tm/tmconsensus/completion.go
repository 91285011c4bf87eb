package tmconsensus

import "fmt"

// Outcome classifies how a build or validate pipeline ended.
type Outcome uint8

const (
	_ Outcome = iota // Zero value reserved.

	// The proposal completed and its content ID is available.
	OutcomeCompleted

	// An invariant was violated: the builder broke the protocol,
	// or could not start the height or the proposal.
	// The node should be considered unhealthy.
	OutcomeFatal

	// The builder rejected the proposal as invalid.
	OutcomeRejected

	// Validation did not finish within its timeout.
	OutcomeTimedOut

	// The pipeline gave up after a builder error while streaming content.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFatal:
		return "fatal"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// ProposalCompletion is the single value delivered on the channel
// returned from BuildProposal or ValidateProposal.
type ProposalCompletion struct {
	Outcome Outcome

	// Set only when Outcome is OutcomeCompleted.
	ContentID string

	// The cause of any other outcome.
	Err error
}

// OK reports whether the proposal completed successfully.
func (c ProposalCompletion) OK() bool {
	return c.Outcome == OutcomeCompleted
}
