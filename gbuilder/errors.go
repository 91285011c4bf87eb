package gbuilder

import "errors"

// Errors a Builder may return.
// Transports are expected to preserve these across the wire,
// so callers can use errors.Is regardless of where the builder runs.
var (
	ErrUnknownProposal   = errors.New("unknown proposal")
	ErrDuplicateProposal = errors.New("proposal id already in use")
	ErrHeightRegression  = errors.New("height is not greater than the last started height")
	ErrHeightNotStarted  = errors.New("no height started")
	ErrProposalDone      = errors.New("proposal already finished")
	ErrWrongProposalKind = errors.New("operation does not match proposal kind")
)
