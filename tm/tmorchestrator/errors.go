package tmorchestrator

import (
	"errors"

	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
)

var (
	// ErrStartHeight wraps a builder error from StartHeight.
	ErrStartHeight = errors.New("builder failed to start height")

	// ErrInitiate wraps a builder error from BuildProposal or ValidateProposal.
	ErrInitiate = errors.New("builder failed to begin proposal")

	// ErrProtocolViolation indicates the builder responded out of turn,
	// such as finishing a validated proposal before the finish signal,
	// or finishing any proposal with an empty commitment.
	ErrProtocolViolation = errors.New("builder violated proposal protocol")

	// ErrDecision wraps a builder error from DecisionReached.
	ErrDecision = errors.New("builder failed to accept decision")

	// Aliases of the tmconsensus errors returned from DecisionReached.
	ErrNoPrecommits = tmconsensus.ErrNoPrecommits
	ErrMixedHeights = tmconsensus.ErrMixedHeights
)
