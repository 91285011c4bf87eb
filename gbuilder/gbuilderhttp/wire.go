// Package gbuilderhttp exposes a [gbuilder.Builder] over HTTP
// and provides a client that satisfies [gbuilder.Builder] against such a server.
//
// Request and response bodies are JSON.
// Errors are reported as an [errorResponse] whose code
// maps back onto the gbuilder sentinel errors on the client side.
package gbuilderhttp

import (
	"errors"
	"fmt"
	"time"

	"github.com/gordian-engine/gsequencer/gbuilder"
)

type buildRequest struct {
	ProposalID gbuilder.ProposalID `json:"proposal_id"`
	Deadline   time.Time           `json:"deadline"`

	RetrospectiveHeight *uint64 `json:"retrospective_height,omitempty"`
	RetrospectiveHash   []byte  `json:"retrospective_hash,omitempty"`
}

type validateRequest struct {
	ProposalID gbuilder.ProposalID `json:"proposal_id"`
	Deadline   time.Time           `json:"deadline"`
}

type contentResponse struct {
	Txs [][]byte `json:"txs,omitempty"`

	// Set once the proposal is finished.
	Commitment []byte `json:"commitment,omitempty"`
	Finished   bool   `json:"finished"`
}

type sendContentRequest struct {
	Txs    [][]byte `json:"txs,omitempty"`
	Finish bool     `json:"finish"`
}

type statusResponse struct {
	Status     string `json:"status"`
	Commitment []byte `json:"commitment,omitempty"`
}

type addTxsRequest struct {
	Txs [][]byte `json:"txs"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

const (
	codeBadRequest = "bad_request"
	codeInternal   = "internal"
)

// Each sentinel error and its wire code.
var errorCodes = []struct {
	err  error
	code string
}{
	{err: gbuilder.ErrUnknownProposal, code: "unknown_proposal"},
	{err: gbuilder.ErrDuplicateProposal, code: "duplicate_proposal"},
	{err: gbuilder.ErrHeightRegression, code: "height_regression"},
	{err: gbuilder.ErrHeightNotStarted, code: "height_not_started"},
	{err: gbuilder.ErrProposalDone, code: "proposal_done"},
	{err: gbuilder.ErrWrongProposalKind, code: "wrong_proposal_kind"},
}

func codeForError(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return codeInternal
}

// RemoteError is returned from [Client] methods
// when the server reported an error without a known sentinel code.
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("builder returned HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// errorFromResponse rebuilds an error that satisfies errors.Is
// against the matching gbuilder sentinel, when there is one.
func errorFromResponse(statusCode int, er errorResponse) error {
	for _, ec := range errorCodes {
		if ec.code == er.Code {
			return fmt.Errorf("builder: %s: %w", er.Error, ec.err)
		}
	}
	return &RemoteError{
		StatusCode: statusCode,
		Code:       er.Code,
		Message:    er.Error,
	}
}

func statusToWire(s gbuilder.ProposalStatus) statusResponse {
	resp := statusResponse{Status: s.Kind.String()}
	if s.Kind == gbuilder.StatusFinished {
		resp.Commitment = s.Commitment.StateDiffCommitment
	}
	return resp
}

func statusFromWire(r statusResponse) (gbuilder.ProposalStatus, error) {
	switch r.Status {
	case gbuilder.StatusProcessing.String():
		return gbuilder.ProposalStatus{Kind: gbuilder.StatusProcessing}, nil
	case gbuilder.StatusInvalid.String():
		return gbuilder.ProposalStatus{Kind: gbuilder.StatusInvalid}, nil
	case gbuilder.StatusFinished.String():
		return gbuilder.ProposalStatus{
			Kind:       gbuilder.StatusFinished,
			Commitment: gbuilder.ProposalCommitment{StateDiffCommitment: r.Commitment},
		}, nil
	default:
		return gbuilder.ProposalStatus{}, fmt.Errorf("unrecognized proposal status %q", r.Status)
	}
}
