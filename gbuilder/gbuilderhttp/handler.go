package gbuilderhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gordian-engine/gsequencer/gbuilder"
	"github.com/gorilla/mux"
)

// TxAdder is implemented by builders that accept transactions directly,
// such as [gmembuilder.Builder].
// If the builder given to [NewHandler] satisfies TxAdder,
// the handler also serves POST /v1/txs.
type TxAdder interface {
	AddTxs(txs ...[]byte)
}

// NewHandler returns an HTTP handler serving b.
func NewHandler(log *slog.Logger, b gbuilder.Builder) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/v1/heights/{height}/start", handleStartHeight(log, b)).Methods("POST")

	r.HandleFunc("/v1/proposals/build", handleBuild(log, b)).Methods("POST")
	r.HandleFunc("/v1/proposals/{id}/content", handleGetContent(log, b)).Methods("GET")

	r.HandleFunc("/v1/proposals/validate", handleValidate(log, b)).Methods("POST")
	r.HandleFunc("/v1/proposals/{id}/content", handleSendContent(log, b)).Methods("POST")

	r.HandleFunc("/v1/proposals/{id}/decision", handleDecision(log, b)).Methods("POST")

	if ta, ok := b.(TxAdder); ok {
		r.HandleFunc("/v1/txs", handleAddTxs(log, ta)).Methods("POST")
	}

	return r
}

func handleStartHeight(log *slog.Logger, b gbuilder.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		h, err := strconv.ParseUint(mux.Vars(req)["height"], 10, 64)
		if err != nil {
			writeError(log, w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("invalid height: %w", err))
			return
		}

		if err := b.StartHeight(req.Context(), h); err != nil {
			writeBuilderError(log, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleBuild(log *slog.Logger, b gbuilder.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var br buildRequest
		if err := json.NewDecoder(req.Body).Decode(&br); err != nil {
			writeError(log, w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("invalid body: %w", err))
			return
		}

		r := gbuilder.BuildProposalRequest{
			ProposalID: br.ProposalID,
			Deadline:   br.Deadline,
		}
		if br.RetrospectiveHeight != nil {
			r.Retrospective = &gbuilder.BlockRef{
				Height: *br.RetrospectiveHeight,
				Hash:   br.RetrospectiveHash,
			}
		}

		if err := b.BuildProposal(req.Context(), r); err != nil {
			writeBuilderError(log, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetContent(log *slog.Logger, b gbuilder.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, ok := proposalIDFromPath(log, w, req)
		if !ok {
			return
		}

		c, err := b.GetProposalContent(req.Context(), id)
		if err != nil {
			writeBuilderError(log, w, err)
			return
		}

		resp := contentResponse{Txs: c.Txs}
		if c.Finished != nil {
			resp.Txs = nil
			resp.Finished = true
			resp.Commitment = c.Finished.StateDiffCommitment
		}
		writeJSON(log, w, resp)
	}
}

func handleValidate(log *slog.Logger, b gbuilder.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var vr validateRequest
		if err := json.NewDecoder(req.Body).Decode(&vr); err != nil {
			writeError(log, w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("invalid body: %w", err))
			return
		}

		if err := b.ValidateProposal(req.Context(), gbuilder.ValidateProposalRequest{
			ProposalID: vr.ProposalID,
			Deadline:   vr.Deadline,
		}); err != nil {
			writeBuilderError(log, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSendContent(log *slog.Logger, b gbuilder.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, ok := proposalIDFromPath(log, w, req)
		if !ok {
			return
		}

		var sr sendContentRequest
		if err := json.NewDecoder(req.Body).Decode(&sr); err != nil {
			writeError(log, w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("invalid body: %w", err))
			return
		}

		s, err := b.SendProposalContent(req.Context(), id, gbuilder.SendContent{
			Txs:    sr.Txs,
			Finish: sr.Finish,
		})
		if err != nil {
			writeBuilderError(log, w, err)
			return
		}
		writeJSON(log, w, statusToWire(s))
	}
}

func handleDecision(log *slog.Logger, b gbuilder.Builder) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		id, ok := proposalIDFromPath(log, w, req)
		if !ok {
			return
		}

		if err := b.DecisionReached(req.Context(), id); err != nil {
			writeBuilderError(log, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleAddTxs(log *slog.Logger, ta TxAdder) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var ar addTxsRequest
		if err := json.NewDecoder(req.Body).Decode(&ar); err != nil {
			writeError(log, w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("invalid body: %w", err))
			return
		}

		for i, tx := range ar.Txs {
			if len(tx) == 0 {
				writeError(log, w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("tx %d is empty", i))
				return
			}
		}

		ta.AddTxs(ar.Txs...)
		w.WriteHeader(http.StatusNoContent)
	}
}

func proposalIDFromPath(log *slog.Logger, w http.ResponseWriter, req *http.Request) (gbuilder.ProposalID, bool) {
	n, err := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
	if err != nil {
		writeError(log, w, http.StatusBadRequest, codeBadRequest, fmt.Errorf("invalid proposal id: %w", err))
		return 0, false
	}
	return gbuilder.ProposalID(n), true
}

func writeBuilderError(log *slog.Logger, w http.ResponseWriter, err error) {
	code := codeForError(err)

	status := http.StatusConflict
	switch {
	case errors.Is(err, gbuilder.ErrUnknownProposal):
		status = http.StatusNotFound
	case code == codeInternal:
		status = http.StatusInternalServerError
	}

	writeError(log, w, status, code, err)
}

func writeError(log *slog.Logger, w http.ResponseWriter, status int, code string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(errorResponse{
		Error: err.Error(),
		Code:  code,
	}); encErr != nil {
		log.Warn("Failed to write error response", "err", encErr)
	}
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to write response", "err", err)
	}
}
