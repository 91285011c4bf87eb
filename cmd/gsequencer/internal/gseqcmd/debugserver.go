package gseqcmd

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// nodeStatus is the state reported on /status.
type nodeStatus struct {
	mu sync.Mutex

	NodeName string `json:"node_name"`

	LastDecidedHeight uint64 `json:"last_decided_height"`
	LastContentID     string `json:"last_content_id"`
	DecidedTxs        int    `json:"decided_txs"`
}

func (s *nodeStatus) recordDecision(height uint64, contentID string, nTxs int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastDecidedHeight = height
	s.LastContentID = hex.EncodeToString([]byte(contentID))
	s.DecidedTxs += nTxs
}

func newDebugMux(log *slog.Logger, reg *prometheus.Registry, status *nodeStatus) http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/status", handleStatus(log, status)).Methods("GET")

	return r
}

func handleStatus(log *slog.Logger, status *nodeStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status.mu.Lock()
		defer status.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Warn("Failed to marshal status", "err", err)
		}
	}
}
