package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ent0n29/sentio/internal/observability"
)

// handlePerfLatency reports rolling per-stage turn latencies. ?stage= narrows
// the report to a single stage.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.SnapshotTurnStages()
	if snap.Stages == nil {
		snap.Stages = []observability.TurnStageStats{}
	}
	stage := strings.TrimSpace(r.URL.Query().Get("stage"))
	if stage == "" {
		respondJSON(w, http.StatusOK, snap)
		return
	}
	st, ok := snap.Stage(stage)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_stage", fmt.Sprintf("no samples for stage %q", stage))
		return
	}
	snap.Stages = []observability.TurnStageStats{st}
	snap.Indicators = nil
	respondJSON(w, http.StatusOK, snap)
}

// handlePerfReset starts a fresh latency window, e.g. before a bench run.
func (s *Server) handlePerfReset(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "metrics not configured")
		return
	}
	s.metrics.ResetTurnStages()
	w.WriteHeader(http.StatusNoContent)
}
