package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"f0oster/groupsync/syncrun"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type runRequest struct {
	SourceGroupIDs     []string `json:"source_group_ids"`
	DestinationGroupID string   `json:"destination_group_id"`
	Exclusionary       bool     `json:"exclusionary"`
	ThresholdAddPct    float64  `json:"threshold_add_pct"`
	ThresholdRemovePct float64  `json:"threshold_remove_pct"`
	DryRun             bool     `json:"dry_run"`
	InitialSync        bool     `json:"initial_sync"`
}

func (r runRequest) job() syncrun.Job {
	return syncrun.Job{
		RunID:              uuid.New(),
		SourceGroupIDs:     r.SourceGroupIDs,
		DestinationGroupID: r.DestinationGroupID,
		Exclusionary:       r.Exclusionary,
		ThresholdAddPct:    r.ThresholdAddPct,
		ThresholdRemovePct: r.ThresholdRemovePct,
		DryRun:             r.DryRun,
		InitialSync:        r.InitialSync,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /api/runs
// Runs synchronously and returns the report.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job := req.job()
	report, err := s.runner.Run(r.Context(), job)
	if errors.Is(err, syncrun.ErrInvalidJob) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("sync run failed", zap.Stringer("run_id", job.RunID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	s.reports[report.RunID] = report
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, report)
}

// GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run ID")
		return
	}

	s.mu.RLock()
	report, ok := s.reports[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
