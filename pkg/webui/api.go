package webui

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/monitor"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/orchestration/types"
	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/store"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// startError maps a rejected start request onto a response.
func startError(w http.ResponseWriter, err error) {
	var conflict *orchestration.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  err.Error(),
			"run_id": conflict.RunID,
			"stage":  conflict.Stage,
		})
	case errors.Is(err, orchestration.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// handleStartRun starts a run and returns immediately.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req orchestration.StartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	run, err := s.deps.Runner.Start(r.Context(), req)
	if err != nil {
		startError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":     run.ID,
		"project_id": run.ProjectID,
		"stage":      run.Stage,
		"mode":       run.Mode,
	})
}

// generateResponse is the terminal outcome of a synchronous run.
type generateResponse struct {
	Success  bool             `json:"success"`
	RunID    string           `json:"run_id,omitempty"`
	Plan     *types.UIPlan    `json:"plan,omitempty"`
	Files    []types.CodeFile `json:"files,omitempty"`
	Message  string           `json:"message,omitempty"`
	Attempts int              `json:"attempts,omitempty"`
	Errors   []string         `json:"errors,omitempty"`
	Reason   string           `json:"reason,omitempty"`
}

// handleGenerate runs the pipeline and waits for its terminal outcome. A run
// that fails is still a 200 with success=false.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req orchestration.StartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.deps.Runner.Execute(r.Context(), req)
	if err != nil {
		var runErr *orchestration.RunError
		if errors.As(err, &runErr) {
			writeJSON(w, http.StatusOK, generateResponse{
				Success: false,
				RunID:   runErr.RunID,
				Errors:  runErr.Messages(),
				Reason:  string(runErr.Reason),
			})
			return
		}
		if r.Context().Err() != nil {
			s.logger.Debug("generate client went away", zap.String("project", req.ProjectID))
			return
		}
		startError(w, err)
		return
	}

	resp := generateResponse{
		Success:  true,
		RunID:    res.Run.ID,
		Message:  res.Message,
		Attempts: res.Run.Attempt + 1,
	}
	if res.Plan != nil {
		resp.Plan = res.Plan
	} else {
		resp.Files = res.Files
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus reports pipeline configuration and readiness.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	operational, corpusSize := true, 0
	if s.deps.Corpus != nil {
		operational = s.deps.Corpus.Operational()
		corpusSize = s.deps.Corpus.Size()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"operational":             operational,
		"max_retries":             s.deps.Runner.MaxRetries(),
		"top_k":                   s.deps.Runner.TopK(),
		"corpus_size":             corpusSize,
		"allowed_component_types": s.deps.AllowList.Names(),
		"active_runs":             s.deps.Runner.ActiveRuns(),
	})
}

type buildReport struct {
	Status string   `json:"status"`
	Errors []string `json:"errors"`
}

// handleBuildReport feeds an external build result into the monitor.
func (s *Server) handleBuildReport(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	var report buildReport
	if !decodeBody(w, r, &report) {
		return
	}
	status, err := monitor.ParseStatus(report.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Monitor.Report(r.Context(), projectID, status, report.Errors); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Monitor.Snapshot(projectID))
}

// handleRestart clears a project's circuit breaker.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	s.deps.Monitor.Restart(projectID)
	writeJSON(w, http.StatusOK, s.deps.Monitor.Snapshot(projectID))
}

func (s *Server) handleHealthSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Monitor.Snapshot(r.PathValue("id")))
}

// handleFiles returns the durable project file map.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotImplemented, "no project store configured")
		return
	}
	projectID := r.PathValue("id")
	files, err := s.deps.Store.Files(r.Context(), projectID)
	if err != nil {
		s.logger.Error("failed to list project files", zap.String("project", projectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list project files")
		return
	}
	if files == nil {
		files = []store.File{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "files": files})
}

// handleRuns returns the project's run history, newest first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotImplemented, "no project store configured")
		return
	}
	limit := 20
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	projectID := r.PathValue("id")
	runs, err := s.deps.Store.Runs(r.Context(), projectID, limit)
	if err != nil {
		s.logger.Error("failed to list runs", zap.String("project", projectID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "runs": runs})
}
