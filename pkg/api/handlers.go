package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/pipewatch/pipewatch/pkg/run"
	"github.com/pipewatch/pipewatch/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// runResponse is the wire shape of a persisted run. duration_seconds is
// recomputed here, never read from storage.
type runResponse struct {
	ID              uint       `json:"id"`
	IdentityKey     string     `json:"identity_key"`
	BuildID         string     `json:"build_id"`
	Branch          string     `json:"branch"`
	Result          run.Result `json:"result"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	RepoName        string     `json:"repo_name,omitempty"`
	CommitSHA       string     `json:"commit_sha,omitempty"`
	Runner          string     `json:"runner,omitempty"`
	Workflow        string     `json:"workflow,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds"`
}

func toRunResponse(r *store.PipelineRun) runResponse {
	return runResponse{
		ID:              r.ID,
		IdentityKey:     r.IdentityKey,
		BuildID:         r.BuildID,
		Branch:          r.Branch,
		Result:          r.Result,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		RepoName:        r.RepoName,
		CommitSHA:       r.CommitSHA,
		Runner:          r.Runner,
		Workflow:        r.Workflow,
		DurationSeconds: r.DurationSeconds(),
	}
}

func toRunResponses(runs []store.PipelineRun) []runResponse {
	resp := make([]runResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, toRunResponse(&runs[i]))
	}

	return resp
}

// writeIngestError maps engine errors onto HTTP statuses: validation
// failures identify the offending report and field, transient failures
// signal that a retry with the same payload is safe, integrity
// violations are logged and reported opaquely.
func (s *server) writeIngestError(w http.ResponseWriter, err error) {
	var verr *run.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{verr.Error()})

		return
	}

	s.writeStoreError(w, err)
}

// writeStoreError maps storage errors onto HTTP statuses.
func (s *server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{"storage unavailable, retry later"})
	case errors.Is(err, store.ErrIntegrity):
		s.log.WithError(err).Error("Storage integrity violation")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})
	default:
		s.log.WithError(err).Error("Unexpected error")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})
	}
}

// handleHealth round-trips a trivial query against storage.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{"database unavailable"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIngestEvents accepts a single run report or an array of them and
// returns the persisted records with 201.
func (s *server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"reading request body"})

		return
	}

	var reports []run.Report
	if err := json.Unmarshal(body, &reports); err != nil {
		var single run.Report
		if err := json.Unmarshal(body, &single); err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid request body"})

			return
		}

		reports = []run.Report{single}
	}

	if len(reports) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"at least one run report is required"})

		return
	}

	saved, err := s.ingestor.Ingest(r.Context(), reports)
	if err != nil {
		s.writeIngestError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, toRunResponses(saved))
}

// handleListEvents returns up to 100 most recent runs ordered by
// start_time descending.
func (s *server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRecent(r.Context(), 100)
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, toRunResponses(runs))
}

// statsResponse is the wire shape of the aggregated summary.
type statsResponse struct {
	CountsByResult             map[run.Result]int64   `json:"counts_by_result"`
	AvgDurationSecondsByBranch map[string]float64     `json:"avg_duration_seconds_by_branch"`
	LatestRunByBranch          map[string]runResponse `json:"latest_run_by_branch"`
}

// handleStatsSummary returns counts by result, average duration by
// branch, and the latest run per branch.
func (s *server) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.summarizer.Summarize(r.Context())
	if err != nil {
		s.writeStoreError(w, err)

		return
	}

	latest := make(map[string]runResponse, len(summary.LatestRunByBranch))
	for branch, latestRun := range summary.LatestRunByBranch {
		latest[branch] = toRunResponse(&latestRun)
	}

	writeJSON(w, http.StatusOK, statsResponse{
		CountsByResult:             summary.CountsByResult,
		AvgDurationSecondsByBranch: summary.AvgDurationSecondsByBranch,
		LatestRunByBranch:          latest,
	})
}
