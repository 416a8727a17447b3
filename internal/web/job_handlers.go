package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dkrish7/osprey/internal/ratelimit"
	"github.com/dkrish7/osprey/internal/util"
	"github.com/dkrish7/osprey/model"
)

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Tools())
}

// createJob charges the caller's tool budget before intake; an admitted
// request that later fails validation has still consumed a slot, matching
// the window's view of attempted executions.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req model.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	if req.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "tool_name is required"})
		return
	}

	if err := s.chargeToolBudget(r, caller, req.ToolName); err != nil {
		writeError(w, r, err)
		return
	}

	job, err := s.jobs.Create(r.Context(), caller.userID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	jobs, err := s.jobs.List(r.Context(), caller.userID, r.URL.Query().Get("offset"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	job, err := s.jobs.Get(r.Context(), caller.userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	job, err := s.jobs.Cancel(r.Context(), caller.userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// retryJob re-runs the tool, so it charges the tool budget like a create.
// The job is read first, to learn which tool's window to charge.
func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	prior, err := s.jobs.Get(r.Context(), caller.userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.chargeToolBudget(r, caller, prior.Tool); err != nil {
		writeError(w, r, err)
		return
	}

	job, err := s.jobs.Retry(r.Context(), caller.userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) jobOutput(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	raw, err := s.jobs.Output(r.Context(), caller.userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// chargeToolBudget charges the caller's tier-wide execution window first and
// then the tool's own window, so one noisy tool cannot drain its siblings.
// An unknown tool skips the per-tool charge; Create rejects it right after.
func (s *Server) chargeToolBudget(r *http.Request, caller identity, toolName string) error {
	tier := ratelimit.TierFor(caller.role)
	user := caller.userID.String()

	if _, err := s.limiter.Allow(r.Context(), util.GetRateKey(user, "tool"), tier.Tool); err != nil {
		return err
	}

	spec, ok := s.jobs.ToolRate(toolName)
	if !ok {
		return nil
	}
	_, err := s.limiter.Allow(r.Context(), util.GetRateKey(user, "tool:"+toolName), spec)
	return err
}
