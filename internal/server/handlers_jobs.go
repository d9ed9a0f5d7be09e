package server

import (
	"net/http"
	"strings"

	"github.com/bobmcallan/divvy/internal/interfaces"
	"github.com/bobmcallan/divvy/internal/models"
)

// handleJobs serves GET /jobs (filtered listing) and DELETE /jobs?jobId=
// (cancellation of a pending job).
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listJobs(w, r)
	case http.MethodDelete:
		s.cancelJob(w, r)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := interfaces.JobFilter{
		Status:  q.Get("status"),
		JobType: q.Get("job_type"),
		Limit:   QueryInt(r, "limit", 50),
		Offset:  QueryInt(r, "offset", 0),
		Sort:    q.Get("sort"),
		Order:   q.Get("order"),
	}

	jobs, err := s.app.JobManager.List(r.Context(), filter)
	if err != nil {
		s.serverError(w, "Failed to list jobs", err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(jobs),
		"jobs":  jobs,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "jobId query parameter is required")
		return
	}

	if err := s.app.JobManager.Cancel(r.Context(), jobID); err != nil {
		switch {
		case models.IsNotFound(err):
			WriteError(w, http.StatusNotFound, "Job not found")
		case models.IsConflict(err):
			WriteError(w, http.StatusBadRequest, "Only pending jobs can be cancelled")
		default:
			s.serverError(w, "Failed to cancel job", err)
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":    jobID,
		"cancelled": true,
	})
}

// handleJobStatus serves GET /job-status/{jobId}.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/job-status/")
	if jobID == "" || strings.Contains(jobID, "/") {
		WriteError(w, http.StatusBadRequest, "Job id is required")
		return
	}

	progress, err := s.app.JobManager.Progress(r.Context(), jobID)
	if err != nil {
		if models.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.serverError(w, "Failed to load job status", err)
		return
	}

	WriteJSON(w, http.StatusOK, progress)
}

// handleJobsWS upgrades GET /ws/jobs to a websocket streaming job
// lifecycle events. Auth ran in the middleware; websocket clients
// typically pass the key as ?api_key=.
func (s *Server) handleJobsWS(w http.ResponseWriter, r *http.Request) {
	if s.app.JobHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "Job events unavailable")
		return
	}
	s.app.JobHub.ServeWS(w, r)
}
