package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/docpipe/internal/model"
	"github.com/seantiz/docpipe/internal/pipeline"
	"github.com/seantiz/docpipe/internal/queue"
	"github.com/seantiz/docpipe/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createJobRequest is the JSON body for POST /v1/jobs and /v1/jobs/sync.
type createJobRequest struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Priority  string          `json:"priority"`
	TimeoutMS int64           `json:"timeout_ms"`
	Retries   int             `json:"retries"`
}

// jobStatusResponse reports where a job is; terminal jobs carry the
// recorded result.
type jobStatusResponse struct {
	JobID  string           `json:"job_id"`
	Status model.Status     `json:"status"`
	Record *model.JobRecord `json:"record,omitempty"`
}

// jobResultResponse is a terminal result with the wall-clock duration
// made explicit for the wire.
type jobResultResponse struct {
	*model.Result
	DurationMS int64 `json:"duration_ms"`
}

type cancelJobResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

// listJobsResponse wraps the paginated history response.
type listJobsResponse struct {
	Jobs   []*model.JobRecord `json:"jobs"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// jobFromRequest validates the wire fields and builds the job. An
// omitted priority defaults to normal; timeout and retries are
// normalized at submission.
func jobFromRequest(req createJobRequest) (*model.Job, error) {
	kind, err := model.ParseKind(req.Type)
	if err != nil {
		return nil, err
	}
	priority := model.PriorityNormal
	if req.Priority != "" {
		priority, err = model.ParsePriority(req.Priority)
		if err != nil {
			return nil, err
		}
	}
	job := model.NewJob(kind, req.Payload, priority)
	job.TimeoutMS = req.TimeoutMS
	job.Retries = req.Retries
	return job, nil
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := jobFromRequest(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.pipeline.Submit(r.Context(), job); err != nil {
		s.submitError(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := jobFromRequest(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := job.ID

	res, err := s.pipeline.Run(r.Context(), job)
	switch {
	case err == nil, errors.Is(err, pipeline.ErrJobFailed):
		// A failed job is still a delivered result.
		s.writeJSON(w, http.StatusOK, jobResultResponse{Result: res, DurationMS: res.Duration.Milliseconds()})
	case errors.Is(err, pipeline.ErrTimeout):
		s.writeJSON(w, http.StatusGatewayTimeout, map[string]string{
			"error":  "job did not finish in time",
			"job_id": id,
		})
	case errors.Is(err, pipeline.ErrCancelled):
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "job cancelled",
			"job_id": id,
		})
	default:
		s.submitError(w, err)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := s.pipeline.Status(r.Context(), id)
	if err != nil {
		s.logger.Error("get job status", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job status")
		return
	}

	switch status {
	case model.StatusNotFound:
		s.writeError(w, http.StatusNotFound, "job not found")
	case model.StatusQueued, model.StatusProcessing:
		s.writeJSON(w, http.StatusOK, jobStatusResponse{JobID: id, Status: status})
	default:
		rec, err := s.store.GetJob(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			// Pruned between the status check and the read.
			s.writeJSON(w, http.StatusOK, jobStatusResponse{JobID: id, Status: status})
			return
		}
		if err != nil {
			s.logger.Error("get job record", "job_id", id, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get job record")
			return
		}
		s.writeJSON(w, http.StatusOK, jobStatusResponse{JobID: id, Status: status, Record: rec})
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.JobRecord{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cancelled, err := s.pipeline.Cancel(r.Context(), id)
	if err != nil {
		s.logger.Error("cancel job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	if !cancelled {
		status, err := s.pipeline.Status(r.Context(), id)
		if err == nil && status == model.StatusNotFound {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, cancelJobResponse{JobID: id, Cancelled: cancelled})
}

// submitError maps pipeline admission errors onto status codes.
func (s *Server) submitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrDuplicateJob):
		s.writeError(w, http.StatusConflict, "a job with this id is already queued or processing")
	case errors.Is(err, pipeline.ErrStopped):
		s.writeError(w, http.StatusServiceUnavailable, "pipeline is shutting down")
	default:
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
