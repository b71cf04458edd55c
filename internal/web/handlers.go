package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"trackmeta/internal/batch"
	"trackmeta/internal/metadata"
)

const (
	maxBodyBytes = 1 << 20
	timeLayout   = "2006-01-02 15:04:05"
)

type EnrichRequest struct {
	Artist string `json:"artist" validate:"required,max=500"`
	Title  string `json:"title" validate:"required,max=500"`
}

type OutcomeResponse struct {
	Provider  string  `json:"provider"`
	Outcome   string  `json:"outcome"`
	ElapsedMS int64   `json:"elapsed_ms"`
	Error     string  `json:"error,omitempty"`
	Score     float64 `json:"confidence,omitempty"`
}

type EnrichResponse struct {
	Artist    string              `json:"artist"`
	Title     string              `json:"title"`
	Match     *metadata.Candidate `json:"match"`
	Providers []OutcomeResponse   `json:"providers"`
}

type JobRequest struct {
	Items []batch.Item `json:"items" validate:"required,min=1,max=1000,dive"`
}

type JobResponse struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Total       int       `json:"total"`
	Matched     int       `json:"matched"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   string    `json:"created_at"`
	StartedAt   *string   `json:"started_at,omitempty"`
	CompletedAt *string   `json:"completed_at,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.enricher.Status(r.Context()))
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req EnrichRequest
	if !s.decode(w, r, &req) {
		return
	}

	res := s.enricher.EnrichDetailed(r.Context(), metadata.Query{Artist: req.Artist, Title: req.Title})
	resp := EnrichResponse{
		Artist:    req.Artist,
		Title:     req.Title,
		Match:     res.Winner,
		Providers: make([]OutcomeResponse, 0, len(res.Outcomes)),
	}
	for _, o := range res.Outcomes {
		or := OutcomeResponse{Provider: o.Provider, Outcome: o.Label(), ElapsedMS: o.Elapsed.Milliseconds()}
		if o.Err != nil {
			or.Error = o.Err.Error()
		}
		if o.Candidate != nil {
			or.Score = o.Candidate.Confidence
		}
		resp.Providers = append(resp.Providers, or)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if !s.decode(w, r, &req) {
		return
	}

	job := s.jobMgr.CreateJob(req.Items)
	s.logger.Info("Created job", "job_id", job.ID, "tracks", job.Total())

	go s.processJob(job)

	writeJSON(w, http.StatusAccepted, jobToResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobMgr.ListJobs()
	responses := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		responses[i] = jobToResponse(job)
	}
	writeJSON(w, http.StatusOK, responses)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobMgr.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobMgr.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if !job.Status.Finished() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}
	writeJSON(w, http.StatusOK, job.Results)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobMgr.GetJob(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if job.Status.Finished() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.Status))
		return
	}

	if job.Cancel != nil {
		job.Cancel()
	}
	s.jobMgr.UpdateJob(id, func(j *Job) {
		j.Status = StatusCancelled
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": string(StatusCancelled)})
}

func (s *Server) processJob(job Job) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	s.jobMgr.UpdateJob(job.ID, func(j *Job) {
		j.Cancel = cancel
		j.Status = StatusRunning
	})
	if current, err := s.jobMgr.GetJob(job.ID); err != nil || current.Status.Finished() {
		return
	}

	s.metrics.JobStarted()
	defer s.metrics.JobFinished()

	log := s.logger.With("job_id", job.ID)
	log.Info("Starting job")

	hooks := batch.Hooks{
		OnProgress: func(done int, r batch.Result) {
			s.jobMgr.UpdateJob(job.ID, func(j *Job) {
				j.Progress = done
				if r.Match != nil {
					j.Matched++
				}
			})
		},
	}

	results, stats, err := batch.Run(ctx, s.enricher, job.Items, s.workers, log, hooks)

	s.jobMgr.UpdateJob(job.ID, func(j *Job) {
		j.Results = results
		j.Matched = stats.Matched
		switch {
		case errors.Is(err, context.Canceled):
			j.Status = StatusCancelled
		case err != nil:
			j.Status = StatusFailed
			j.Error = err.Error()
		default:
			j.Status = StatusCompleted
		}
	})

	if err != nil {
		log.Warn("Job stopped early", "error", err.Error())
		return
	}
	log.Info("Job completed", "matched", stats.Matched, "unmatched", stats.Unmatched)
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, describeValidation(err))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s needs at least %s entries", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds the limit of %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func jobToResponse(job Job) JobResponse {
	resp := JobResponse{
		ID:        job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Total:     job.Total(),
		Matched:   job.Matched,
		Error:     job.Error,
		CreatedAt: job.CreatedAt.Format(timeLayout),
	}

	if job.StartedAt != nil {
		started := job.StartedAt.Format(timeLayout)
		resp.StartedAt = &started
	}

	if job.CompletedAt != nil {
		completed := job.CompletedAt.Format(timeLayout)
		resp.CompletedAt = &completed
	}

	return resp
}
