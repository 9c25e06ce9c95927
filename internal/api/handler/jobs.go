package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mkale/inboxtriage/internal/api/response"
	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/pkg/models"
)

const defaultJobListLimit = 50

// JobReader is the store surface the job handlers depend on.
type JobReader interface {
	GetJobRun(ctx context.Context, id uuid.UUID) (*models.JobRun, error)
	ListJobRuns(ctx context.Context, filter store.JobRunFilter) ([]*models.JobRun, error)
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(s JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		run, err := s.GetJobRun(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No job run with that id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, run)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
// Supports ?kind=, ?status=, ?since= (RFC3339) and ?limit= filters.
func NewListJobsHandler(s JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.JobRunFilter{
			Kind:   r.URL.Query().Get("kind"),
			Status: r.URL.Query().Get("status"),
			Limit:  defaultJobListLimit,
		}

		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			filter.Limit = limit
		}
		if v := r.URL.Query().Get("since"); v != "" {
			since, err := time.Parse(time.RFC3339, v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "since must be a valid RFC3339 timestamp", nil)
				return
			}
			filter.Since = since
		}

		runs, err := s.ListJobRuns(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, runs)
	}
}
