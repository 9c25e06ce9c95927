package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mkale/inboxtriage/internal/api/response"
	"github.com/mkale/inboxtriage/internal/pipeline"
	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/pkg/models"
)

const (
	defaultBatchLimit = 10
	maxBatchLimit     = 100
)

// BatchController defines the on-demand enrichment interface the
// handlers depend on.
type BatchController interface {
	EnrichOne(ctx context.Context, emailID uuid.UUID) (*pipeline.Summary, error)
	EnrichPending(ctx context.Context, limit int) (*pipeline.Summary, error)
}

// NewEnrichOneHandler returns an http.HandlerFunc for
// POST /api/v1/emails/{emailID}/enrich. Runs the deep analysis set on
// one email. Partial failure is still a 200 with the summary.
func NewEnrichOneHandler(c BatchController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		emailID, err := uuid.Parse(chi.URLParam(r, "emailID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "emailID must be a valid UUID", nil)
			return
		}

		summary, err := c.EnrichOne(r.Context(), emailID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "EMAIL_NOT_FOUND", "No email with that id", nil)
			case errors.Is(err, models.ErrProviderUnavailable):
				response.Error(w, http.StatusBadGateway, "AI_PROVIDER_UNAVAILABLE",
					"The AI provider is not available", nil)
			case errors.Is(err, models.ErrInferenceTimeout):
				response.Error(w, http.StatusGatewayTimeout, "AI_INFERENCE_TIMEOUT",
					"AI analysis took too long and was cancelled", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, summary)
	}
}

// NewEnrichBatchHandler returns an http.HandlerFunc for
// POST /api/v1/enrich/batch. Runs deep enrichment over pending emails.
func NewEnrichBatchHandler(c BatchController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Limit int `json:"limit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		limit := req.Limit
		if limit == 0 {
			limit = defaultBatchLimit
		}
		if limit < 1 || limit > maxBatchLimit {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 100", nil)
			return
		}

		summary, err := c.EnrichPending(r.Context(), limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, summary)
	}
}
