package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mkale/inboxtriage/internal/api/response"
	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/pkg/models"
)

// EmailReader is the store surface the email handler depends on.
type EmailReader interface {
	GetEmail(ctx context.Context, id uuid.UUID) (*models.CanonicalEmail, error)
	ListInsightsByEmail(ctx context.Context, emailID uuid.UUID) ([]*models.Insight, error)
}

// NewGetEmailHandler returns an http.HandlerFunc for
// GET /api/v1/emails/{emailID}. The response includes the email's insights.
func NewGetEmailHandler(s EmailReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		emailID, err := uuid.Parse(chi.URLParam(r, "emailID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "emailID must be a valid UUID", nil)
			return
		}

		email, err := s.GetEmail(r.Context(), emailID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "EMAIL_NOT_FOUND", "No email with that id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		insights, err := s.ListInsightsByEmail(r.Context(), emailID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, map[string]any{
			"email":    email,
			"insights": insights,
		})
	}
}
