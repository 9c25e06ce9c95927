package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mkale/inboxtriage/internal/api/response"
	"github.com/mkale/inboxtriage/internal/store"
	"github.com/mkale/inboxtriage/pkg/models"
)

const defaultAlertListLimit = 50

// AlertStore is the store surface the alert handlers depend on.
type AlertStore interface {
	ListAlerts(ctx context.Context, unresolvedOnly bool, limit int) ([]*models.AlertEvent, error)
	ResolveAlert(ctx context.Context, id uuid.UUID) error
	GetAlert(ctx context.Context, id uuid.UUID) (*models.AlertEvent, error)
}

// AlertMarker clears the cache-side dedup marker when an alert is
// resolved, so the email can alert again later.
type AlertMarker interface {
	ClearAlert(ctx context.Context, emailID uuid.UUID) error
}

// NewListAlertsHandler returns an http.HandlerFunc for GET /api/v1/alerts.
// Supports ?unresolved=true and ?limit=.
func NewListAlertsHandler(s AlertStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unresolvedOnly := r.URL.Query().Get("unresolved") == "true"

		limit := defaultAlertListLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = parsed
		}

		alerts, err := s.ListAlerts(r.Context(), unresolvedOnly, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, alerts)
	}
}

// NewResolveAlertHandler returns an http.HandlerFunc for
// POST /api/v1/alerts/{alertID}/resolve.
func NewResolveAlertHandler(s AlertStore, marker AlertMarker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alertID, err := uuid.Parse(chi.URLParam(r, "alertID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "alertID must be a valid UUID", nil)
			return
		}

		alert, err := s.GetAlert(r.Context(), alertID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "ALERT_NOT_FOUND", "No alert with that id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		if err := s.ResolveAlert(r.Context(), alertID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		if marker != nil {
			if err := marker.ClearAlert(r.Context(), alert.EmailID); err != nil {
				slog.Warn("failed to clear alert dedup marker", "email_id", alert.EmailID, "error", err)
			}
		}

		response.JSON(w, map[string]any{"id": alertID, "resolved": true})
	}
}
