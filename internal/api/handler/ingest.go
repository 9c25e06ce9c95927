package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mkale/inboxtriage/internal/api/response"
	"github.com/mkale/inboxtriage/internal/jobs"
	"github.com/mkale/inboxtriage/pkg/models"
)

const maxIngestBatch = 500

// RawEmailCreator is the store surface the ingest handler depends on.
type RawEmailCreator interface {
	CreateRawEmail(ctx context.Context, raw *models.RawEmailFile) error
}

// NewIngestHandler returns an http.HandlerFunc for POST /api/v1/ingest.
// Each submitted payload becomes one PENDING RawEmailFile; parsing
// happens asynchronously in the pipeline. The batch is recorded as an
// INGEST job run so ingestion shows up in job history like every other
// stage. Items are isolated: one failed insert does not abort the rest.
func NewIngestHandler(s RawEmailCreator, tracker *jobs.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SourceName string `json:"source_name"`
			Emails     []struct {
				FileName string          `json:"file_name"`
				Content  json.RawMessage `json:"content"`
			} `json:"emails"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.SourceName == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "source_name is required", nil)
			return
		}
		if len(req.Emails) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "emails must not be empty", nil)
			return
		}
		if len(req.Emails) > maxIngestBatch {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "too many emails in one batch", nil)
			return
		}

		run, err := tracker.Begin(r.Context(), models.JobKindIngest)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to record ingest job", nil)
			return
		}

		ids := make([]uuid.UUID, 0, len(req.Emails))
		failed := 0
		for _, item := range req.Emails {
			raw := &models.RawEmailFile{
				ID:         uuid.New(),
				SourceName: req.SourceName,
				FileName:   item.FileName,
				RawContent: rawContentBytes(item.Content),
				Status:     models.RawStatusPending,
				ReceivedAt: time.Now().UTC(),
			}
			if err := s.CreateRawEmail(r.Context(), raw); err != nil {
				slog.Error("failed to store email payload",
					"source", req.SourceName, "file", item.FileName, "error", err)
				failed++
				continue
			}
			ids = append(ids, raw.ID)
		}

		if err := tracker.Complete(r.Context(), run, len(ids), failed); err != nil {
			slog.Error("failed to finalize ingest job run", "job_id", run.ID, "error", err)
		}

		if len(ids) == 0 {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to store email payloads", map[string]any{"job_id": run.ID})
			return
		}

		response.Created(w, map[string]any{
			"accepted": len(ids),
			"failed":   failed,
			"ids":      ids,
			"job_id":   run.ID,
		})
	}
}

// rawContentBytes unwraps a JSON string payload into its text bytes;
// structured JSON payloads are stored verbatim.
func rawContentBytes(content json.RawMessage) []byte {
	var text string
	if json.Unmarshal(content, &text) == nil {
		return []byte(text)
	}
	return []byte(content)
}
