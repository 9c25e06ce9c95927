package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkale/inboxtriage/internal/api/response"
	"github.com/mkale/inboxtriage/internal/pipeline"
)

// StageController defines the scheduler surface the stage handlers
// depend on.
type StageController interface {
	Suspend(name string) error
	Resume(name string) error
	Status() []pipeline.StageInfo
}

// NewListStagesHandler returns an http.HandlerFunc for GET /api/v1/stages.
func NewListStagesHandler(sc StageController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, sc.Status())
	}
}

// NewSuspendStageHandler returns an http.HandlerFunc for
// POST /api/v1/stages/{stage}/suspend. An in-flight batch completes;
// the stage skips future cycles until resumed.
func NewSuspendStageHandler(sc StageController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "stage")
		if err := sc.Suspend(name); err != nil {
			response.Error(w, http.StatusNotFound, "UNKNOWN_STAGE", err.Error(), nil)
			return
		}
		response.JSON(w, map[string]string{"stage": name, "state": pipeline.StateSuspended})
	}
}

// NewResumeStageHandler returns an http.HandlerFunc for
// POST /api/v1/stages/{stage}/resume.
func NewResumeStageHandler(sc StageController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "stage")
		if err := sc.Resume(name); err != nil {
			response.Error(w, http.StatusNotFound, "UNKNOWN_STAGE", err.Error(), nil)
			return
		}
		response.JSON(w, map[string]string{"stage": name, "state": pipeline.StateActive})
	}
}
