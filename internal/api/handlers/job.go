package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voicebrief/backend/internal/db"
	"github.com/voicebrief/backend/internal/db/models"
)

type JobHandler struct {
	db *db.Database
}

func NewJobHandler(database *db.Database) *JobHandler {
	return &JobHandler{db: database}
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.db.ListJobs()
	if err != nil {
		jsonError(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []*models.JobRecord{}
	}
	jsonResponse(w, map[string]interface{}{"jobs": jobs}, http.StatusOK)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.db.GetJob(id)
	if errors.Is(err, db.ErrNotFound) {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to load job", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, job, http.StatusOK)
}
