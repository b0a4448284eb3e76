package handlers

import (
	"errors"
	"net/http"

	"github.com/voicebrief/backend/internal/blob"
	"github.com/voicebrief/backend/internal/db"
)

// SummaryHandler serves the polling endpoint clients hit after an
// upload. The response encodes where the job is: the finished summary
// document, a terminal failure, or a progress snapshot.
type SummaryHandler struct {
	db    *db.Database
	blobs blob.Store
}

func NewSummaryHandler(database *db.Database, blobs blob.Store) *SummaryHandler {
	return &SummaryHandler{db: database, blobs: blobs}
}

// Get resolves the job by id or fileName and answers with
//   - 200 and the summary document once the job is summarized
//   - 500 and a failure payload once the job has failed
//   - 202 and a progress payload while the job is still running
func (h *SummaryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	name := r.URL.Query().Get("fileName")

	if id == "" && name == "" {
		jsonError(w, "id or fileName query parameter is required", http.StatusBadRequest)
		return
	}

	if id == "" {
		resolved, err := h.db.FindJobIDByOriginalName(name)
		if errors.Is(err, db.ErrNotFound) {
			jsonError(w, "no job found for file name", http.StatusNotFound)
			return
		}
		if errors.Is(err, db.ErrAmbiguousName) {
			jsonError(w, "file name matches multiple jobs, use id instead", http.StatusConflict)
			return
		}
		if err != nil {
			jsonError(w, "failed to resolve file name", http.StatusInternalServerError)
			return
		}
		id = resolved
	}

	job, err := h.db.GetJob(id)
	if errors.Is(err, db.ErrNotFound) {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to load job", http.StatusInternalServerError)
		return
	}

	if job.SummaryKey != "" {
		doc, err := h.blobs.Get(job.SummaryKey)
		if err != nil {
			jsonError(w, "summary document unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(doc)
		return
	}

	if job.Stage.Failed() || len(job.Errors) > 0 {
		jsonResponse(w, map[string]interface{}{
			"error":     "processing failed",
			"stage":     job.Stage,
			"details":   job.Error,
			"error_for": job.ErrorFor,
			"errors":    job.Errors,
			"job_id":    job.ID,
		}, http.StatusInternalServerError)
		return
	}

	jsonResponse(w, map[string]interface{}{
		"status":          "in_progress",
		"job_id":          job.ID,
		"original_name":   job.OriginalName,
		"stage":           job.Stage,
		"total_parts":     job.TotalParts,
		"completed_parts": job.CompletedParts,
		"last_completed":  job.LastCompleted,
		"updated_at":      job.UpdatedAt,
	}, http.StatusAccepted)
}
