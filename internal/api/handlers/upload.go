package handlers

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/voicebrief/backend/internal/blob"
	"github.com/voicebrief/backend/internal/logger"
	"github.com/voicebrief/backend/internal/pipeline"
)

// UploadHandler accepts a recording over multipart form data, stores
// it, and kicks off the pipeline in the background. The response is
// 202: clients follow up on /api/summary.
type UploadHandler struct {
	blobs       blob.Store
	coordinator *pipeline.Coordinator
	maxBytes    int64
	log         *logrus.Entry
}

func NewUploadHandler(blobs blob.Store, coordinator *pipeline.Coordinator, maxBytes int64) *UploadHandler {
	return &UploadHandler{
		blobs:       blobs,
		coordinator: coordinator,
		maxBytes:    maxBytes,
		log:         logger.New().WithField("module", "upload"),
	}
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." || filename == "/" {
		jsonError(w, "invalid file name", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, "failed to read upload", http.StatusRequestEntityTooLarge)
		return
	}

	key := "uploads/" + filename
	if err := h.blobs.Put(key, data); err != nil {
		h.log.WithError(err).Error("store upload")
		jsonError(w, "failed to store upload", http.StatusInternalServerError)
		return
	}

	// Optional question to steer the summary, stored as a sidecar
	// object next to the recording.
	if question := strings.TrimSpace(r.FormValue("question")); question != "" {
		if err := h.blobs.Put(key+".question", []byte(question)); err != nil {
			h.log.WithError(err).Warn("store question sidecar")
		}
	}

	go func() {
		if _, err := h.coordinator.Run(context.Background(), pipeline.Trigger{Key: key}); err != nil {
			h.log.WithField("key", key).WithError(err).Error("pipeline run failed")
		}
	}()

	jsonResponse(w, map[string]interface{}{
		"status":        "accepted",
		"key":           key,
		"original_name": strings.TrimSuffix(filename, filepath.Ext(filename)),
	}, http.StatusAccepted)
}
