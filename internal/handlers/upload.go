package handlers

import (
	"net/http"

	"github.com/ibo-najjar/chat-app-backend/internal/metrics"
)

// UploadResponse carries the public URL of a stored upload.
type UploadResponse struct {
	URL string `json:"url"`
}

// UploadFile streams a multipart upload into the asset sink and returns its
// public URL.
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		h.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	fileName := r.FormValue("fileName")
	if fileName == "" {
		h.Error(w, http.StatusUnprocessableEntity, "fileName is required")
		return
	}

	url, err := h.sink.Store(r.Context(), fileName, file)
	if err != nil {
		h.logger.Error().Err(err).Msg("upload failed")
		h.Error(w, http.StatusInternalServerError, "error storing file")
		return
	}

	metrics.UploadsTotal.Inc()

	h.JSON(w, http.StatusOK, UploadResponse{URL: url})
}
