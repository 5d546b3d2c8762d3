package upload

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/meetlite/server/internal/metrics"
)

// Handler exposes the POST /api/upload contract on top of a Store.
type Handler struct {
	store *Store
	stats *metrics.Metrics
	log   *slog.Logger
}

func NewHandler(store *Store, stats *metrics.Metrics, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, stats: stats, log: log}
}

type uploadResponse struct {
	Success bool       `json:"success"`
	File    Descriptor `json:"file"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeHTTP handles a multipart upload with field name "file".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The multipart framing adds overhead on top of the file itself; the
	// per-file cap is enforced by the store, this only bounds the request.
	r.Body = http.MaxBytesReader(w, r.Body, h.store.MaxBytes()+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if header.Size > h.store.MaxBytes() {
		h.stats.Inc(metrics.UploadsRejected)
		writeError(w, http.StatusBadRequest, "File too large. Max size is 10MB")
		return
	}

	desc, err := h.store.Save(header.Filename, header.Header.Get("Content-Type"), file)
	switch {
	case errors.Is(err, ErrTooLarge):
		h.stats.Inc(metrics.UploadsRejected)
		writeError(w, http.StatusBadRequest, "File too large. Max size is 10MB")
		return
	case errors.Is(err, ErrForbiddenType):
		h.stats.Inc(metrics.UploadsRejected)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("upload failed", "file", header.Filename, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to upload file")
		return
	}

	h.stats.Inc(metrics.UploadsStored)
	writeJSON(w, http.StatusOK, uploadResponse{Success: true, File: desc})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
