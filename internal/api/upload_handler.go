package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fsnebula/converter-api/internal/api/shared"
	"github.com/fsnebula/converter-api/internal/mirror"
)

// maxUploadBytes caps a single mirror drop.
const maxUploadBytes = 2 << 30

// UploadHandler serves the signed-path mirror drop endpoint.
type UploadHandler struct {
	mirror *mirror.Store
	logger *slog.Logger
}

func NewUploadHandler(m *mirror.Store, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{mirror: m, logger: logger.With("component", "upload_api")}
}

// Register mounts the endpoint.
func (h *UploadHandler) Register(r chi.Router) {
	r.Post("/api/upload/{index}/{expiry}/{sig}", h.Upload)
}

// Upload accepts one multipart file drop on a signed path.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid key index")
		return
	}
	expiry, err := strconv.ParseInt(chi.URLParam(r, "expiry"), 10, 64)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid expiry")
		return
	}

	if err := h.mirror.Authorize(index, expiry, chi.URLParam(r, "sig"), time.Now()); err != nil {
		h.logger.Warn("rejecting upload", "key_index", index, "error", err)
		shared.RespondWithError(w, r, http.StatusForbidden, "Access denied")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing file")
		return
	}
	defer file.Close()

	obj, err := h.mirror.Save(header.Filename, file)
	if err != nil {
		if errors.Is(err, mirror.ErrExtNotAllowed) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "File type not allowed")
			return
		}
		h.logger.Error("upload failed", "filename", header.Filename, "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("stored mirror drop",
		"filename", header.Filename,
		"path", obj.Path,
		"size", obj.Size,
		"duplicate", obj.Duplicate)
	shared.RespondWithJSON(w, http.StatusOK, UploadResponse{Path: obj.Path, URL: obj.URL, Duplicate: obj.Duplicate})
}
