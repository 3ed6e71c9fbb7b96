package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/zombor/expensecam/internal/pipeline"
	"github.com/zombor/expensecam/internal/record"
)

// maxUploadSize bounds multipart parsing; high-resolution phone photos
// regularly exceed 10MB.
const maxUploadSize = int64(50 << 20)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// writeDomainError maps store and pipeline errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, record.ErrNotFound):
		writeError(w, http.StatusNotFound, "image not found")
	case errors.Is(err, record.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not authorized")
	case errors.Is(err, record.ErrConflict):
		writeError(w, http.StatusConflict, "image already exists")
	case errors.Is(err, pipeline.ErrNoOCRText):
		writeError(w, http.StatusConflict, "image has no OCR text yet")
	default:
		slog.Error("Internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleUploadImage stores the raw bytes and registers the image record
// in the uploaded state. Processing stages are triggered separately.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectID")

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeError(w, http.StatusBadRequest, "file is too large, maximum size is 50MB")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "error reading file")
		return
	}

	// Client-generated id wins; keep uploads idempotent on retry.
	id := r.FormValue("id")
	if id == "" {
		id = uuid.NewString()
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)

	storagePath, err := s.blobs.Save(fmt.Sprintf("%s_%s", id, filepath.Base(header.Filename)), data)
	if err != nil {
		slog.Error("Error saving image bytes", "error", err)
		writeError(w, http.StatusInternalServerError, "error saving file")
		return
	}

	rec, err := s.pipeline.RegisterImage(r.Context(), pipeline.RegisterParams{
		ID:               id,
		ProjectID:        projectID,
		OwnerID:          s.owner(r),
		StoragePath:      storagePath,
		OriginalFilename: header.Filename,
		ContentType:      contentType,
		SizeBytes:        header.Size,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// detectContentType falls back to the file extension when the client did
// not declare a type. application/octet-stream counts as undeclared, it
// is what browsers send for types they do not know.
func detectContentType(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleRunOCR triggers the OCR stage for an image.
func (s *Server) handleRunOCR(w http.ResponseWriter, r *http.Request) {
	rec, err := s.pipeline.RunOCR(r.Context(), r.PathValue("id"), r.PathValue("projectID"), s.owner(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRunAnalysis triggers the analysis stage for an image.
func (s *Server) handleRunAnalysis(w http.ResponseWriter, r *http.Request) {
	rec, err := s.pipeline.RunAnalysis(r.Context(), r.PathValue("id"), r.PathValue("projectID"), s.owner(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListImages returns all of the owner's images in a project.
func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	records, err := s.pipeline.ListImages(r.PathValue("projectID"), s.owner(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []*record.ImageRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetImage returns a single image record.
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	rec, err := s.pipeline.GetImage(r.PathValue("id"), r.PathValue("projectID"), s.owner(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetImageFile returns the raw bytes for an image.
func (s *Server) handleGetImageFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.pipeline.GetImageFile(r.PathValue("id"), r.PathValue("projectID"), s.owner(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteImage deletes an image record and its bytes.
func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.DeleteImage(r.Context(), r.PathValue("id"), r.PathValue("projectID"), s.owner(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams image list snapshots for a project until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeSSE(w, r, r.PathValue("projectID"), s.owner(r))
}
