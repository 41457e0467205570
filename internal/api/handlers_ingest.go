package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/recordlens/internal/pipeline"
)

// formOverhead is the allowance for multipart framing on top of the file.
const formOverhead = 1 << 20

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+formOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.opts.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}

	res, err := s.orchestrator.Submit(r.Context(), identity(r), pipeline.Upload{
		Filename:  sanitizeFilename(header.Filename),
		Data:      data,
		SessionID: strings.TrimSpace(r.FormValue("sessionId")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":   true,
		"sessionId": res.SessionID,
		"status":    res.Status,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	res, err := s.orchestrator.Retry(r.Context(), identity(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":   true,
		"sessionId": res.SessionID,
		"status":    res.Status,
	})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
