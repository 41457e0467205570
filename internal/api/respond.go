package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/recordlens/internal/auth"
	"github.com/dgallion1/recordlens/internal/record"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

// writeError maps pipeline errors onto HTTP status codes. Sessions owned by
// someone else are reported as missing.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var uv *record.UploadValidationError
	switch {
	case errors.As(err, &uv):
		code := http.StatusBadRequest
		if uv.TooLarge {
			code = http.StatusRequestEntityTooLarge
		}
		jsonError(w, uv.Error(), code)
	case errors.Is(err, record.ErrNotFound), errors.Is(err, record.ErrForbidden):
		jsonError(w, record.ErrNotFound.Error(), http.StatusNotFound)
	case errors.Is(err, record.ErrQueueFull):
		jsonError(w, "the server is busy, please try again shortly", http.StatusServiceUnavailable)
	default:
		s.log.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

// identity returns the caller set by AuthMiddleware.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
