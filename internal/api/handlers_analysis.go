package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/recordlens/internal/annotate"
	"github.com/dgallion1/recordlens/internal/record"
	"github.com/dgallion1/recordlens/internal/summary"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.orchestrator.GetStatus(r.Context(), identity(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": st})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, ok := s.completedResult(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func (s *Server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	filter := record.AllCategories()
	if q := r.URL.Query(); q.Has("categories") {
		var err error
		if filter, err = annotate.ParseFilter(q.Get("categories")); err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	res, ok := s.completedResult(w, r)
	if !ok {
		return
	}
	var sections record.TextSections
	if res.TextSections != nil {
		sections = *res.TextSections
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"categories": filter.Sorted(),
		"sections":   annotate.RenderSections(sections, res.ValidationAnalysis, filter),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	res, ok := s.completedResult(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "summary": summary.Reduce(res)})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.orchestrator.History(r.Context(), identity(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": events})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}
	sessions, err := s.orchestrator.Sessions(r.Context(), identity(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessions": sessions})
}

// completedResult loads the result of the requested session. It answers the
// request itself and returns false when the result is unavailable.
func (s *Server) completedResult(w http.ResponseWriter, r *http.Request) (record.AnalysisResult, bool) {
	res, err := s.orchestrator.GetResult(r.Context(), identity(r), chi.URLParam(r, "sessionID"))
	if errors.Is(err, record.ErrNotReady) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"success": false,
			"ready":   false,
			"status":  res.Status,
		})
		return res, false
	}
	if err != nil {
		s.writeError(w, r, err)
		return res, false
	}
	return res, true
}
