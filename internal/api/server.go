package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/recordlens/internal/auth"
	"github.com/dgallion1/recordlens/internal/extract"
	"github.com/dgallion1/recordlens/internal/pipeline"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP surface.
type Options struct {
	MaxUploadBytes int64
}

// Server is the HTTP API server for recordlens.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	stats        *extract.LLMStats
	health       Pinger
	verifier     *auth.Verifier
	log          *slog.Logger
	opts         Options
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, stats *extract.LLMStats, health Pinger, verifier *auth.Verifier, log *slog.Logger, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	s := &Server{
		orchestrator: orch,
		stats:        stats,
		health:       health,
		verifier:     verifier,
		log:          log,
		opts:         opts,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.verifier, s.log))

		r.Route("/api/analysis", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleListSessions)
			r.Get("/{sessionID}/status", s.handleStatus)
			r.Get("/{sessionID}/result", s.handleResult)
			r.Post("/{sessionID}/retry", s.handleRetry)
			r.Get("/{sessionID}/annotations", s.handleAnnotations)
			r.Get("/{sessionID}/summary", s.handleSummary)
			r.Get("/{sessionID}/history", s.handleHistory)
		})
		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			s.log.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"queueDepth": s.orchestrator.QueueDepth(),
		"running":    s.orchestrator.Running(),
	})
}
