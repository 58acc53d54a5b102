package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/driftwall/driftwall/internal/engine"
	"github.com/driftwall/driftwall/internal/store"
)

// Server is the driftwall HTTP API consumed by the UI and the download
// worker. All learning and ranking goes through the engine; the server is
// plumbing.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	router  chi.Router
	limiter *rate.Limiter
	version string
	started time.Time
}

// New creates a Server. feedbackPerSecond/burst bound the feedback
// ingestion rate; zero disables limiting.
func New(db *store.DB, eng *engine.Engine, version string, feedbackPerSecond float64, burst int) *Server {
	var limiter *rate.Limiter
	if feedbackPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(feedbackPerSecond), burst)
	}
	s := &Server{
		db:      db,
		engine:  eng,
		limiter: limiter,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.With(s.feedbackRate).Post("/feedback", s.handleFeedback)
		r.Get("/feedback/recent", s.handleRecentFeedback)

		r.Post("/rank", s.handleRebuildQueue)
		r.Get("/rankings", s.handleRankings)

		r.Get("/queue", s.handleGetQueue)
		r.Post("/queue/{candidateID}/downloaded", s.handleMarkDownloaded)
		r.Post("/queue/{candidateID}/failed", s.handleRetryFailure)

		r.Get("/preferences", s.handleGetPreferences)
		r.Post("/preferences/seed", s.handleSeedPreferences)
		r.Post("/preferences/reset", s.handleResetPreferences)

		r.Post("/candidates", s.handleUpsertCandidate)
	})

	s.router = r
}

// feedbackRate applies the shared token bucket to feedback ingestion.
func (s *Server) feedbackRate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "feedback rate exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}
