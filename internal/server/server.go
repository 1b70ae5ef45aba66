package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pmorton/custodian/internal/engine"
	"github.com/pmorton/custodian/internal/sched"
	"github.com/pmorton/custodian/internal/store"
)

// Server is the custodian admin HTTP API.
type Server struct {
	db        *store.DB
	runner    *engine.Runner
	scheduler *sched.Scheduler
	prober    sched.LoadProber
	router    chi.Router
	version   string
	started   time.Time
}

// New creates a new Server over the maintenance runner and scheduler.
func New(db *store.DB, runner *engine.Runner, scheduler *sched.Scheduler, prober sched.LoadProber, version string) *Server {
	s := &Server{
		db:        db,
		runner:    runner,
		scheduler: scheduler,
		prober:    prober,
		version:   version,
		started:   time.Now(),
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

		r.Post("/maintenance/trigger", s.handleTrigger)
		r.Get("/maintenance/status", s.handleStatus)
		r.Get("/maintenance/report", s.handleReport)

		r.Get("/memories", s.handleListMemories)
		r.Get("/memories/{memoryID}", s.handleGetMemory)
	})

	s.router = r
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
