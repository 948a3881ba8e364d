package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
)

// ServerConfig holds the HTTP API dependencies.
type ServerConfig struct {
	Processor processor.ImageProcessorInterface
	// Store must also be the processor's Verifier for verify=true uploads
	// to be resolvable over the API.
	Store             *JobStore
	Logs              *logging.Buffer
	Concurrency       int
	MaxUploadSize     int64
	ProcessingTimeout time.Duration
}

// Server is the HTTP API for interactive translation runs.
type Server struct {
	router chi.Router
	cfg    ServerConfig
	store  *JobStore
	sem    chan struct{}
	log    *logging.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates and configures the HTTP server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Store == nil {
		cfg.Store = NewJobStore()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 50 << 20
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 5 * time.Minute
	}

	baseCtx, stop := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		store:   cfg.Store,
		sem:     make(chan struct{}, cfg.Concurrency),
		log:     logging.NewLogger(logging.CategoryAPI),
		baseCtx: baseCtx,
		stop:    stop,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Store returns the server's job store.
func (s *Server) Store() *JobStore {
	return s.store
}

// Shutdown cancels in-flight runs and waits for them to unwind or ctx to
// end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/translate", s.handleTranslate)

		r.Get("/jobs", s.handleListJobs)
		r.Delete("/jobs", s.handleClearJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/jobs/{jobID}/image", s.handleJobImage)
		r.Post("/jobs/{jobID}/verify", s.handleVerify)
		r.Delete("/jobs/{jobID}", s.handleDeleteJob)

		r.Get("/logs", s.handleLogs)
		r.Delete("/logs", s.handleClearLogs)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   s.store.Len(),
	})
}
