package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"autopinner/internal/core"
	"autopinner/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	worker     *core.Worker
	store      *store.Store
	mcp        http.Handler
	metrics    http.Handler
	logger     *slog.Logger
	location   *time.Location
	authToken  string
}

// Options carries the optional pieces of the server.
type Options struct {
	Addr      string
	AuthToken string
	Location  *time.Location
	// MCP and Metrics are mounted at /mcp and /metrics when set.
	MCP     http.Handler
	Metrics http.Handler
}

// NewServer constructs the HTTP API server.
func NewServer(opts Options, worker *core.Worker, store *store.Store, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	if opts.Location == nil {
		opts.Location = time.Local
	}
	s := &Server{
		router:    router,
		worker:    worker,
		store:     store,
		mcp:       opts.MCP,
		metrics:   opts.Metrics,
		logger:    logger,
		location:  opts.Location,
		authToken: opts.AuthToken,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)

	auth := func(h http.Handler) http.Handler {
		if s.authToken == "" {
			return h
		}
		return AuthMiddleware(s.authToken)(h)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", auth(s.metrics))
	}
	if s.mcp != nil {
		s.router.Handle("/mcp", auth(s.mcp))
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Get("/status", s.handleStatus)
		r.Post("/worker/{action}", s.handleWorkerAction)
		r.Get("/queue", s.handleQueue)
		r.Post("/schedule/preview", s.handleSchedulePreview)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handleUpdateTask)
				r.Post("/run", s.handleRunTask)
				r.Get("/runs", s.handleListRuns)
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/{runID}", s.handleGetRun)
		})

		r.Route("/pins", func(r chi.Router) {
			r.Get("/", s.handleListPins)
			r.Get("/stats", s.handlePinStats)

			r.Route("/{pinID}", func(r chi.Router) {
				r.Get("/", s.handleGetPin)
				r.Delete("/", s.handleDeletePin)
				r.Post("/reset", s.handleResetPin)
			})
		})
	})
}
