// Package server exposes the book generation pipeline and library over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/storyforge/storyforge/internal/assemble"
	"github.com/storyforge/storyforge/internal/book"
	"github.com/storyforge/storyforge/internal/bookstore"
)

// Coordinator runs a full book generation.
type Coordinator interface {
	Assemble(ctx context.Context, req book.GenerationRequest) (assemble.Result, error)
}

// Store is the subset of the book store the API reads from.
type Store interface {
	Get(ctx context.Context, id string) (*book.Book, error)
	List(ctx context.Context, opts bookstore.ListOptions) ([]book.Book, error)
	UpdateStars(ctx context.Context, id string, stars int) (*book.Book, error)
	Ping(ctx context.Context) error
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 0.0.0.0)
	Host string
	// Port is the port to listen on (default: 8080)
	Port int
	// Coordinator runs book generation
	Coordinator Coordinator
	// Store provides read access to the book library
	Store Store
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// Server is the storyforge HTTP server.
type Server struct {
	httpServer  *http.Server
	coordinator Coordinator
	store       Store
	logger      *slog.Logger

	mu      sync.RWMutex
	running bool
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}

	s := &Server{
		coordinator: cfg.Coordinator,
		store:       cfg.Store,
		logger:      cfg.Logger,
	}

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler: s.routes(),
		// Generation runs can outlive the default timeouts: a single book
		// waits on many render jobs.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// routes builds the HTTP router.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/books", func(r chi.Router) {
		r.Get("/", s.handleListBooks)
		r.Post("/generate", s.handleGenerateBook)
		r.Get("/{id}", s.handleGetBook)
		r.Post("/{id}/stars", s.handleUpdateStars)
	})

	return r
}

// Start starts the server. It blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			s.setNotRunning()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// logRequests logs each request with its status and duration.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
