// Package server exposes the hub's control surfaces: the HTTP/JSON API
// with WebSocket session streams, and the SSH attach gateway.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"helmsman/internal/bus"
	"helmsman/internal/logging"
	"helmsman/internal/services"
)

// Config holds the control API listen settings
type Config struct {
	ListenAddr string
}

// Server is the hub's control API
type Server struct {
	sessions *services.SessionService
	workers  *services.WorkerService
	streams  *bus.Bus
	http     *http.Server
}

// New wires the router and returns a ready-to-start server
func New(cfg Config, sessions *services.SessionService, workers *services.WorkerService, streams *bus.Bus) *Server {
	s := &Server{
		sessions: sessions,
		workers:  workers,
		streams:  streams,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Patch("/", s.handleUpdateSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/continue", s.handleContinueSession)
				r.Post("/kill", s.handleKillSession)
				r.Post("/input", s.handleSessionInput)
				r.Post("/resize", s.handleSessionResize)
				r.Get("/stream", s.handleSessionStream)
			})
		})
		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handleListWorkers)
			r.Post("/", s.handleRegisterWorker)
			r.Post("/test", s.handleTestWorker)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetWorker)
				r.Delete("/", s.handleUnregisterWorker)
			})
		})
		r.Get("/health", s.handleHealth)
	})

	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is done, then drains
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Logger.Info("control API listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}
