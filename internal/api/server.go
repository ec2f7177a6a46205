package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Server is the courseforge HTTP server
type Server struct {
	server *http.Server
	router *Router
}

// NewServer creates a server listening on addr
func NewServer(addr string, router *Router) *Server {
	return &Server{
		router: router,
		server: &http.Server{
			Addr:         addr,
			Handler:      router.Handler(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 150 * time.Second, // content generation is slow
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start blocks serving requests until Shutdown is called
func (s *Server) Start() error {
	slog.Info("starting courseforge daemon", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")
	defer s.router.Close()
	return s.server.Shutdown(ctx)
}
