package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server represents the HTTP server
type Server struct {
	addr       string
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a server for handler. There is no write timeout:
// event streams and relayed sockets stay open indefinitely.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Addr returns the configured listen address, or the bound address once
// Listen has run.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Listen binds the listen address without serving yet.
func (s *Server) Listen() error {
	if s.httpServer == nil {
		return fmt.Errorf("server not initialized")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Start begins serving HTTP requests. It blocks until Shutdown.
func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("server not initialized")
	}
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	err := s.httpServer.Serve(s.listener)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
