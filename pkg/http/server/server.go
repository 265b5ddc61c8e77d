// Package httpserver runs an http.Server in the background.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultAddr              = ":8080"
	defaultShutdownTimeout   = 3 * time.Second
)

// Server wraps http.Server and reports its terminal error through Notify.
type Server struct {
	server          *http.Server
	errCh           chan error
	shutdownTimeout time.Duration
}

// Options configure a Server. Zero values fall back to defaults.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// New starts serving handler immediately.
func New(handler http.Handler, opt Options) *Server {
	addr := opt.Addr
	if addr == "" {
		addr = defaultAddr
	}

	shutdownTimeout := opt.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	srv := &Server{
		server: &http.Server{
			Handler:           handler,
			Addr:              addr,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
			WriteTimeout:      defaultWriteTimeout,
		},
		errCh:           make(chan error, 1),
		shutdownTimeout: shutdownTimeout,
	}

	go srv.start()

	return srv
}

func (s *Server) start() {
	err := s.server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		s.errCh <- err
	}

	close(s.errCh)
}

// Notify yields the listener error, if any, and is closed once serving stops.
func (s *Server) Notify() <-chan error {
	return s.errCh
}

// Shutdown gracefully stops the server within the configured timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}
