// Package ghttp runs HTTP servers scoped to a context.
package ghttp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultShutdownGrace is used when [ServerConfig.ShutdownGrace] is zero.
const DefaultShutdownGrace = 2 * time.Second

type ServerConfig struct {
	Listener net.Listener
	Handler  http.Handler

	// How long in-flight requests may run after the context is canceled.
	// Connections still open after the grace period are closed.
	ShutdownGrace time.Duration
}

// Server serves a handler until the context passed to [NewServer] is canceled.
type Server struct {
	log  *slog.Logger
	addr net.Addr

	done chan struct{}
	err  error
}

// NewServer starts serving cfg.Handler on cfg.Listener in the background.
// The server takes ownership of the listener.
func NewServer(ctx context.Context, log *slog.Logger, cfg ServerConfig) *Server {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	s := &Server{
		log:  log,
		addr: cfg.Listener.Addr(),

		done: make(chan struct{}),
	}

	hs := &http.Server{
		Handler: cfg.Handler,

		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go s.run(ctx, hs, cfg.Listener, cfg.ShutdownGrace)
	return s
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Wait blocks until the server has stopped,
// returning the error that stopped it, if it was not a requested shutdown.
func (s *Server) Wait() error {
	<-s.done
	return s.err
}

func (s *Server) run(ctx context.Context, hs *http.Server, ln net.Listener, grace time.Duration) {
	defer close(s.done)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- hs.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		// Stopped on its own; ctx is still live.
		s.log.Warn("HTTP server stopped unexpectedly", "err", err)
		s.err = err
		return
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	if err := hs.Shutdown(sctx); err != nil {
		s.log.Info("HTTP server did not drain within grace period", "grace", grace, "err", err)
		_ = hs.Close()
	}

	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.err = err
	}
	s.log.Info("HTTP server stopped")
}
