// Package server exposes the policy mailbox over HTTP.
//
// POST /mailbox takes one raw mailbox request as the body and answers with
// the raw response. GET /metrics serves the Prometheus registry when one is
// configured, and GET /health reports liveness.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/varpol/internal/mailbox"
)

// ContentType is the media type of mailbox bodies.
const ContentType = "application/octet-stream"

// MaxRequestSize bounds a mailbox request: a header plus the largest
// policy entry a u16 size field can describe.
const MaxRequestSize = mailbox.HeaderSize + 1<<16

const shutdownTimeout = 10 * time.Second

// Server serves a mailbox Dispatcher over HTTP.
type Server struct {
	dispatcher *mailbox.Dispatcher
	addr       string
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address used by Start.
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithMetrics enables GET /metrics backed by g.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server for d.
func New(d *mailbox.Dispatcher, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		addr:       "127.0.0.1:8407",
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/mailbox", s.handleMailbox)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) handleMailbox(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "mailbox request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read request: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := s.dispatcher.Handle(r.Context(), body)
	if err != nil {
		if errors.Is(err, mailbox.ErrShortMessage) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("mailbox dispatch failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ContentType)
	if _, err := w.Write(resp); err != nil {
		s.logger.Debug("mailbox response write failed", "error", err)
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			return err
		}
		<-errCh
		s.logger.Info("HTTP server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}
