// Package server exposes the ledger, the live stream and the note and hook
// endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// DefaultPathPrefix is where the routes are mounted when none is configured.
const DefaultPathPrefix = "/clawtrace"

const shutdownTimeout = 5 * time.Second

// Config holds HTTP server configuration.
type Config struct {
	Bind           string
	Port           int
	PathPrefix     string
	MetricsEnabled bool
	// OnListen, when set, is called with the bound address before serving.
	OnListen func(addr string)
}

// Server is the HTTP front of the pipeline.
type Server struct {
	srv      *http.Server
	router   chi.Router
	log      *logrus.Entry
	base     context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	boundTo  net.Addr
	onListen func(string)
}

// New builds the router and mounts h under the configured prefix. metrics
// may be nil when the endpoint is disabled.
func New(cfg Config, h *Handler, metrics http.Handler, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	prefix := NormalizePrefix(cfg.PathPrefix)
	if prefix == "" {
		h.Register(r)
	} else {
		r.Route(prefix, h.Register)
		// Route also claims the bare prefix; relative dashboard URLs need the slash.
		r.Get(prefix, func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, prefix+"/", http.StatusMovedPermanently)
		})
	}
	if cfg.MetricsEnabled && metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:   r,
		log:      log,
		base:     base,
		cancel:   cancel,
		onListen: cfg.OnListen,
	}
	s.srv = &http.Server{
		Addr:              net.JoinHostPort(cfg.Bind, fmt.Sprint(cfg.Port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with the server, not with the shutdown timeout.
		BaseContext: func(net.Listener) context.Context { return base },
	}
	return s
}

// NormalizePrefix returns "" for the root or "/x/y" without a trailing slash.
func NormalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.mu.Lock()
	s.boundTo = ln.Addr()
	s.mu.Unlock()
	s.log.WithField("addr", ln.Addr().String()).Info("http server listening")
	if s.onListen != nil {
		s.onListen(ln.Addr().String())
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.base.Done():
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Stop(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("http shutdown")
		}
	}()

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop ends open streams and gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	return s.srv.Shutdown(ctx)
}

// Addr returns the bound address once listening, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boundTo != nil {
		return s.boundTo.String()
	}
	return s.srv.Addr
}

func requestLogger(log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			}).Debug("http request")
		})
	}
}
