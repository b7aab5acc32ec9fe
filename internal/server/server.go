// Package server exposes the orchestrator and the settings files over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/connectors"
	"github.com/kyleking/askdb/internal/gateway"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/sqlexec"
	"github.com/kyleking/askdb/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP API.
type Server struct {
	orch     *gateway.Orchestrator
	store    *connectors.Store
	caller   sqlexec.CallerContext
	addr     string
	registry *telemetry.Registry
	metrics  *telemetry.Metrics
	logger   *logging.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCaller sets the caller context applied to /api/query and /api/sql.
func WithCaller(c sqlexec.CallerContext) Option {
	return func(s *Server) { s.caller = c }
}

// WithTelemetry records request metrics in m and serves r at /metrics.
func WithTelemetry(r *telemetry.Registry, m *telemetry.Metrics) Option {
	return func(s *Server) {
		s.registry = r
		s.metrics = m
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// New returns a server answering through orch and persisting settings in store.
// Requests run as Restricted unless WithCaller says otherwise.
func New(orch *gateway.Orchestrator, store *connectors.Store, opts ...Option) *Server {
	s := &Server{
		orch:   orch,
		store:  store,
		caller: sqlexec.Restricted,
		addr:   "127.0.0.1:5000",
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = telemetry.Noop()
	}

	if s.logger == nil {
		s.logger = logging.GetLogger()
	}

	return s
}

// OptionsFromConfig maps the server section onto options.
func OptionsFromConfig(cfg config.ServerConfig) ([]Option, error) {
	caller, err := sqlexec.ParseCallerContext(cfg.Caller)
	if err != nil {
		return nil, err
	}

	return []Option{
		WithCaller(caller),
		WithAddr(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))),
	}, nil
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.registry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/sql", s.handleSQL)
		r.Get("/schema", s.handleSchema)

		r.Get("/mcp", s.handleGetMCP)
		r.Post("/mcp", s.handleUpdateMCP)

		r.Get("/connectors", s.handleGetConnectors)
		r.Post("/connectors", s.handleUpdateConnectors)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Infof("HTTP API listening on http://%s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Info("shutting down HTTP API")

		return srv.Shutdown(shutdownCtx)
	}
}
