package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/gate"
	"github.com/Sentinel-Gate/dashgate/internal/domain/ratelimit"
)

// Server is the inbound HTTP adapter: auth endpoints, health, metrics and
// the gated dashboard behind them.
type Server struct {
	backend      auth.Backend
	gate         *gate.Gate
	loader       *SessionLoader
	cookies      *SessionCookies
	matcher      *gate.Matcher
	invalidator  ProfileInvalidator
	audit        audit.Recorder
	limiter      ratelimit.RateLimiter
	signInLimit  ratelimit.RateLimitConfig
	accountLimit ratelimit.RateLimitConfig
	upstream     http.Handler
	health       *HealthChecker
	validate     *validator.Validate

	registry *prometheus.Registry
	sources  MetricSources
	metrics  *Metrics

	addr     string
	siteURL  string
	secure   bool
	certFile string
	keyFile  string
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:3000" (localhost only).
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(s *Server) {
		s.certFile = certFile
		s.keyFile = keyFile
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSiteURL sets the public origin used for the sign-out redirect.
func WithSiteURL(siteURL string) Option {
	return func(s *Server) {
		s.siteURL = strings.TrimRight(siteURL, "/")
	}
}

// WithSecureHeaders enables HSTS on every response.
func WithSecureHeaders(enabled bool) Option {
	return func(s *Server) {
		s.secure = enabled
	}
}

// WithUpstream sets the handler serving admitted dashboard requests.
// Without one a placeholder page is served.
func WithUpstream(h http.Handler) Option {
	return func(s *Server) {
		s.upstream = h
	}
}

// WithMatcher replaces the default set of paths the gate skips.
func WithMatcher(m *gate.Matcher) Option {
	return func(s *Server) {
		s.matcher = m
	}
}

// WithAuditRecorder sets where auth events are recorded.
func WithAuditRecorder(r audit.Recorder) Option {
	return func(s *Server) {
		s.audit = r
	}
}

// WithSignInLimit throttles sign-in attempts per client IP.
func WithSignInLimit(limiter ratelimit.RateLimiter, cfg ratelimit.RateLimitConfig) Option {
	return func(s *Server) {
		s.limiter = limiter
		s.signInLimit = cfg
	}
}

// WithAccountSignInLimit also throttles sign-in attempts per email address,
// using the limiter set by WithSignInLimit.
func WithAccountSignInLimit(cfg ratelimit.RateLimitConfig) Option {
	return func(s *Server) {
		s.accountLimit = cfg
	}
}

// WithProfileInvalidator drops cached profiles of revoked sessions.
func WithProfileInvalidator(inv ProfileInvalidator) Option {
	return func(s *Server) {
		s.invalidator = inv
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.health = hc
	}
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithMetricSources supplies values for function-backed metrics.
func WithMetricSources(src MetricSources) Option {
	return func(s *Server) {
		s.sources = src
	}
}

// NewServer creates the HTTP adapter.
func NewServer(backend auth.Backend, g *gate.Gate, loader *SessionLoader, cookies *SessionCookies, opts ...Option) *Server {
	s := &Server{
		backend:  backend,
		gate:     g,
		loader:   loader,
		cookies:  cookies,
		matcher:  gate.NewMatcher(nil),
		audit:    audit.NopRecorder{},
		validate: newSignInValidator(),
		addr:     "127.0.0.1:3000",
		siteURL:  "http://127.0.0.1:3000",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = NewMetrics(s.registry, s.sources)
	if s.upstream == nil {
		s.upstream = placeholderHandler()
	}
	if s.health == nil {
		s.health = NewHealthChecker(nil, nil, "")
	}
	s.handler = s.routes()
	return s
}

// Metrics returns the server's Prometheus metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// routes builds the router.
// Middleware order (outermost first):
// 1. MetricsMiddleware - Record duration and status (MUST be outermost to capture full duration)
// 2. RequestID - Extract/generate request ID and enrich logger
// 3. Recover - Convert panics to 500 JSON
// 4. RealIP - Extract client IP from X-Forwarded-For
// 5. SecurityHeaders
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		MetricsMiddleware(s.metrics),
		RequestIDMiddleware(s.logger),
		RecoverMiddleware,
		RealIPMiddleware,
		SecurityHeadersMiddleware(s.secure),
	)

	r.Post("/auth/sign-in", s.handleSignIn)
	r.Post("/auth/sign-out", s.handleSignOut)
	r.Get("/api/me", s.handleMe)
	r.Handle("/health", s.health.Handler())
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))
	r.Handle("/*", s.gateHandler(s.upstream))
	return r
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.certFile != "" && s.keyFile != "" {
		s.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)

	go func() {
		var err error
		if s.certFile != "" && s.keyFile != "" {
			s.logger.Info("starting HTTPS server", "addr", s.addr)
			err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			s.logger.Info("starting HTTP server", "addr", s.addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}
