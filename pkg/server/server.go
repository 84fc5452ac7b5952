package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tunogya/fractal/pkg/cache"
	"github.com/tunogya/fractal/pkg/engine"
	"github.com/tunogya/fractal/pkg/metrics"
	"github.com/tunogya/fractal/pkg/model"
)

// Engine is the part of the fractal engine the HTTP surface needs
type Engine interface {
	Match(ctx context.Context, req model.MatchRequest) (*model.MatchResponse, error)
	Explain(ctx context.Context, req model.MatchRequest) (*engine.ExplainResponse, error)
	Invalidate(symbol, timeframe string)
	InvalidateAll()
	Rebuild(ctx context.Context, symbol, timeframe string) error
	Generation(symbol, timeframe string) uint64
	Fingerprint(symbol, timeframe string) string
	Caches() []engine.CacheInfo
}

// Config holds server configuration
type Config struct {
	Addr            string
	RateLimit       float64 // requests per second, 0 disables limiting
	Burst           int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CacheTTL        time.Duration
}

// Option configures Server
type Option func(*Server)

// WithCache sets the response cache
func WithCache(c cache.BytesCache) Option {
	return func(s *Server) { s.cache = c }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics recorder and the gatherer served on /metrics
func WithMetrics(r *metrics.Recorder, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = r
		s.gatherer = g
	}
}

// Server wraps the echo HTTP server
type Server struct {
	echo     *echo.Echo
	engine   Engine
	cfg      Config
	cache    cache.BytesCache
	log      zerolog.Logger
	metrics  *metrics.Recorder
	gatherer prometheus.Gatherer
}

// New creates the HTTP server and registers all routes
func New(eng Engine, cfg Config, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	s := &Server{
		engine:   eng,
		cfg:      cfg,
		cache:    cache.Nop{},
		log:      zerolog.Nop(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "server").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	e.Use(echomw.Recover())
	e.Use(RequestID())
	e.Use(RequestLogging(s.log, s.metrics))
	if cfg.RateLimit > 0 {
		e.Use(RateLimit(cfg.RateLimit, cfg.Burst, "/healthz", "/metrics"))
	}

	s.echo = e
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.echo.Group("/api/fractal")
	api.POST("/match", s.match)
	api.POST("/explain", s.explain)

	admin := s.echo.Group("/api/admin")
	admin.GET("/caches", s.caches)
	admin.POST("/cache/invalidate", s.invalidate)
	admin.POST("/index/rebuild", s.rebuild)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info().Msg("http server stopped")
	return nil
}
