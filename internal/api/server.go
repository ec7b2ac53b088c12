// Package api exposes the summarizer over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/samcharles93/summarizer/internal/logger"
)

const DefaultMaxBodyBytes = 1 << 20

// Summarizer is the part of the service the HTTP layer depends on.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
	Ready() bool
}

type Config struct {
	// MaxBodyBytes caps request bodies; 0 selects DefaultMaxBodyBytes.
	MaxBodyBytes int64
	// RequestTimeout bounds how long a request may wait for a busy model
	// session. 0 leaves it to the client.
	RequestTimeout time.Duration
	// RateLimit is the sustained summarize requests per second; 0 disables
	// limiting.
	RateLimit float64
	RateBurst int
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	Version string
	Logger  logger.Logger
}

type Server struct {
	svc     Summarizer
	cfg     Config
	log     logger.Logger
	limiter *rate.Limiter
}

func NewServer(svc Summarizer, cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{svc: svc, cfg: cfg, log: log}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = max(1, int(cfg.RateLimit))
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

// NewEcho returns an Echo instance with the server's middleware and routes.
func NewEcho(s *Server) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(requestContext(s.log))
	e.Use(traceRequests())
	s.Register(e)
	return e
}

func (s *Server) Register(e *echo.Echo) {
	if s.limiter != nil {
		e.POST("/api/summarize", s.handleSummarize, rateLimit(s.limiter))
	} else {
		e.POST("/api/summarize", s.handleSummarize)
	}
	e.GET("/healthz", s.handleHealth)
	e.GET("/readyz", s.handleReady)
	if s.cfg.Metrics != nil {
		e.GET("/metrics", func(c *echo.Context) error {
			s.cfg.Metrics.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}
}

func (s *Server) handleSummarize(c *echo.Context) error {
	if s.svc == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "summarizer not configured", "")
	}
	req, err := decodeJSON[SummarizeRequest](c.Request().Body, s.cfg.MaxBodyBytes)
	if errors.Is(err, errBodyTooLarge) {
		return writeError(c, http.StatusRequestEntityTooLarge, "invalid_request_error", err.Error(), "")
	}
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx := c.Request().Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	summary, err := s.svc.Summarize(ctx, req.Text)
	if err != nil {
		return writePipelineError(c, err)
	}
	return respond(c, http.StatusOK, SummarizeResponse{Summary: summary})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return respond(c, http.StatusOK, HealthResponse{Status: "ok", Version: s.cfg.Version})
}

func (s *Server) handleReady(c *echo.Context) error {
	if s.svc == nil || !s.svc.Ready() {
		return respond(c, http.StatusServiceUnavailable, HealthResponse{Status: "not_ready", Version: s.cfg.Version})
	}
	return respond(c, http.StatusOK, HealthResponse{Status: "ready", Version: s.cfg.Version})
}

// Serve runs e on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, e *echo.Echo, addr string, readTimeout time.Duration) error {
	sc := echo.StartConfig{
		Address: addr,
		BeforeServeFunc: func(srv *http.Server) error {
			srv.ReadHeaderTimeout = readTimeout
			return nil
		},
	}
	if err := sc.Start(ctx, e); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
