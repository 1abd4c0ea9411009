// Package server exposes chat sessions over HTTP: JSON endpoints for turns
// and session state, plus an SSE stream that reveals responses word by word.
package server

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/chat"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/config"
	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"
	"github.com/ZanzyTHEbar/coffee-gpt/cgpt/metrics"
)

const (
	defaultAddr        = ":8080"
	defaultTurnTimeout = 90 * time.Second
)

// forgetter is implemented by limiters that keep per-key state.
type forgetter interface {
	Forget(key string)
}

// Server is the HTTP front end for a chat.Service.
type Server struct {
	cfg      config.ServerConfig
	svc      *chat.Service
	sessions *chat.Registry
	limiter  ports.RateLimiter
	policy   *bluemonday.Policy
	engine   *gin.Engine
	http     *http.Server
	logger   zerolog.Logger
}

// New builds the router. A nil limiter disables per-session turn limiting.
func New(cfg config.ServerConfig, svc *chat.Service, sessions *chat.Registry, limiter ports.RateLimiter, logger zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	if cfg.RevealInterval <= 0 {
		cfg.RevealInterval = chat.DefaultRevealInterval
	}

	s := &Server{
		cfg:      cfg,
		svc:      svc,
		sessions: sessions,
		limiter:  limiter,
		policy:   bluemonday.StrictPolicy(),
		logger:   logger.With().Str("component", "server").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}
	s.attachRoutes(r)
	s.engine = r

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) attachRoutes(r *gin.Engine) {
	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/sessions", s.createSession)
		v1.GET("/sessions/:id", s.getSession)
		v1.DELETE("/sessions/:id", s.deleteSession)
		v1.PUT("/sessions/:id/location", s.setLocation)
		v1.POST("/sessions/:id/messages", s.postMessage)
		v1.GET("/sessions/:id/starters", s.starters)
		v1.GET("/sessions/:id/stream", s.stream)
		v1.GET("/places/nearby", s.nearbyPlaces)
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down http server")
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		metrics.RequestCount.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(elapsed.Seconds())

		ev := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = s.logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", endpoint).
			Int("status", status).
			Dur("duration", elapsed).
			Msg("request")
	}
}

// clean strips markup and leaves plain text.
func (s *Server) clean(text string) string {
	return html.UnescapeString(s.policy.Sanitize(text))
}

func (s *Server) cleanFragments(frags []chat.DisplayFragment) []chat.DisplayFragment {
	out := make([]chat.DisplayFragment, len(frags))
	for i, f := range frags {
		out[i] = chat.DisplayFragment{Text: s.clean(f.Text), PhotoURL: f.PhotoURL}
	}
	return out
}
