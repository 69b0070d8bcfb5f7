// Package admin runs the admin and status API next to the configured
// servers.
//
// Public endpoints: /health, /status and /metrics. Endpoints under /admin
// need the admin bearer token and are rate limited per client.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-service-framework/pkg/config"
	"github.com/sirosfoundation/go-service-framework/pkg/middleware"
)

// Server is the admin HTTP server.
type Server struct {
	cfg      config.AdminConfig
	handlers *Handlers
	gatherer prometheus.Gatherer
	limiter  *middleware.RateLimiter
	logger   *zap.Logger
	token    string

	srv *http.Server
	ln  net.Listener
}

// New creates the admin server. An empty token is replaced by a generated
// one, logged once.
func New(cfg config.AdminConfig, source Source, gatherer prometheus.Gatherer, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("admin")

	token := cfg.Token
	if token == "" {
		var err error
		token, err = middleware.GenerateAdminToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate admin token: %w", err)
		}
		logger.Info("Generated admin API token (set RSF_ADMIN_TOKEN to use a fixed token)",
			zap.String("token", token))
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:      cfg,
		handlers: NewHandlers(source, logger),
		gatherer: gatherer,
		limiter:  middleware.NewRateLimiter(cfg.RateLimit, logger, clockwork.NewRealClock()),
		logger:   logger,
		token:    token,
	}, nil
}

// Token returns the bearer token protecting /admin.
func (s *Server) Token() string { return s.token }

// Router builds the admin router.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(s.logger))
	if len(s.cfg.CORS.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.CORS.AllowedOrigins,
			AllowMethods:     s.cfg.CORS.AllowedMethods,
			AllowHeaders:     s.cfg.CORS.AllowedHeaders,
			ExposeHeaders:    s.cfg.CORS.ExposedHeaders,
			AllowCredentials: s.cfg.CORS.AllowCredentials,
			MaxAge:           time.Duration(s.cfg.CORS.MaxAge) * time.Second,
		}))
	}

	router.GET("/health", s.handlers.Status)
	router.GET("/status", s.handlers.Status)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	adminGroup := router.Group("/admin")
	adminGroup.Use(middleware.RateLimitMiddleware(s.limiter))
	adminGroup.Use(middleware.AdminAuthMiddleware(s.token, s.logger))
	{
		adminGroup.GET("/servers", s.handlers.ListServers)
		adminGroup.GET("/servers/:name", s.handlers.GetServer)
		adminGroup.GET("/plugins", s.handlers.ListPlugins)
		adminGroup.POST("/plugins/:capability/evict", s.handlers.EvictPlugin)
	}
	return router
}

// Start binds the admin address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	go func() {
		s.logger.Info("Admin server listening", zap.String("address", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Admin server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
