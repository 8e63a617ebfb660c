package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fault-matcher/config"
	"fault-matcher/web/handlers"
	"fault-matcher/web/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	router  *gin.Engine
	matches *handlers.MatchHandler
	limiter *middleware.ClientRateLimiter
	logger  *zap.Logger
	config  *config.Config
}

func NewServer(matches *handlers.MatchHandler, logger *zap.Logger, cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(logger))
	router.Use(middleware.CORS())

	server := &Server{
		router:  router,
		matches: matches,
		limiter: middleware.NewClientRateLimiter(middleware.RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimitRequestsPerMin,
			BurstSize:         cfg.RateLimitBurstSize,
			CleanupInterval:   10 * time.Minute,
		}, logger),
		logger: logger,
		config: cfg,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.matches.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := s.router.Group("/", middleware.RateLimitMiddleware(s.limiter))
	limited.GET("/match", s.matches.Match)
	limited.GET("/match/combined", s.matches.Combined)

	hybridGroup := limited.Group("/hybrid")
	hybridGroup.POST("/match", s.matches.HybridMatch)
	hybridGroup.GET("/stats", s.matches.HybridStats)
	hybridGroup.POST("/fault-points", s.matches.FaultPoints)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting web server", zap.String("address", addr))

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Web server failed to start", zap.Error(err))
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.limiter.Stop()
		return err
	}

	s.logger.Info("Shutting down web server")
	s.limiter.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
