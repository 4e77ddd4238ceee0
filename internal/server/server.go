// Package server exposes the session host over an HTTP control API.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zsiec/splitter/internal/config"
	apperrors "github.com/zsiec/splitter/internal/errors"
	"github.com/zsiec/splitter/internal/health"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/session"
)

// healthInterval is how often the background health checks run.
const healthInterval = 15 * time.Second

// Server serves the control API on HTTP/1.1 and, when TLS is configured,
// on HTTP/3.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	http3Server  *http3.Server
	logger       *logrus.Logger
	sessions     *session.Manager
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler
	limiter      *rate.Limiter
}

// New creates a server over the session manager. A nil redis client skips
// the Redis health check.
func New(cfg *config.ServerConfig, log *logrus.Logger, sessions *session.Manager, redisClient redis.UniversalClient) *Server {
	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		sessions:     sessions,
		healthMgr:    health.NewManager(logger.WithComponent(log, "health")),
		errorHandler: apperrors.NewErrorHandler(logger.WithComponent(log, "http")),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}

	s.healthMgr.Register(health.NewSessionChecker(sessions))
	if redisClient != nil {
		s.healthMgr.Register(health.NewRedisChecker(redisClient))
	}

	s.setupRoutes()
	return s
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or a listener fails, then shuts the
// listeners down.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	if s.config.HTTP3Enabled() {
		cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificates: %w", err)
		}
		s.http3Server = &http3.Server{
			Addr:    fmt.Sprintf(":%d", s.config.HTTP3Port),
			Handler: s.router,
			TLSConfig: http3.ConfigureTLSConfig(&tls.Config{
				MinVersion:   tls.VersionTLS13,
				Certificates: []tls.Certificate{cert},
			}),
			QUICConfig: &quic.Config{
				MaxIdleTimeout: s.config.MaxIdleTimeout,
			},
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.healthMgr.StartPeriodicChecks(gctx, healthInterval)
		return nil
	})

	g.Go(func() error {
		s.logger.WithField("port", s.config.HTTPPort).Info("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.http3Server != nil {
		g.Go(func() error {
			s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")
			if err := s.http3Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && gctx.Err() == nil {
				return fmt.Errorf("http3 server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops accepting requests and waits for in-flight ones on the
// HTTP/1.1 listener. The HTTP/3 listener is closed immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP servers")

	var shutdownErr error
	if s.http3Server != nil {
		if err := s.http3Server.Close(); err != nil {
			shutdownErr = fmt.Errorf("failed to close HTTP/3 server: %w", err)
		}
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil && shutdownErr == nil {
			shutdownErr = fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}

	s.logger.Info("HTTP server shutdown complete")
	return shutdownErr
}

// HealthManager exposes the health checks, mainly for tests.
func (s *Server) HealthManager() *health.Manager {
	return s.healthMgr
}
