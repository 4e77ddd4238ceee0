package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/splitter/internal/config"
	"github.com/zsiec/splitter/internal/container/mpegts"
	"github.com/zsiec/splitter/internal/logger"
	"github.com/zsiec/splitter/internal/registry"
	"github.com/zsiec/splitter/internal/server"
	"github.com/zsiec/splitter/internal/session"
	"github.com/zsiec/splitter/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting splitter host")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Splitter host failed")
	}

	log.Info("Shutdown complete")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := logger.NewLogrusAdapter(logrus.NewEntry(log))

	var (
		redisClient redis.UniversalClient
		reg         registry.Registry
	)
	if cfg.Registry.Enabled {
		redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        cfg.Redis.Addresses,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.WithError(err).Error("Failed to close Redis connection")
			}
		}()

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		log.Info("Connected to Redis successfully")

		reg = registry.NewRedisRegistry(redisClient, base, cfg.Registry.KeyPrefix, cfg.Registry.TTL)
	}

	opener := mpegts.NewOpener(
		mpegts.WithProbeSize(cfg.Splitter.ProbeSize),
		mpegts.WithLogger(base),
	)

	manager := session.NewManager(session.Config{
		MinPacketsInQueue:  cfg.Splitter.MinPacketsInQueue,
		SinkQueueSize:      cfg.Splitter.SinkQueueSize,
		RequireVideoAnchor: cfg.Splitter.RequireVideoAnchor,
		MaxSessions:        cfg.Splitter.MaxSessions,
		MediaRoot:          cfg.Splitter.MediaRoot,
		Realtime:           cfg.Splitter.Realtime,
		AutoPlay:           cfg.Splitter.AutoPlay,
		StatusInterval:     cfg.Splitter.StatusInterval,
		HeartbeatInterval:  cfg.Registry.HeartbeatInterval,
	}, opener, reg, base)

	srv := server.New(&cfg.Server, log, manager, redisClient)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		metricsServer := newMetricsServer(cfg.Metrics)
		g.Go(func() error {
			log.WithField("addr", metricsServer.Addr).Info("Starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return srv.Start(gctx)
	})

	err := g.Wait()

	log.Info("Closing sessions")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := manager.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Error("Session shutdown incomplete")
	}

	return err
}

func newMetricsServer(cfg config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
