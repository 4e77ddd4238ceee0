package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	// Redis is only dialed when the shared registry is on.
	if c.Registry.Enabled {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Splitter.Validate(); err != nil {
		return fmt.Errorf("splitter config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if c.Metrics.Enabled && c.Metrics.Port == c.Server.HTTPPort {
		return fmt.Errorf("metrics port %d collides with the HTTP port", c.Metrics.Port)
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.ShutdownTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if (s.TLSCertFile == "") != (s.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert_file and tls_key_file must be set together")
	}

	if s.HTTP3Enabled() {
		if s.HTTP3Port < 1 || s.HTTP3Port > 65535 {
			return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
		}

		if s.HTTP3Port == s.HTTPPort {
			return fmt.Errorf("HTTP3 port cannot equal HTTP port")
		}

		if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
		}

		if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
		}
	}

	if err := s.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}

	return nil
}

func (r *RateLimitConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}

	if r.Burst <= 0 {
		return fmt.Errorf("burst must be positive")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	switch l.Output {
	case "", "stdout", "stderr":
	default:
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

func (s *SplitterConfig) Validate() error {
	if s.MinPacketsInQueue < 0 {
		return fmt.Errorf("min_packets_in_queue cannot be negative")
	}

	if s.SinkQueueSize <= 0 {
		return fmt.Errorf("sink_queue_size must be positive")
	}

	// A sink that can never hold the threshold would report starvation forever.
	if s.MinPacketsInQueue > s.SinkQueueSize {
		return fmt.Errorf("min_packets_in_queue (%d) cannot exceed sink_queue_size (%d)",
			s.MinPacketsInQueue, s.SinkQueueSize)
	}

	if s.ProbeSize < 188*4 {
		return fmt.Errorf("probe_size must be at least %d bytes", 188*4)
	}

	if s.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive")
	}

	if s.StatusInterval <= 0 {
		return fmt.Errorf("status_interval must be positive")
	}

	if s.MediaRoot != "" {
		info, err := os.Stat(s.MediaRoot)
		if err != nil {
			return fmt.Errorf("media_root: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("media_root is not a directory: %s", s.MediaRoot)
		}
	}

	return nil
}

func (r *RegistryConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.KeyPrefix == "" {
		return fmt.Errorf("key_prefix cannot be empty")
	}

	if r.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	if r.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}

	if r.HeartbeatInterval >= r.TTL {
		return fmt.Errorf("heartbeat_interval (%s) must be shorter than ttl (%s)", r.HeartbeatInterval, r.TTL)
	}

	return nil
}
