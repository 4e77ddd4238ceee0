package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Splitter SplitterConfig `mapstructure:"splitter"`
	Registry RegistryConfig `mapstructure:"registry"`
}

type ServerConfig struct {
	// HTTP/1.1 control API
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// HTTP/3, only started when both TLS files are set
	HTTP3Port      int           `mapstructure:"http3_port"`
	TLSCertFile    string        `mapstructure:"tls_cert_file"`
	TLSKeyFile     string        `mapstructure:"tls_key_file"`
	MaxIdleTimeout time.Duration `mapstructure:"max_idle_timeout"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// HTTP3Enabled reports whether TLS material for the HTTP/3 listener is configured.
func (s *ServerConfig) HTTP3Enabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`     // json or text
	Output     string `mapstructure:"output"`     // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"`   // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// SplitterConfig tunes every demux session the host opens.
type SplitterConfig struct {
	MinPacketsInQueue  int           `mapstructure:"min_packets_in_queue"` // starvation threshold
	SinkQueueSize      int           `mapstructure:"sink_queue_size"`      // packets per sink
	ProbeSize          int64         `mapstructure:"probe_size"`           // bytes scanned for stream discovery
	RequireVideoAnchor bool          `mapstructure:"require_video_anchor"`
	MaxSessions        int           `mapstructure:"max_sessions"`
	MediaRoot          string        `mapstructure:"media_root"` // locators resolve below this directory when set
	Realtime           bool          `mapstructure:"realtime"`   // pace sink consumers by packet timestamps
	AutoPlay           bool          `mapstructure:"auto_play"`
	StatusInterval     time.Duration `mapstructure:"status_interval"`
}

type RegistryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	TTL               time.Duration `mapstructure:"ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")
	viper.SetConfigFile(configPath)

	// Environment variable override
	viper.SetEnvPrefix("SPLITTER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.http3_port", 8443)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.max_idle_timeout", "30s")
	viper.SetDefault("server.rate_limit.enabled", true)
	viper.SetDefault("server.rate_limit.requests_per_second", 50)
	viper.SetDefault("server.rate_limit.burst", 100)

	// Redis defaults
	viper.SetDefault("redis.addresses", []string{"localhost:6379"})
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.pool_size", 20)
	viper.SetDefault("redis.min_idle_conns", 2)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 5)
	viper.SetDefault("logging.max_age", 30)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)

	// Splitter defaults
	viper.SetDefault("splitter.min_packets_in_queue", 2)
	viper.SetDefault("splitter.sink_queue_size", 256)
	viper.SetDefault("splitter.probe_size", 5<<20)
	viper.SetDefault("splitter.require_video_anchor", false)
	viper.SetDefault("splitter.max_sessions", 16)
	viper.SetDefault("splitter.media_root", "")
	viper.SetDefault("splitter.realtime", true)
	viper.SetDefault("splitter.auto_play", true)
	viper.SetDefault("splitter.status_interval", "1s")

	// Registry defaults
	viper.SetDefault("registry.enabled", false)
	viper.SetDefault("registry.key_prefix", "splitter")
	viper.SetDefault("registry.ttl", "30s")
	viper.SetDefault("registry.heartbeat_interval", "10s")
}
