// Copyright 2025 Mech Services, Inc.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Server struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	AuthEnabled     bool          `mapstructure:"auth_enabled"`
	MasterAPIKey    string        `mapstructure:"master_api_key"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
}

type Redis struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// TLSPort is the managed-database TLS port. When Port equals it, the
	// client dials TLS and skips peer verification (managed Redis endpoints
	// present certificates that do not match the private hostname).
	TLSPort      int           `mapstructure:"tls_port"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type Mongo struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Workers struct {
	MaxPerQueue       int           `mapstructure:"max_per_queue"`
	DefaultAttempts   int           `mapstructure:"default_attempts"`
	DefaultBackoff    time.Duration `mapstructure:"default_backoff"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	CancelGrace       time.Duration `mapstructure:"cancel_grace"`
}

type Retention struct {
	CompletedAge   time.Duration `mapstructure:"completed_age"`
	CompletedCount int64         `mapstructure:"completed_count"`
	FailedAge      time.Duration `mapstructure:"failed_age"`
	FailedCount    int64         `mapstructure:"failed_count"`
}

type Scheduler struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Concurrency  int           `mapstructure:"concurrency"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

type Observability struct {
	MetricsEnabled bool          `mapstructure:"metrics_enabled"`
	MetricsPort    int           `mapstructure:"metrics_port"`
	LogLevel       string        `mapstructure:"log_level"`
	Tracing        TracingConfig `mapstructure:"tracing"`
}

type NATS struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type Audit struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type Config struct {
	Server        Server        `mapstructure:"server"`
	Redis         Redis         `mapstructure:"redis"`
	Mongo         Mongo         `mapstructure:"mongo"`
	Workers       Workers       `mapstructure:"workers"`
	Retention     Retention     `mapstructure:"retention"`
	Scheduler     Scheduler     `mapstructure:"scheduler"`
	Observability Observability `mapstructure:"observability"`
	NATS          NATS          `mapstructure:"nats"`
	Audit         Audit         `mapstructure:"audit"`
}

func defaultConfig() *Config {
	return &Config{
		Server: Server{
			Port:            3003,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			AuthEnabled:     true,
			RateLimitWindow: time.Minute,
			RateLimitMax:    300,
		},
		Redis: Redis{
			Host:         "localhost",
			Port:         6379,
			TLSPort:      25061,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			MaxRetries:   3,
		},
		Mongo: Mongo{
			Database: "mech-queue",
			Timeout:  10 * time.Second,
		},
		Workers: Workers{
			MaxPerQueue:       5,
			DefaultAttempts:   3,
			DefaultBackoff:    time.Second,
			DefaultTimeout:    30 * time.Second,
			VisibilityTimeout: 30 * time.Second,
			CancelGrace:       5 * time.Second,
		},
		Retention: Retention{
			CompletedAge:   time.Hour,
			CompletedCount: 1000,
			FailedAge:      24 * time.Hour,
			FailedCount:    5000,
		},
		Scheduler: Scheduler{
			TickInterval: time.Minute,
			Concurrency:  5,
		},
		Observability: Observability{
			MetricsEnabled: true,
			MetricsPort:    9090,
			LogLevel:       "info",
			Tracing:        TracingConfig{Enabled: false, SampleRate: 0.1},
		},
		NATS: NATS{Subject: "mech.queue.events"},
		Audit: Audit{
			Path:       "audit/admin.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from an optional YAML file plus env overrides.
// Environment variables are read here and nowhere else.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)
	v.SetDefault("server.auth_enabled", def.Server.AuthEnabled)
	v.SetDefault("server.master_api_key", def.Server.MasterAPIKey)
	v.SetDefault("server.rate_limit_window", def.Server.RateLimitWindow)
	v.SetDefault("server.rate_limit_max", def.Server.RateLimitMax)

	v.SetDefault("redis.host", def.Redis.Host)
	v.SetDefault("redis.port", def.Redis.Port)
	v.SetDefault("redis.tls_port", def.Redis.TLSPort)
	v.SetDefault("redis.db", def.Redis.DB)
	v.SetDefault("redis.pool_size", def.Redis.PoolSize)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("mongo.uri", def.Mongo.URI)
	v.SetDefault("mongo.database", def.Mongo.Database)
	v.SetDefault("mongo.timeout", def.Mongo.Timeout)

	v.SetDefault("workers.max_per_queue", def.Workers.MaxPerQueue)
	v.SetDefault("workers.default_attempts", def.Workers.DefaultAttempts)
	v.SetDefault("workers.default_backoff", def.Workers.DefaultBackoff)
	v.SetDefault("workers.default_timeout", def.Workers.DefaultTimeout)
	v.SetDefault("workers.visibility_timeout", def.Workers.VisibilityTimeout)
	v.SetDefault("workers.cancel_grace", def.Workers.CancelGrace)

	v.SetDefault("retention.completed_age", def.Retention.CompletedAge)
	v.SetDefault("retention.completed_count", def.Retention.CompletedCount)
	v.SetDefault("retention.failed_age", def.Retention.FailedAge)
	v.SetDefault("retention.failed_count", def.Retention.FailedCount)

	v.SetDefault("scheduler.tick_interval", def.Scheduler.TickInterval)
	v.SetDefault("scheduler.concurrency", def.Scheduler.Concurrency)

	v.SetDefault("observability.metrics_enabled", def.Observability.MetricsEnabled)
	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)
	v.SetDefault("observability.tracing.sample_rate", def.Observability.Tracing.SampleRate)

	v.SetDefault("nats.url", def.NATS.URL)
	v.SetDefault("nats.subject", def.NATS.Subject)

	v.SetDefault("audit.enabled", def.Audit.Enabled)
	v.SetDefault("audit.path", def.Audit.Path)
	v.SetDefault("audit.max_size_mb", def.Audit.MaxSizeMB)
	v.SetDefault("audit.max_backups", def.Audit.MaxBackups)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1..65535")
	}
	if cfg.Server.AuthEnabled && cfg.Server.MasterAPIKey == "" {
		return fmt.Errorf("server.master_api_key is required when auth is enabled")
	}
	if cfg.Redis.Host == "" {
		return fmt.Errorf("redis.host must be set")
	}
	if cfg.Redis.PoolSize < 2 {
		return fmt.Errorf("redis.pool_size must be >= 2")
	}
	if cfg.Workers.MaxPerQueue < 1 {
		return fmt.Errorf("workers.max_per_queue must be >= 1")
	}
	if cfg.Workers.DefaultAttempts < 1 {
		return fmt.Errorf("workers.default_attempts must be >= 1")
	}
	if cfg.Workers.VisibilityTimeout < 5*time.Second {
		return fmt.Errorf("workers.visibility_timeout must be >= 5s")
	}
	if cfg.Scheduler.TickInterval < time.Second {
		return fmt.Errorf("scheduler.tick_interval must be >= 1s")
	}
	if cfg.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be >= 1")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	if cfg.Retention.CompletedCount < 0 || cfg.Retention.FailedCount < 0 {
		return fmt.Errorf("retention counts must be >= 0")
	}
	return nil
}

// RedisAddr returns the host:port dial address.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// RedisTLS reports whether the configured port is the managed-database TLS port.
func (c *Config) RedisTLS() bool {
	return c.Redis.TLSPort != 0 && c.Redis.Port == c.Redis.TLSPort
}
