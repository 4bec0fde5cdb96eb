// Copyright 2025 Mech Services, Inc.
package backend

import (
	"crypto/tls"
	"time"

	"github.com/dundas/mech-queue/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewClient returns a configured go-redis client with pooling and retries.
// When the configured port is the managed-database TLS port, the connection
// is dialed over TLS without peer verification. Managed Redis endpoints
// terminate TLS with certificates issued for the provider's hostname, which
// does not match the private address the service dials; this relaxation is
// deliberate and limited to that port.
func NewClient(cfg *config.Config) *redis.Client {
	opts := &redis.Options{
		Addr:         cfg.RedisAddr(),
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	if cfg.RedisTLS() {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- managed-DB port, see above
	}
	return redis.NewClient(opts)
}
