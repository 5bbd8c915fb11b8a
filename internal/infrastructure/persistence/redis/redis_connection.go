// Package redis provides Redis connection management for the counter store.
// The connection is built lazily from a URL, counts consecutive command failures,
// and gives up for the lifetime of the process once a threshold is reached so that
// an unreachable store costs the request path nothing.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/abuseguard/pkg/constants"
	"github.com/turtacn/abuseguard/pkg/errors"
	"github.com/turtacn/abuseguard/pkg/logger"
)

// Config holds Redis connection configuration parameters.
type Config struct {
	// URL is a redis:// or rediss:// URL. Empty disables the store.
	URL string `json:"url" yaml:"url" mapstructure:"url"`

	// ClusterAddrs switches to cluster mode when set; URL credentials still apply.
	ClusterAddrs []string `json:"cluster_addrs" yaml:"cluster_addrs" mapstructure:"cluster_addrs"`

	// Connection pool settings
	PoolSize     int `json:"pool_size" yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int `json:"min_idle_conns" yaml:"min_idle_conns" mapstructure:"min_idle_conns"`

	// Timeout settings
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`

	// TLSSkipVerify disables certificate verification for rediss:// URLs
	TLSSkipVerify bool `json:"tls_skip_verify" yaml:"tls_skip_verify" mapstructure:"tls_skip_verify"`

	// Per-command retry settings, handled by go-redis
	MaxRetries      int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `json:"min_retry_backoff" yaml:"min_retry_backoff" mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `json:"max_retry_backoff" yaml:"max_retry_backoff" mapstructure:"max_retry_backoff"`

	// MaxConnectAttempts is the number of consecutive failed commands after which
	// the connection stops trying until Connect is called again.
	MaxConnectAttempts int `json:"max_connect_attempts" yaml:"max_connect_attempts" mapstructure:"max_connect_attempts"`
}

// RedisConnection owns the Redis client and its failure state. It is created by
// the composition root and injected into the stores; there is no package-level
// client.
type RedisConnection struct {
	config *Config
	logger logger.Logger

	mu     sync.Mutex
	client redis.UniversalClient

	failures atomic.Int32
	gaveUp   atomic.Bool
}

// NewRedisConnection creates a new Redis connection manager instance. No network
// activity happens until the first command.
//
// Parameters:
//   - config: Redis configuration
//   - log: Logger instance
//
// Returns:
//   - *RedisConnection: connection manager
func NewRedisConnection(config *Config, log logger.Logger) *RedisConnection {
	if config == nil {
		config = &Config{}
	}
	rc := &RedisConnection{
		config: config,
		logger: log.WithComponent("redis"),
	}
	rc.setDefaults()
	if config.URL == "" && len(config.ClusterAddrs) == 0 {
		rc.logger.Warn(context.Background(), "Redis URL not configured; abuse counters disabled (fail-open)")
	}
	return rc
}

// Client returns the client, constructing it on first use. It returns an error
// wrapping ErrStoreUnavailable when no URL is configured or the connection has
// given up.
func (rc *RedisConnection) Client() (redis.UniversalClient, error) {
	if rc.gaveUp.Load() {
		return nil, fmt.Errorf("%w: gave up after %d consecutive failures", errors.ErrStoreUnavailable, rc.config.MaxConnectAttempts)
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.client != nil {
		return rc.client, nil
	}
	client, err := rc.build()
	if err != nil {
		return nil, err
	}
	rc.client = client
	return client, nil
}

// Connect replaces the client with a fresh one, verifies connectivity and clears
// any previous failure state.
//
// Parameters:
//   - ctx: Context for timeout control
//
// Returns:
//   - error: wraps ErrStoreUnavailable when the server cannot be reached
func (rc *RedisConnection) Connect(ctx context.Context) error {
	if err := rc.Close(); err != nil {
		rc.logger.Warn(ctx, "Discarding previous Redis client failed", logger.Err(err))
	}
	rc.gaveUp.Store(false)
	rc.failures.Store(0)

	client, err := rc.Client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, rc.config.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return rc.ReportFailure(ctx, "ping", err)
	}

	rc.logger.Info(ctx, "Redis connection established successfully",
		logger.Int("pool_size", rc.config.PoolSize),
		logger.Bool("cluster", len(rc.config.ClusterAddrs) > 0),
	)
	return nil
}

// ReportSuccess clears the consecutive failure count.
func (rc *RedisConnection) ReportSuccess() {
	rc.failures.Store(0)
}

// ReportFailure records a failed command and returns err wrapped with
// ErrStoreUnavailable. When the consecutive failure count reaches
// MaxConnectAttempts the connection gives up.
func (rc *RedisConnection) ReportFailure(ctx context.Context, op string, err error) error {
	n := rc.failures.Add(1)
	if int(n) >= rc.config.MaxConnectAttempts && rc.gaveUp.CompareAndSwap(false, true) {
		rc.logger.Error(ctx, "Redis unavailable, giving up until reconnect", err,
			logger.String("op", op),
			logger.Int("consecutive_failures", int(n)),
		)
	} else {
		rc.logger.Warn(ctx, "Redis command failed",
			logger.String("op", op),
			logger.Int("consecutive_failures", int(n)),
			logger.Err(err),
		)
	}
	return fmt.Errorf("%w: %s: %v", errors.ErrStoreUnavailable, op, err)
}

// Available reports whether commands will be attempted. It does not touch the
// network.
func (rc *RedisConnection) Available() bool {
	if rc.gaveUp.Load() {
		return false
	}
	return rc.config.URL != "" || len(rc.config.ClusterAddrs) > 0
}

// Ping checks Redis server connectivity.
func (rc *RedisConnection) Ping(ctx context.Context) error {
	client, err := rc.Client()
	if err != nil {
		return err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", errors.ErrStoreUnavailable, err)
	}
	return nil
}

// HealthCheck reports connectivity, latency and pool statistics.
//
// Parameters:
//   - ctx: Context for timeout control
//
// Returns:
//   - map[string]interface{}: Health status details
//   - error: Health check error if any
func (rc *RedisConnection) HealthCheck(ctx context.Context) (map[string]interface{}, error) {
	health := map[string]interface{}{
		"available":            rc.Available(),
		"consecutive_failures": rc.failures.Load(),
	}

	client, err := rc.Client()
	if err != nil {
		health["connected"] = false
		health["error"] = err.Error()
		return health, err
	}

	start := time.Now()
	err = client.Ping(ctx).Err()
	health["connected"] = err == nil
	health["latency_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		health["error"] = err.Error()
		return health, err
	}

	stats := client.PoolStats()
	health["total_conns"] = stats.TotalConns
	health["idle_conns"] = stats.IdleConns
	health["pool_timeouts"] = stats.Timeouts

	return health, nil
}

// Close releases the client. A later command rebuilds it.
func (rc *RedisConnection) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.client == nil {
		return nil
	}
	err := rc.client.Close()
	rc.client = nil
	if err != nil {
		rc.logger.Error(context.Background(), "Failed to close Redis connection", err)
		return err
	}
	rc.logger.Info(context.Background(), "Redis connection closed")
	return nil
}

// build constructs a standalone or cluster client from the configuration.
func (rc *RedisConnection) build() (redis.UniversalClient, error) {
	if rc.config.URL == "" && len(rc.config.ClusterAddrs) == 0 {
		return nil, fmt.Errorf("%w: redis url not configured", errors.ErrStoreUnavailable)
	}

	var base *redis.Options
	if rc.config.URL != "" {
		parsed, err := redis.ParseURL(rc.config.URL)
		if err != nil {
			// A malformed URL never becomes valid; treat it like a missing one.
			rc.gaveUp.Store(true)
			rc.logger.Error(context.Background(), "Invalid Redis URL", err)
			return nil, fmt.Errorf("%w: invalid redis url: %v", errors.ErrStoreUnavailable, err)
		}
		base = parsed
	} else {
		base = &redis.Options{}
	}

	if rc.config.TLSSkipVerify {
		if base.TLSConfig == nil {
			base.TLSConfig = &tls.Config{}
		}
		base.TLSConfig.InsecureSkipVerify = true //nolint:gosec
	}

	if len(rc.config.ClusterAddrs) > 0 {
		rc.logger.Info(context.Background(), "Connecting to Redis cluster",
			logger.Any("addrs", rc.config.ClusterAddrs),
		)
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           rc.config.ClusterAddrs,
			Username:        base.Username,
			Password:        base.Password,
			TLSConfig:       base.TLSConfig,
			PoolSize:        rc.config.PoolSize,
			MinIdleConns:    rc.config.MinIdleConns,
			DialTimeout:     rc.config.DialTimeout,
			ReadTimeout:     rc.config.ReadTimeout,
			WriteTimeout:    rc.config.WriteTimeout,
			MaxRetries:      rc.config.MaxRetries,
			MinRetryBackoff: rc.config.MinRetryBackoff,
			MaxRetryBackoff: rc.config.MaxRetryBackoff,
		}), nil
	}

	base.PoolSize = rc.config.PoolSize
	base.MinIdleConns = rc.config.MinIdleConns
	base.DialTimeout = rc.config.DialTimeout
	base.ReadTimeout = rc.config.ReadTimeout
	base.WriteTimeout = rc.config.WriteTimeout
	base.MaxRetries = rc.config.MaxRetries
	base.MinRetryBackoff = rc.config.MinRetryBackoff
	base.MaxRetryBackoff = rc.config.MaxRetryBackoff

	rc.logger.Info(context.Background(), "Connecting to Redis",
		logger.String("addr", base.Addr),
		logger.Int("db", base.DB),
	)
	return redis.NewClient(base), nil
}

// setDefaults sets default configuration values if not specified.
func (rc *RedisConnection) setDefaults() {
	if rc.config.PoolSize == 0 {
		rc.config.PoolSize = 10
	}
	if rc.config.MinIdleConns == 0 {
		rc.config.MinIdleConns = 2
	}
	if rc.config.DialTimeout == 0 {
		rc.config.DialTimeout = constants.DefaultStoreDialTimeout
	}
	if rc.config.ReadTimeout == 0 {
		rc.config.ReadTimeout = constants.DefaultStoreOpTimeout
	}
	if rc.config.WriteTimeout == 0 {
		rc.config.WriteTimeout = constants.DefaultStoreOpTimeout
	}
	if rc.config.MaxRetries == 0 {
		rc.config.MaxRetries = constants.DefaultStoreMaxRetries
	}
	if rc.config.MinRetryBackoff == 0 {
		rc.config.MinRetryBackoff = 8 * time.Millisecond
	}
	if rc.config.MaxRetryBackoff == 0 {
		rc.config.MaxRetryBackoff = 128 * time.Millisecond
	}
	if rc.config.MaxConnectAttempts <= 0 {
		rc.config.MaxConnectAttempts = constants.DefaultMaxConnectAttempts
	}
}
