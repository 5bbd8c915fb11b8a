// Package config loads the service configuration with viper: defaults, an
// optional YAML file and ABUSE_* environment variables, in increasing priority.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/abuseguard/pkg/constants"
	"github.com/turtacn/abuseguard/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g. ABUSE_GUARD_MODE.
const EnvPrefix = "ABUSE"

// Loader reads the configuration and keeps the most recent viper instance so
// that RuntimeFlags always sees the current file and environment.
type Loader struct {
	configFile string
	current    atomic.Pointer[viper.Viper]
	log        logger.Logger
}

// NewLoader creates a loader. configFile may be empty, in which case config.yaml
// is searched in /etc/abuseguard/ and the working directory.
func NewLoader(configFile string, log logger.Logger) *Loader {
	l := &Loader{configFile: configFile, log: log}
	l.current.Store(newViper(configFile))
	return l
}

// Load reads the configuration and validates it.
func (l *Loader) Load() (*Config, error) {
	v := newViper(l.configFile)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	l.current.Store(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Flags returns per-call accessors for the guard switches.
func (l *Loader) Flags() *RuntimeFlags {
	return &RuntimeFlags{current: &l.current}
}

// ConfigFileUsed returns the file the last Load read, or "".
func (l *Loader) ConfigFileUsed() string {
	return l.current.Load().ConfigFileUsed()
}

// Watch reloads the configuration file whenever it changes, until ctx is done.
// Only values read through RuntimeFlags take effect without a restart.
func (l *Loader) Watch(ctx context.Context) error {
	file := l.ConfigFileUsed()
	if file == "" {
		l.log.Info(ctx, "No config file in use, hot reload disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	// editors replace files, so watch the directory
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", file, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(file) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				l.reload(ctx, file)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.log.Error(ctx, "Config watcher error", err)
			}
		}
	}()

	l.log.Info(ctx, "Watching config file", logger.String("file", file))
	return nil
}

func (l *Loader) reload(ctx context.Context, file string) {
	v := newViper(file)
	if err := v.ReadInConfig(); err != nil {
		l.log.Warn(ctx, "Config reload failed, keeping previous values",
			logger.String("file", file),
			logger.Err(err),
		)
		return
	}
	l.current.Store(v)
	l.log.Info(ctx, "Config reloaded",
		logger.String("file", file),
		logger.Bool("guard_enabled", v.GetBool("guard.enabled")),
		logger.String("guard_mode", v.GetString("guard.mode")),
	)
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/abuseguard/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.enable_pprof", false)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("guard.enabled", true)
	v.SetDefault("guard.mode", "shadow")
	v.SetDefault("guard.policy_file", "")
	v.SetDefault("guard.dispatch_concurrency", constants.DefaultDispatchConcurrency)
	v.SetDefault("guard.dispatch_timeout", constants.DefaultDispatchTimeout)

	v.SetDefault("identity.hash_secret", "")

	v.SetDefault("store.backend", "redis")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cluster_addrs", []string{})
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", constants.DefaultStoreDialTimeout)
	v.SetDefault("redis.read_timeout", constants.DefaultStoreOpTimeout)
	v.SetDefault("redis.write_timeout", constants.DefaultStoreOpTimeout)
	v.SetDefault("redis.tls_skip_verify", false)
	v.SetDefault("redis.max_retries", constants.DefaultStoreMaxRetries)
	v.SetDefault("redis.min_retry_backoff", 8*time.Millisecond)
	v.SetDefault("redis.max_retry_backoff", 128*time.Millisecond)
	v.SetDefault("redis.max_connect_attempts", constants.DefaultMaxConnectAttempts)

	v.SetDefault("event_log.enabled", true)
	v.SetDefault("event_log.max_len", constants.DefaultEventLogMaxLen)
	v.SetDefault("event_log.ttl", constants.DefaultEventLogTTL)

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "abuse-events")

	v.SetDefault("audit.signing_key", "")
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.retention_schedule", "@daily")

	v.SetDefault("admin.token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "abuseguard")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sampling_rate", 1.0)
}
