package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/abuseguard/internal/domain/models"
)

// Config holds the application's configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Guard    GuardConfig    `mapstructure:"guard"`
	Identity IdentityConfig `mapstructure:"identity"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	EventLog EventLogConfig `mapstructure:"event_log"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnablePprof     bool          `mapstructure:"enable_pprof"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr returns host:port of the HTTP listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GRPCAddr returns host:port of the gRPC listener.
func (c ServerConfig) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// GuardConfig holds the startup view of the guard switches. The live values are
// read through RuntimeFlags on every call.
type GuardConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Mode                string        `mapstructure:"mode"`
	PolicyFile          string        `mapstructure:"policy_file"`
	DispatchConcurrency int           `mapstructure:"dispatch_concurrency"`
	DispatchTimeout     time.Duration `mapstructure:"dispatch_timeout"`
	GRPCMethods         []GRPCMethod  `mapstructure:"grpc_methods"`
}

// GRPCMethod binds a full gRPC method name to a guarded action.
type GRPCMethod struct {
	Method string `mapstructure:"method"`
	Action string `mapstructure:"action"`
}

// GRPCActions resolves GRPCMethods to actions. Unknown action names are an error.
func (c GuardConfig) GRPCActions() (map[string]models.Action, error) {
	out := make(map[string]models.Action, len(c.GRPCMethods))
	for _, m := range c.GRPCMethods {
		action, ok := models.ParseAction(m.Action)
		if !ok {
			return nil, fmt.Errorf("guard.grpc_methods[%s]: unknown action %q", m.Method, m.Action)
		}
		out[m.Method] = action
	}
	return out, nil
}

type IdentityConfig struct {
	HashSecret string `mapstructure:"hash_secret"`
}

// StoreConfig selects the counter store backend: "redis" or "memory".
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	URL                string        `mapstructure:"url"`
	ClusterAddrs       []string      `mapstructure:"cluster_addrs"`
	PoolSize           int           `mapstructure:"pool_size"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	TLSSkipVerify      bool          `mapstructure:"tls_skip_verify"`
	MaxRetries         int           `mapstructure:"max_retries"`
	MinRetryBackoff    time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff    time.Duration `mapstructure:"max_retry_backoff"`
	MaxConnectAttempts int           `mapstructure:"max_connect_attempts"`
}

type EventLogConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	MaxLen  int           `mapstructure:"max_len"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// DatabaseConfig configures abuse event persistence. An empty driver disables it.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type AuditConfig struct {
	SigningKey        string `mapstructure:"signing_key"`
	RetentionDays     int    `mapstructure:"retention_days"`
	RetentionSchedule string `mapstructure:"retention_schedule"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Endpoint     string  `mapstructure:"endpoint"`
	Insecure     bool    `mapstructure:"insecure"`
	ServiceName  string  `mapstructure:"service_name"`
	Environment  string  `mapstructure:"environment"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Guard.Mode) {
	case models.ModeShadow, models.ModeEnforce:
	default:
		problems = append(problems, fmt.Sprintf("guard.mode must be %q or %q, got %q", models.ModeShadow, models.ModeEnforce, c.Guard.Mode))
	}
	switch c.Store.Backend {
	case "redis", "memory":
	default:
		problems = append(problems, fmt.Sprintf("store.backend must be redis or memory, got %q", c.Store.Backend))
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("database.driver must be sqlite, postgres or empty, got %q", c.Database.Driver))
	}
	if c.Database.Driver != "" && c.Database.DSN == "" {
		problems = append(problems, "database.dsn is required when database.driver is set")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		problems = append(problems, "kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	if _, err := c.Guard.GRPCActions(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Identity.HashSecret == "" {
		problems = append(problems, "identity.hash_secret is required")
	}
	if c.Guard.DispatchConcurrency <= 0 {
		problems = append(problems, "guard.dispatch_concurrency must be positive")
	}
	if c.EventLog.MaxLen <= 0 {
		problems = append(problems, "event_log.max_len must be positive")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		problems = append(problems, "tracing.sampling_rate must be within [0, 1]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
