package config

import (
	"time"
)

// Config represents the complete application configuration. It is loaded
// once at startup and treated as immutable for the process lifetime.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Gate    GateConfig    `mapstructure:"gate"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GateConfig configures the request gate: the correlation resolver and the
// dual-tier rate limiter.
type GateConfig struct {
	// CorrelationHeader is the request/response header carrying the
	// correlation id.
	CorrelationHeader string `mapstructure:"correlation_header"`

	// ExemptPaths bypass the mandatory-presence rule for correlation ids.
	// Matching is exact; exempt requests still receive a generated id and
	// still pass through the rate limiter.
	ExemptPaths []string `mapstructure:"exempt_paths"`

	// ClientLimit / ClientWindow bound requests per client address.
	ClientLimit  int           `mapstructure:"client_limit"`
	ClientWindow time.Duration `mapstructure:"client_window"`

	// CorrelationLimit / CorrelationWindow bound requests per correlation
	// id. Intentionally tighter than the client tier: one address may
	// multiplex many correlation ids, and abuse is bounded per logical
	// transaction more strictly than per network origin.
	CorrelationLimit  int           `mapstructure:"correlation_limit"`
	CorrelationWindow time.Duration `mapstructure:"correlation_window"`

	// SweepInterval / SweepAfter control the limiter's background eviction
	// sweep (interval between sweeps, idle window-lengths before eviction).
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepAfter    int           `mapstructure:"sweep_after"`

	// StatsFlushInterval is how often aggregate gate traffic stats are
	// flushed to the store. Zero disables periodic flushing.
	StatsFlushInterval time.Duration `mapstructure:"stats_flush_interval"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
