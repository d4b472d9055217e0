// Package config provides centralized configuration management for the
// uptotrial service: viper-backed file and environment loading with typed
// decoding into Config.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// ServiceName is the binary/service identifier used for logging,
	// telemetry and config discovery.
	ServiceName = "uptotrial"

	// EnvPrefix is the prefix for environment variable overrides
	// (UPTOTRIAL_SERVER_PORT and so on; nesting uses underscores).
	EnvPrefix = "UPTOTRIAL"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults installs defaults into viper. Called once by the root
// command before any config access.
func SetDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	// Gate defaults: 60 requests/min per client address, 30 requests/min
	// per correlation id.
	viper.SetDefault("gate.correlation_header", "X-Correlation-ID")
	viper.SetDefault("gate.exempt_paths", []string{"/api/health", "/docs", "/openapi.json", "/", "/favicon.ico"})
	viper.SetDefault("gate.client_limit", 60)
	viper.SetDefault("gate.client_window", "60s")
	viper.SetDefault("gate.correlation_limit", 30)
	viper.SetDefault("gate.correlation_window", "60s")
	viper.SetDefault("gate.sweep_interval", "1m")
	viper.SetDefault("gate.sweep_after", 3)
	viper.SetDefault("gate.stats_flush_interval", "1m")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.profile", "structured")

	// Store defaults
	viper.SetDefault("store.driver", "libsql")
	viper.SetDefault("store.path", DefaultStorePath())
	viper.SetDefault("store.url", "")
	viper.SetDefault("store.auth_token", "")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	// Health check defaults
	viper.SetDefault("health.enabled", true)

	// Debug defaults
	viper.SetDefault("debug.enabled", false)
}

// Load decodes the current viper state into a typed Config. Duration
// fields accept string forms ("60s") from files and environment alike.
//
// Safe to call multiple times; the last loaded config wins.
func Load() (*Config, error) {
	cfg := &Config{}
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(viper.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	setConfig(cfg)
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Gate.ClientLimit <= 0 {
		return fmt.Errorf("gate.client_limit must be positive, got %d", cfg.Gate.ClientLimit)
	}
	if cfg.Gate.CorrelationLimit <= 0 {
		return fmt.Errorf("gate.correlation_limit must be positive, got %d", cfg.Gate.CorrelationLimit)
	}
	if cfg.Gate.ClientWindow <= 0 {
		return fmt.Errorf("gate.client_window must be positive, got %s", cfg.Gate.ClientWindow)
	}
	if cfg.Gate.CorrelationWindow <= 0 {
		return fmt.Errorf("gate.correlation_window must be positive, got %s", cfg.Gate.CorrelationWindow)
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(ServiceName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(ServiceName)
	if strings.TrimSpace(dataDir) == "" {
		return ""
	}
	return filepath.Join(dataDir, "uptotrial.db")
}
