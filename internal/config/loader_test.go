package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "localhost", cfg.Server.Host)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	require.Equal(t, "X-Correlation-ID", cfg.Gate.CorrelationHeader)
	require.Contains(t, cfg.Gate.ExemptPaths, "/api/health")
	require.Contains(t, cfg.Gate.ExemptPaths, "/favicon.ico")
	require.Equal(t, 60, cfg.Gate.ClientLimit)
	require.Equal(t, time.Minute, cfg.Gate.ClientWindow)
	require.Equal(t, 30, cfg.Gate.CorrelationLimit)
	require.Equal(t, time.Minute, cfg.Gate.CorrelationWindow)
	require.Equal(t, time.Minute, cfg.Gate.SweepInterval)
	require.Equal(t, 3, cfg.Gate.SweepAfter)

	// The correlation tier is deliberately tighter than the client tier.
	require.Less(t, cfg.Gate.CorrelationLimit, cfg.Gate.ClientLimit)
}

func TestLoadOverrides(t *testing.T) {
	resetViper(t)

	viper.Set("gate.client_limit", 3)
	viper.Set("gate.client_window", "10s")
	viper.Set("gate.exempt_paths", []string{"/ping"})

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Gate.ClientLimit)
	require.Equal(t, 10*time.Second, cfg.Gate.ClientWindow)
	require.Equal(t, []string{"/ping"}, cfg.Gate.ExemptPaths)
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	resetViper(t)

	viper.Set("gate.client_limit", 0)

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "gate.client_limit")
}

func TestLoadRejectsNonPositiveWindows(t *testing.T) {
	resetViper(t)

	viper.Set("gate.correlation_window", "0s")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "gate.correlation_window")
}

func TestGetConfigReturnsLastLoaded(t *testing.T) {
	resetViper(t)

	viper.Set("server.port", 9999)

	cfg, err := Load()
	require.NoError(t, err)
	require.Same(t, cfg, GetConfig())
	require.Equal(t, 9999, GetConfig().Server.Port)
}
