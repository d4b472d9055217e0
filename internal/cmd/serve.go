package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/uptotrial/uptotrial/internal/config"
	errwrap "github.com/uptotrial/uptotrial/internal/errors"
	"github.com/uptotrial/uptotrial/internal/gate"
	"github.com/uptotrial/uptotrial/internal/metrics"
	"github.com/uptotrial/uptotrial/internal/observability"
	"github.com/uptotrial/uptotrial/internal/server"
	"github.com/uptotrial/uptotrial/internal/server/handlers"
	"github.com/uptotrial/uptotrial/internal/store"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gated HTTP server",
	Long: `Start the HTTP server with the request gate installed and graceful
shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload (gate limits stay fixed until restart)

Shutdown flushes pending gate traffic stats, closes the store and flushes
logs before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration is invalid")
		}

		// Initialize server logger
		observability.InitServerLogger(config.ServiceName, cfg.Logging.Level)
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = 9090
		}

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.ServiceName, metricsPort); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		logger.Info("Initializing server",
			zap.String("service", config.ServiceName),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.Int("client_limit", cfg.Gate.ClientLimit),
			zap.Duration("client_window", cfg.Gate.ClientWindow),
			zap.Int("correlation_limit", cfg.Gate.CorrelationLimit),
			zap.Duration("correlation_window", cfg.Gate.CorrelationWindow))

		// Gate core
		limiter := gate.NewLimiter(gate.LimiterConfig{
			Client:        gate.TierLimit{Requests: cfg.Gate.ClientLimit, Window: cfg.Gate.ClientWindow},
			Correlation:   gate.TierLimit{Requests: cfg.Gate.CorrelationLimit, Window: cfg.Gate.CorrelationWindow},
			SweepInterval: cfg.Gate.SweepInterval,
			SweepAfter:    cfg.Gate.SweepAfter,
		})
		stats := gate.NewStatsAggregator()

		// Stats persistence is best effort: the gate keeps serving when the
		// store is unavailable.
		db, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			logger.Warn("Store unavailable, gate stats will not be persisted", zap.Error(err))
			db = nil
		} else if err := db.Migrate(cmd.Context()); err != nil {
			logger.Warn("Store migration failed, gate stats will not be persisted", zap.Error(err))
			_ = db.Close()
			db = nil
		}

		// Initialize health manager
		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		hm.RegisterChecker("limiter", handlers.CheckerFunc(func(ctx context.Context) error {
			if limiter == nil {
				return errwrap.NewInternalError("rate limiter not initialized")
			}
			return nil
		}))
		if db != nil {
			hm.RegisterChecker("store", db)
		}

		// Create server
		srv := server.New(server.Options{
			Host:              cfg.Server.Host,
			Port:              cfg.Server.Port,
			CorrelationHeader: cfg.Gate.CorrelationHeader,
			ExemptPaths:       cfg.Gate.ExemptPaths,
			Limiter:           limiter,
			Stats:             stats,
		})

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Background loops share one cancelable context.
		runCtx, cancelRun := context.WithCancel(cmd.Context())
		defer cancelRun()

		go limiter.Run(runCtx)
		go statsFlushLoop(runCtx, cfg.Gate.StatsFlushInterval, limiter, stats, db)

		// Register graceful shutdown handlers (LIFO order - last registered,
		// first executed)
		// Handler 1: Flush logger (executed last)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		// Handler 2: Final stats flush and store close
		signals.OnShutdown(func(ctx context.Context) error {
			cancelRun()
			flushStats(ctx, stats, db)
			if db != nil {
				if err := db.Close(); err != nil {
					logger.Warn("Store close returned error", zap.Error(err))
				}
			}
			return nil
		})

		// Handler 3: Shutdown HTTP server (executed first)
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		// Register config reload handler (SIGHUP)
		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: attempting config reload")

			if err := viper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", viper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			// Gate limits are read once at startup; a restart is required
			// for them to change.
			logger.Info("Configuration reloaded (gate limits unchanged until restart)",
				zap.String("file", viper.ConfigFileUsed()))

			return nil
		})

		// Enable double-tap force quit (Ctrl+C within 2 seconds)
		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		// Start server in background goroutine
		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("host", cfg.Server.Host),
				zap.Int("port", cfg.Server.Port))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		// Start signal listener in background
		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		// Wait for error or shutdown completion
		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// statsFlushLoop periodically drains the in-memory aggregator to the store
// and refreshes the live-key gauges. A non-positive interval disables the
// loop.
func statsFlushLoop(ctx context.Context, interval time.Duration, limiter *gate.Limiter, stats *gate.StatsAggregator, db *store.Store) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flushStats(ctx, stats, db)
			for tier, count := range limiter.Keys() {
				metrics.SetGateLiveKeys(string(tier), count)
			}
		}
	}
}

// flushStats drains pending totals into the store. Without a store the
// drain still happens so memory does not grow unbounded.
func flushStats(ctx context.Context, stats *gate.StatsAggregator, db *store.Store) {
	drained := stats.Drain()
	if len(drained) == 0 || db == nil {
		return
	}

	if err := db.RecordStats(ctx, time.Now().UTC(), drained); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to persist gate stats", zap.Error(err))
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
