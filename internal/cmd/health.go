package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uptotrial/uptotrial/internal/config"
	errwrap "github.com/uptotrial/uptotrial/internal/errors"
	"github.com/uptotrial/uptotrial/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the application can start successfully.",
	Run: func(cmd *cobra.Command, args []string) {
		observability.CLILogger.Info("Running health check...")

		// Check 1: Version info available
		if versionInfo.Version == "" {
			observability.CLILogger.Error("❌ FAIL: Version information missing")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		observability.CLILogger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		observability.CLILogger.Info("✅ Version information available")

		// Check 2: Gate configuration valid
		cfg, err := config.Load()
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Configuration invalid")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		observability.CLILogger.Info("✅ Gate configuration valid",
			zap.Int("client_limit", cfg.Gate.ClientLimit),
			zap.Int("correlation_limit", cfg.Gate.CorrelationLimit))

		// Overall status
		observability.CLILogger.Info("")
		observability.CLILogger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
