package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uptotrial/uptotrial/internal/config"
	"github.com/uptotrial/uptotrial/internal/gate"
	"github.com/uptotrial/uptotrial/internal/output"
)

var gateLimitsOutput string

var gateLimitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show the configured rate limit tiers",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(gateLimitsOutput)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		limiter := gate.NewLimiter(gate.LimiterConfig{
			Client:      gate.TierLimit{Requests: cfg.Gate.ClientLimit, Window: cfg.Gate.ClientWindow},
			Correlation: gate.TierLimit{Requests: cfg.Gate.CorrelationLimit, Window: cfg.Gate.CorrelationWindow},
		})

		rendered, err := output.Render(format, output.LimitRows(limiter.Limits()))
		if err != nil {
			return err
		}

		fmt.Println(rendered)
		return nil
	},
}

func init() {
	gateLimitsCmd.Flags().StringVar(&gateLimitsOutput, "output-format", string(output.FormatTable), "Output format: table|json|yaml")
}
