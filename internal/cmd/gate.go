package cmd

import "github.com/spf13/cobra"

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Inspect the request gate configuration and traffic",
}

func init() {
	gateCmd.AddCommand(gateLimitsCmd)
	gateCmd.AddCommand(gateStatsCmd)
	rootCmd.AddCommand(gateCmd)
}
