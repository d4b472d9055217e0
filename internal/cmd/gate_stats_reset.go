package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/uptotrial/uptotrial/internal/output"
)

var (
	gateStatsResetYes    bool
	gateStatsResetOutput string
)

var gateStatsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all persisted gate traffic statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(gateStatsResetOutput)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		if !gateStatsResetYes {
			return errors.New("reset requires --yes")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		deleted, err := db.ResetStats(cmd.Context())
		if err != nil {
			return err
		}

		return writeStatsResetResult(format, cmd.OutOrStdout(), deleted)
	},
}

func writeStatsResetResult(format output.Format, w io.Writer, deleted int64) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(map[string]any{"deleted": deleted}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	_, err := fmt.Fprintf(w, "Deleted %d stats bucket(s)\n", deleted)
	return err
}

func init() {
	gateStatsResetCmd.Flags().BoolVar(&gateStatsResetYes, "yes", false, "Confirm destructive reset")
	gateStatsResetCmd.Flags().StringVar(&gateStatsResetOutput, "output-format", string(output.FormatTable), "Output format: table|json")
}
