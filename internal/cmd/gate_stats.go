package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/uptotrial/uptotrial/internal/output"
)

var (
	gateStatsOutput string
	gateStatsOut    string
	gateStatsOutDir string
	gateStatsSince  time.Duration
)

var gateStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "List persisted gate traffic statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(gateStatsOutput)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		var since time.Time
		if gateStatsSince > 0 {
			since = time.Now().UTC().Add(-gateStatsSince)
		}

		buckets, err := db.ListStats(cmd.Context(), since)
		if err != nil {
			return err
		}

		outPath := strings.TrimSpace(gateStatsOut)
		outDir := strings.TrimSpace(gateStatsOutDir)
		if outPath != "" && outDir != "" {
			return fmt.Errorf("--out and --out-dir are mutually exclusive")
		}

		if outDir != "" {
			outDir, err = ensureOutDir(outDir)
			if err != nil {
				return err
			}
			outPath = filepath.Join(outDir, fmt.Sprintf("gate.stats.%s", outputExtension(format)))
		}

		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if len(buckets) == 0 && format == output.FormatTable {
			_, _ = fmt.Fprint(sink.writer, ascii.DrawBox("Gate Stats\n\n(no persisted traffic statistics)", 0))
			return nil
		}

		rendered, err := output.Render(format, output.StatsRows(buckets))
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	gateStatsCmd.AddCommand(gateStatsResetCmd)

	gateStatsCmd.Flags().StringVar(&gateStatsOutput, "output-format", string(output.FormatTable), "Output format: table|json|yaml")
	gateStatsCmd.Flags().StringVar(&gateStatsOut, "out", "", "Write output to a file (default stdout)")
	gateStatsCmd.Flags().StringVar(&gateStatsOutDir, "out-dir", "", "Write output to a directory")
	gateStatsCmd.Flags().DurationVar(&gateStatsSince, "since", 0, "Only list buckets newer than this age (e.g. 24h)")
}
