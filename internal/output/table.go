package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/uptotrial/uptotrial/internal/gate"
	"github.com/uptotrial/uptotrial/internal/store"
)

// TierLimitRow is the serializable form of one tier's configured limit,
// shared by the table, JSON and YAML renderings.
type TierLimitRow struct {
	Tier     string `json:"tier" yaml:"tier"`
	Requests int    `json:"requests" yaml:"requests"`
	Window   string `json:"window" yaml:"window"`
}

// LimitRows flattens the limiter's configuration in stable tier order.
func LimitRows(limits map[gate.Tier]gate.TierLimit) []TierLimitRow {
	rows := make([]TierLimitRow, 0, len(limits))
	for _, tier := range []gate.Tier{gate.TierClient, gate.TierCorrelation} {
		limit, ok := limits[tier]
		if !ok {
			continue
		}
		rows = append(rows, TierLimitRow{
			Tier:     string(tier),
			Requests: limit.Requests,
			Window:   limit.Window.String(),
		})
	}
	return rows
}

// RenderLimitsTable renders configured tier limits as an ASCII table.
func RenderLimitsTable(rows []TierLimitRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Tier", "Requests", "Window"})

	for _, row := range rows {
		t.AppendRow(table.Row{row.Tier, row.Requests, row.Window})
	}

	return t.Render()
}

// StatsRow is the serializable form of one persisted traffic bucket.
type StatsRow struct {
	Bucket  string `json:"bucket" yaml:"bucket"`
	Tier    string `json:"tier" yaml:"tier"`
	Allowed int64  `json:"allowed" yaml:"allowed"`
	Denied  int64  `json:"denied" yaml:"denied"`
}

// StatsRows flattens persisted buckets for rendering.
func StatsRows(buckets []store.StatsBucket) []StatsRow {
	rows := make([]StatsRow, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, StatsRow{
			Bucket:  b.BucketStart.Format(time.RFC3339),
			Tier:    string(b.Tier),
			Allowed: b.Allowed,
			Denied:  b.Denied,
		})
	}
	return rows
}

// RenderStatsTable renders persisted traffic buckets as an ASCII table with
// per-tier totals in the footer.
func RenderStatsTable(rows []StatsRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Bucket", "Tier", "Allowed", "Denied"})

	var totalAllowed, totalDenied int64
	for _, row := range rows {
		t.AppendRow(table.Row{row.Bucket, row.Tier, row.Allowed, row.Denied})
		totalAllowed += row.Allowed
		totalDenied += row.Denied
	}

	if len(rows) > 0 {
		t.AppendFooter(table.Row{"", "total", totalAllowed, totalDenied})
	}

	return t.Render()
}

// Render serializes rows in the requested format. rows must be a slice of
// TierLimitRow or StatsRow; table rendering dispatches on the concrete type.
func Render(format Format, rows interface{}) (string, error) {
	switch format {
	case FormatJSON:
		return RenderJSON(rows)
	case FormatYAML:
		return RenderYAML(rows)
	case FormatTable:
		switch v := rows.(type) {
		case []TierLimitRow:
			return RenderLimitsTable(v), nil
		case []StatsRow:
			return RenderStatsTable(v), nil
		default:
			return "", fmt.Errorf("no table rendering for %T", rows)
		}
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}
