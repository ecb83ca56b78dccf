package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"goldwatch/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
	exportToday     bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored gold readings as CSV and/or PNG chart",
	Example: `  goldwatch export --today --png today.png
  goldwatch export --from 2025-03-01T00:00:00Z --to 2025-03-08T00:00:00Z --csv week.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
			Today:     exportToday,
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(time.RFC3339, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive; default 24h before --to)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	exportCmd.Flags().BoolVar(&exportToday, "today", false, "Export the current calendar day in the configured timezone")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write the price chart (PNG)")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write id,timestamp,price rows")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Downsample to at most this many readings (defaults to export.max_data_points)")
	exportCmd.MarkFlagsMutuallyExclusive("today", "from")
	exportCmd.MarkFlagsMutuallyExclusive("today", "to")
}
