package cli

import (
	"github.com/spf13/cobra"

	"promo-planner/internal/app"
)

var (
	exportRunID    string
	exportPNGPath  string
	exportCSVPath  string
	exportJSONPath string
	exportMaxBars  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a persisted run as CSV, JSON metadata and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			RunID:    exportRunID,
			CSVPath:  exportCSVPath,
			JSONPath: exportJSONPath,
			PNGPath:  exportPNGPath,
			MaxBars:  exportMaxBars,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRunID, "run", "", "Run id to export (defaults to the latest run)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportJSONPath, "json", "", "Path to write run metadata JSON")
	exportCmd.Flags().IntVar(&exportMaxBars, "max-bars", 0, "Maximum bars in the chart (defaults to config)")
}
