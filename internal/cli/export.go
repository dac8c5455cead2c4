package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"glucose-forecast/internal/app"
)

var (
	exportBucket    string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored forecast run as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		if exportBucket != "" {
			bucket, err := time.Parse(time.RFC3339, exportBucket)
			if err != nil {
				return fmt.Errorf("invalid --bucket value: %w", err)
			}
			opts.Bucket = &bucket
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportBucket, "bucket", "", "Run bucket timestamp (RFC3339, defaults to most recent)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
