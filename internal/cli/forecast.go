package cli

import (
	"github.com/spf13/cobra"

	"glucose-forecast/internal/app"
)

var (
	forecastRequest   string
	forecastProfile   string
	forecastLocalTime string
	forecastOutput    string
	forecastPretty    bool
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Run a one-shot simulation from a JSON request file",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ForecastOptions{
			RequestPath: forecastRequest,
			ProfilePath: forecastProfile,
			LocalTime:   forecastLocalTime,
			OutputPath:  forecastOutput,
			Pretty:      forecastPretty,
		}
		return getApp().Forecast(cmd.Context(), opts)
	},
}

func init() {
	forecastCmd.Flags().StringVar(&forecastRequest, "request", "", "Path to JSON request file")
	forecastCmd.Flags().StringVar(&forecastProfile, "profile", "", "Path to night-pattern profile JSON (enables blending)")
	forecastCmd.Flags().StringVar(&forecastLocalTime, "local-time", "", "Local time for pattern windows (RFC3339 or HH:MM, default now)")
	forecastCmd.Flags().StringVar(&forecastOutput, "output", "", "Write result JSON to this path instead of stdout")
	forecastCmd.Flags().BoolVar(&forecastPretty, "pretty", false, "Indent the JSON output")
}
