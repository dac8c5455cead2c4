package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	simulateBG    float64
	simulateSlope float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run one forecast cycle with a fixed reading to exercise alerting",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBG <= 0 {
			return errors.New("--bg must be greater than 0")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateBG, simulateSlope)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateBG, "bg", 0, "Starting glucose in mg/dL")
	simulateCmd.Flags().Float64Var(&simulateSlope, "slope", 0, "Trend in mg/dL per 5 minutes")
}
