package cli

import (
	"github.com/spf13/cobra"

	"glucose-forecast/internal/app"
)

var (
	importProfileFile string
	importProfileName string
)

var importProfileCmd = &cobra.Command{
	Use:   "import-profile",
	Short: "Store an overnight delta profile computed by the offline job",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ImportProfileOptions{
			Path: importProfileFile,
			Name: importProfileName,
		}
		return getApp().ImportProfile(cmd.Context(), opts)
	},
}

func init() {
	importProfileCmd.Flags().StringVar(&importProfileFile, "file", "", "Path to profile JSON file")
	importProfileCmd.Flags().StringVar(&importProfileName, "name", "default", "Profile name")
}
