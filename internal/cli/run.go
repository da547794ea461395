package cli

import (
	"github.com/spf13/cobra"

	"position-health-alerts/internal/app"
)

var scanDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var scanOnceCmd = &cobra.Command{
	Use:   "scan-once",
	Short: "Run a single scan cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ScanOnce(cmd.Context(), app.ScanOptions{DryRun: scanDryRun})
	},
}

func init() {
	scanOnceCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Log alerts instead of sending them")
}
