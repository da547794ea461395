package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"position-health-alerts/internal/app"
)

var (
	exportChain     string
	exportPosition  int64
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a position's snapshot history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportPosition <= 0 {
			return fmt.Errorf("--position must be provided")
		}
		return getApp().Export(cmd.Context(), app.ExportOptions{
			Chain:      exportChain,
			PositionID: exportPosition,
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
			MaxPoints:  exportMaxPoints,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportChain, "chain", "eth", "Chain key, alias or id")
	exportCmd.Flags().Int64Var(&exportPosition, "position", 0, "Position id")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
