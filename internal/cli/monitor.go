package cli

import (
	"github.com/spf13/cobra"

	"position-health-alerts/internal/monitor"
)

var (
	monitorUser     int64
	monitorAlert    float64
	monitorCritical float64
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Manage monitored addresses",
}

var monitorAddCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Monitor an address on every scanned chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(monitorUser); err != nil {
			return err
		}
		return getApp().AddMonitor(cmd.Context(), monitor.AddRequest{
			UserID:            monitorUser,
			Address:           args[0],
			AlertThreshold:    monitorAlert,
			CriticalThreshold: monitorCritical,
		})
	},
}

var monitorRemoveCmd = &cobra.Command{
	Use:     "remove <address>",
	Aliases: []string{"rm"},
	Short:   "Stop monitoring an address",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(monitorUser); err != nil {
			return err
		}
		return getApp().RemoveMonitor(cmd.Context(), monitorUser, args[0])
	},
}

var monitorListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List monitored addresses",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(monitorUser); err != nil {
			return err
		}
		return getApp().ListMonitors(cmd.Context(), monitorUser)
	},
}

func init() {
	monitorCmd.PersistentFlags().Int64Var(&monitorUser, "user", 0, "Telegram user id owning the subscription")
	monitorAddCmd.Flags().Float64Var(&monitorAlert, "alert", 0, "Warning threshold (defaults to config)")
	monitorAddCmd.Flags().Float64Var(&monitorCritical, "critical", 0, "Critical threshold (defaults to config)")

	monitorCmd.AddCommand(monitorAddCmd, monitorRemoveCmd, monitorListCmd)
}
