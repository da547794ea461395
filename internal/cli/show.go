package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"position-health-alerts/internal/app"
)

var (
	alertsUser  int64
	alertsSince time.Duration
	alertsLimit int

	historyChain    string
	historyPosition int64
	historyLimit    int
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Display a user's recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(alertsUser); err != nil {
			return err
		}
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().Alerts(cmd.Context(), app.AlertsOptions{
			UserID: alertsUser,
			Since:  alertsSince,
			Limit:  alertsLimit,
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display snapshots recorded for a position",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyPosition <= 0 {
			return fmt.Errorf("--position must be provided")
		}
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().History(cmd.Context(), app.HistoryOptions{
			Chain:      historyChain,
			PositionID: historyPosition,
			Limit:      historyLimit,
		})
	},
}

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List configured chains",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Chains()
	},
}

func init() {
	alertsCmd.Flags().Int64Var(&alertsUser, "user", 0, "User id")
	alertsCmd.Flags().DurationVar(&alertsSince, "since", 24*time.Hour, "How far back to look")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to display")

	historyCmd.Flags().StringVar(&historyChain, "chain", "eth", "Chain key, alias or id")
	historyCmd.Flags().Int64Var(&historyPosition, "position", 0, "Position id")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of snapshots to display")
}
