package cli

import (
	"github.com/spf13/cobra"
)

var cleanupRetention int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old query ledger records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cleanup(cmd.Context(), cleanupRetention)
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupRetention, "retention-days", 0, "Days of history to keep (defaults to config)")
}
