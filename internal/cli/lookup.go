package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var lookupUser int64

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up positions on every configured chain",
}

var lookupPositionCmd = &cobra.Command{
	Use:   "position <id>",
	Short: "Find a position by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(lookupUser); err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid position id %q: %w", args[0], err)
		}
		return getApp().LookupPosition(cmd.Context(), lookupUser, id)
	},
}

var lookupAddressCmd = &cobra.Command{
	Use:   "address <address>",
	Short: "List the positions owned by an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(lookupUser); err != nil {
			return err
		}
		return getApp().LookupAddress(cmd.Context(), lookupUser, args[0])
	},
}

var statsUser int64

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a user's lookup usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(statsUser); err != nil {
			return err
		}
		return getApp().Stats(cmd.Context(), statsUser)
	},
}

func init() {
	lookupCmd.PersistentFlags().Int64Var(&lookupUser, "user", 0, "User id charged for the lookup")
	lookupCmd.AddCommand(lookupPositionCmd, lookupAddressCmd)

	statsCmd.Flags().Int64Var(&statsUser, "user", 0, "User id")
}
