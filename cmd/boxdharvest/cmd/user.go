package cmd

import (
	"boxdharvest-backend/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(userCmd)
}

var userCmd = &cobra.Command{
	Use:   "user <username>",
	Short: "Harvests a single member's ratings and exports their personal csv files.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := serviceutil.SignalContext()

		svc, cleanup, err := setup(ctx)
		if err != nil {
			serviceutil.Fatal("failed to set up service", err)
		}
		defer cleanup()

		err = svc.HarvestUser(ctx, args[0])
		if err != nil {
			serviceutil.Fatal("failed to harvest user", err)
		}
	},
}
