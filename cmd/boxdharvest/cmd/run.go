package cmd

import (
	"boxdharvest-backend/lib/util/serviceutil"
	"boxdharvest-backend/services/harvest"

	"github.com/spf13/cobra"
)

var (
	runMode      string
	runBatches   int
	runBatchSize int
)

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", string(harvest.ModeContinue), `"new" wipes the corpus first, "continue" resumes it`)
	runCmd.Flags().IntVar(&runBatches, "batches", 1, "number of discover/harvest/merge batches to run")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 25, "users harvested per batch")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discovers popular members and harvests their ratings in batches.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := serviceutil.SignalContext()

		mode, err := harvest.ParseMode(runMode)
		if err != nil {
			serviceutil.Fatal("invalid mode", err)
		}

		svc, cleanup, err := setup(ctx)
		if err != nil {
			serviceutil.Fatal("failed to set up service", err)
		}
		defer cleanup()

		err = svc.RunBatches(ctx, mode, runBatches, runBatchSize)
		if err != nil {
			serviceutil.Fatal("harvest run failed", err)
		}
	},
}
