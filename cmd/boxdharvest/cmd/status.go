package cmd

import (
	"os"
	"time"

	"boxdharvest-backend/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints every known user and when they were last harvested, oldest first.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := serviceutil.SignalContext()

		svc, cleanup, err := setup(ctx)
		if err != nil {
			serviceutil.Fatal("failed to set up service", err)
		}
		defer cleanup()

		report, err := svc.StalenessReport(ctx)
		if err != nil {
			serviceutil.Fatal("failed to read update log", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"User", "Last Harvested", "Age"})

		now := time.Now()
		for _, entry := range report {
			t.AppendRow(table.Row{
				entry.Username,
				entry.LastUpdated.Format(time.ANSIC),
				now.Sub(entry.LastUpdated).Round(time.Minute).String(),
			})
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
