package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var start, end int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest one batch and send digests",
		Long: "Ingest one batch and send digests. Without --start the batch resumes after " +
			"the stored cursor. Resolved ids are printed as they are stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := ctx.openApplication(runCtx)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			if !cmd.Flags().Changed("start") {
				sum, err := app.service.RunFromCursor(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Batch %s: ids %d..%d, %d new, %d digests sent, %d failed\n",
					sum.RunID, sum.Start, sum.Attempted, sum.Resolved, sum.Notified, sum.Failed)
				return nil
			}
			return app.service.ScrapeAndNotify(runCtx, start, end, func(line string) error {
				_, err := fmt.Fprintln(out, line)
				return err
			})
		},
	}

	cmd.Flags().IntVar(&start, "start", 0, "First directory id to ingest")
	cmd.Flags().IntVar(&end, "end", 0, "Last directory id to ingest (0 for the directory's newest)")
	return cmd
}
