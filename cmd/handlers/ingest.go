package handlers

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRetryIngestsCmd creates the retry-ingests command
func NewRetryIngestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-ingests",
		Short: "Store articles left in the failed-ingest queue",
		Long: `Articles that were published but could not be written to the store are
queued under <data>/failed_ingests. This command regenerates their embeddings
and stores them, then applies series back-patches left pending. 'run' and
'once' do this on start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.Store == nil {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("Article store not configured, nothing to retry"))
				return nil
			}
			sum, err := rt.Pipeline.RetryFailedIngests(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d, failed %d, purged %d, dropped %d, still queued %d\n",
				sum.Stored, sum.Failed, sum.Purged, sum.Dropped, rt.Queue.Len())
			if err != nil {
				return err
			}
			bp, err := rt.Pipeline.RetryBackpatches(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "back-patches applied %d, failed %d, dropped %d, still pending %d\n",
				bp.Stored, bp.Failed, bp.Dropped, rt.Backpatches.Len())
			return err
		},
	}
}
