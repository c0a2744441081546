package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Rewrite the entire store into the search index",
	Long: `Streams every name through an idempotent upsert and deletes index
documents whose store row no longer exists. Safe to run while the listener
is live; this is the authoritative repair path after any outage or drift.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer d.Close()

		stats, err := d.sync.BulkReconcile(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Resync finished: %d scanned, %d upserted, %d failed, %d orphans deleted\n",
			stats.Scanned, stats.Upserted, stats.Failed, stats.Orphans)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resyncCmd)
}
