package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/grailsmarket/backend-sub003/internal/store"

	"github.com/spf13/cobra"
)

var (
	enqueuePriority int
	enqueueKey      string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <queue> <payload-json>",
	Short: "Inject a job by hand",
	Long: `Enqueues one job with the given JSON payload, e.g.:

  marketctl enqueue ownership-update '{"entity_id":"...","new_owner":"0xB","tx_hash":"0x..."}'
  marketctl enqueue sync-entity-metadata '{"full":true}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, payload := args[0], args[1]
		if !json.Valid([]byte(payload)) {
			return fmt.Errorf("payload is not valid JSON")
		}

		d, err := buildDeps(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer d.Close()

		var opts []store.EnqueueOption
		if enqueuePriority != 0 {
			opts = append(opts, store.WithPriority(enqueuePriority))
		}
		if enqueueKey != "" {
			opts = append(opts, store.WithIdempotencyKey(enqueueKey))
		}

		job, err := d.pg.Enqueue(cmd.Context(), queue, json.RawMessage(payload), opts...)
		if err != nil {
			return err
		}
		fmt.Printf("Enqueued job %s on %s (state %s)\n", job.ID, job.Queue, job.State)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().IntVar(&enqueuePriority, "priority", 0, "claim priority (higher first)")
	enqueueCmd.Flags().StringVar(&enqueueKey, "idempotency-key", "", "dedupe key; an existing job with the same key wins")
	rootCmd.AddCommand(enqueueCmd)
}
