package cmd

import (
	"errors"
	"fmt"

	"github.com/grailsmarket/backend-sub003/internal/search"

	"github.com/spf13/cobra"
)

var schemaRecreate bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Ensure the search index schema",
	Long: `Creates the search index with its analyzers and mappings if it does not
exist. If it exists with an outdated schema version, the command fails;
pass --recreate to drop and rebuild it (DESTRUCTIVE: run 'marketctl resync'
afterwards to repopulate).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer d.Close()

		if schemaRecreate {
			if err := d.sync.RecreateSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Index %s recreated, run 'marketctl resync' to repopulate\n", d.sync.Index())
			return nil
		}

		err = d.sync.EnsureSchema(cmd.Context())
		if errors.Is(err, search.ErrSchemaMismatch) {
			return fmt.Errorf("%v\nrerun with --recreate to drop and rebuild the index", err)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Index %s is up to date (schema version %d)\n", d.sync.Index(), search.SchemaVersion)
		return nil
	},
}

func init() {
	schemaCmd.Flags().BoolVar(&schemaRecreate, "recreate", false, "drop and recreate the index (destructive)")
	rootCmd.AddCommand(schemaCmd)
}
