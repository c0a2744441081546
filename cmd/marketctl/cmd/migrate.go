package cmd

import (
	"fmt"

	"github.com/grailsmarket/backend-sub003/internal/store/postgres"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Applies all pending migrations: domain tables, the job queue, and the
notify triggers. Idempotent; run it on every deploy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer d.Close()

		if err := postgres.Migrate(d.pg.DB()); err != nil {
			return err
		}
		fmt.Println("Migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
