package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var orphansDelete bool

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Report index documents with no store row",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer d.Close()

		orphans, err := d.sync.OrphanScan(cmd.Context())
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			fmt.Println("No orphans")
			return nil
		}

		for _, id := range orphans {
			fmt.Println(id)
		}
		fmt.Printf("%d orphaned documents\n", len(orphans))

		if orphansDelete {
			for _, id := range orphans {
				if err := d.sync.Remove(cmd.Context(), id); err != nil {
					return err
				}
			}
			fmt.Printf("Deleted %d orphans\n", len(orphans))
		}
		return nil
	},
}

func init() {
	orphansCmd.Flags().BoolVar(&orphansDelete, "delete", false, "delete the orphaned documents")
	rootCmd.AddCommand(orphansCmd)
}
