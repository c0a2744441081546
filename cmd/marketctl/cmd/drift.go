package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Report field-level disagreements between index and store",
	Long: `Compares the indexed document of every name against a fresh authoritative
projection and prints each differing field. Read-only: repair drift with
'marketctl resync'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := buildDeps(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer d.Close()

		drifts, err := d.sync.DriftScan(cmd.Context())
		if err != nil {
			return err
		}
		if len(drifts) == 0 {
			fmt.Println("No drift")
			return nil
		}

		for _, dr := range drifts {
			fmt.Printf("%s\t%s\tstore=%q\tindex=%q\n", dr.NameID, dr.Field, dr.StoreValue, dr.IndexValue)
		}
		fmt.Printf("%d drifted fields\n", len(drifts))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(driftCmd)
}
