package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered artifacts",
	Long: `List the names of all artifacts in the registry, sorted ascending.

Fails with a corruption report when the storage directory violates the
paired-file invariant.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, cleanup, err := openRegistry()
		if err != nil {
			return err
		}
		defer cleanup()

		names, err := reg.List(cmd.Context())
		if err != nil {
			return err
		}

		if listJSON {
			out, err := json.MarshalIndent(names, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "emit names as a JSON array")
}
