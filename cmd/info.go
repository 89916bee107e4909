package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show an artifact's metadata record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, cleanup, err := openRegistry()
		if err != nil {
			return err
		}
		defer cleanup()

		record, err := reg.Info(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
