package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Digital-Pathology/ModelManager/internal/registry"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the storage directory for structural corruption",
	Long: `Verify that every artifact in the registry root is a consistent pair:
one payload file and one metadata record per name. Reports the offending
entries when the invariant is violated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, cleanup, err := openRegistry()
		if err != nil {
			return err
		}
		defer cleanup()

		names, err := reg.List(cmd.Context())
		if err != nil {
			var corruption *registry.CorruptionError
			if errors.As(err, &corruption) {
				fmt.Fprintf(cmd.ErrOrStderr(), "corrupted: %s\n", corruption.Reason)
				for _, entry := range corruption.Entries {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", entry)
				}
			}
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d artifact(s)\n", len(names))
		return nil
	},
}
