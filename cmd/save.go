package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Digital-Pathology/ModelManager/internal/metadata"
)

var (
	savePayloadFile string
	saveMetaJSON    string
	saveOverwrite   bool
)

var saveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save an artifact from a payload file",
	Long: `Save an artifact under <name>, reading the opaque payload bytes from
--payload and the metadata record from --meta (a JSON object).

Saving over an existing artifact requires --overwrite; without it the
command fails and nothing changes.

Examples:
  modelregistry save alpha --payload model.bin
  modelregistry save alpha --payload model.bin --meta '{"accuracy":0.93}'
  modelregistry save alpha --payload model.bin --overwrite`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		data, err := os.ReadFile(savePayloadFile)
		if err != nil {
			return fmt.Errorf("reading payload file: %w", err)
		}

		meta := metadata.Record{}
		if saveMetaJSON != "" {
			if err := json.Unmarshal([]byte(saveMetaJSON), &meta); err != nil {
				return fmt.Errorf("parsing --meta: %w", err)
			}
		}

		reg, cleanup, err := openRegistry()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := reg.Save(cmd.Context(), name, data, meta, saveOverwrite); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes)\n", name, len(data))
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVar(&savePayloadFile, "payload", "", "file holding the payload bytes (required)")
	saveCmd.Flags().StringVar(&saveMetaJSON, "meta", "", "metadata record as a JSON object")
	saveCmd.Flags().BoolVar(&saveOverwrite, "overwrite", false, "replace an existing artifact")
	_ = saveCmd.MarkFlagRequired("payload")
}
