package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state <container-id>",
	Short: "Output the state of a container",
	Long:  `Output the OCI-compliant state of a container as JSON.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	st, err := b.State(GetContext(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
