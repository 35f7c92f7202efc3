package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <container-id>",
	Short: "Start a created container",
	Long:  `Start a container that has been created with 'create'.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Start(GetContext(), args[0]); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}
