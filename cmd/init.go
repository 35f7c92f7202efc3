package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"ocirt/linux"
)

// initCmd is what a spawned child runs: "ocirt init <entry> [args...]".
// main dispatches it before cobra parses anything; the command only makes
// "init" a reserved name with its own help text.
var initCmd = &cobra.Command{
	Use:                linux.InitArg + " <entry> [args...]",
	Short:              "Initialize the container (internal use)",
	Long:               `Internal command run inside the new namespaces to complete container setup.`,
	Hidden:             true,
	DisableFlagParsing: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(linux.RunEntry(args))
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
