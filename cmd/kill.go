package cmd

import (
	"github.com/spf13/cobra"

	"ocirt/container"
)

var killCmd = &cobra.Command{
	Use:   "kill <container-id> [signal]",
	Short: "Send a signal to a container",
	Long: `Send the specified signal to the container's init process. Default signal is SIGTERM.
The signal is a number, a name such as SIGKILL, or a name without the SIG prefix.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runKill,
}

var killAll bool

func init() {
	rootCmd.AddCommand(killCmd)

	killCmd.Flags().BoolVarP(&killAll, "all", "a", false, "send signal to all processes in the container")
}

func runKill(cmd *cobra.Command, args []string) error {
	sigStr := "SIGTERM"
	if len(args) > 1 {
		sigStr = args[1]
	}
	sig, err := container.ParseSignal(sigStr)
	if err != nil {
		return err
	}

	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	return b.Kill(GetContext(), args[0], sig, killAll)
}
