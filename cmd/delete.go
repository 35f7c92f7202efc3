package cmd

import (
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <container-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a container",
	Long:    `Delete any resources held by the container. Only a stopped container can be deleted unless --force is given.`,
	Args:    cobra.ExactArgs(1),
	RunE:    runDelete,
}

var deleteForce bool

func init() {
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "kill the container first if it is still running")
}

func runDelete(cmd *cobra.Command, args []string) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()
	return b.Delete(GetContext(), args[0], deleteForce)
}
