package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ocirt/config"
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Create a new specification file",
	Long: `Write a starter config.json into the bundle directory.
The configuration runs "sh" in the bundle's rootfs directory with a terminal.`,
	Args: cobra.NoArgs,
	RunE: runSpec,
}

var (
	specBundle   string
	specRootless bool
)

func init() {
	rootCmd.AddCommand(specCmd)

	specCmd.Flags().StringVarP(&specBundle, "bundle", "b", ".", "bundle directory")
	specCmd.Flags().BoolVar(&specRootless, "rootless", false, "generate a configuration for a rootless container")
}

func runSpec(cmd *cobra.Command, args []string) error {
	s := config.Default()
	if specRootless {
		s = config.Rootless()
	}

	path := filepath.Join(specBundle, config.ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file %s exists, remove it first", path)
	} else if !os.IsNotExist(err) {
		return err
	}
	return s.Save(path)
}
