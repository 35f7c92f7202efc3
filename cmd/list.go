package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"ocirt/daemon"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ps"},
	Short:   "List containers",
	Long:    `List containers managed by this runtime.`,
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var (
	listQuiet  bool
	listFormat string
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVarP(&listQuiet, "quiet", "q", false, "display only container IDs")
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table, json)")
}

func runList(cmd *cobra.Command, args []string) error {
	if listFormat != "table" && listFormat != "json" {
		return fmt.Errorf("unknown format %q (want table or json)", listFormat)
	}

	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	containers, err := b.List(GetContext())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case listQuiet:
		for _, c := range containers {
			fmt.Fprintln(out, c.ID)
		}
		return nil
	case listFormat == "json":
		return outputJSON(out, containers)
	default:
		return outputTable(out, containers, time.Now())
	}
}

func outputTable(w io.Writer, containers []daemon.ContainerInfo, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPID\tSTATUS\tBUNDLE\tCREATED")

	for _, c := range containers {
		created := units.HumanDuration(now.Sub(c.Created)) + " ago"
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", c.ID, c.Pid, c.Status, c.Bundle, created)
	}
	return tw.Flush()
}

func outputJSON(w io.Writer, containers []daemon.ContainerInfo) error {
	if containers == nil {
		containers = []daemon.ContainerInfo{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(containers)
}
