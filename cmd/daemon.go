package cmd

import (
	"github.com/spf13/cobra"

	"ocirt/daemon"
	"ocirt/logging"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Serve the runtime over gRPC",
	Long: `Run a long-lived runtime that serves create, start, kill, delete, state and list
on a unix socket. Other ocirt invocations reach it with --address.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var (
	daemonListen      string
	daemonMetrics     string
	daemonCreateRate  float64
	daemonCreateBurst int
)

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonListen, "listen", daemon.DefaultAddress, "unix socket to serve on")
	daemonCmd.Flags().StringVar(&daemonMetrics, "metrics-address", "", "TCP address serving /metrics (disabled when empty)")
	daemonCmd.Flags().Float64Var(&daemonCreateRate, "create-rate", 0, "maximum create requests per second (0 is unlimited)")
	daemonCmd.Flags().IntVar(&daemonCreateBurst, "create-burst", 4, "create requests allowed in a burst")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	d, err := daemon.New(daemon.Config{
		Address:        daemonListen,
		MetricsAddress: daemonMetrics,
		CreateRate:     daemonCreateRate,
		CreateBurst:    daemonCreateBurst,
		Logger:         logging.Default(),
	}, rt)
	if err != nil {
		return err
	}
	if err := d.Serve(GetContext()); err != nil {
		return err
	}
	logging.Info("daemon stopped", "address", d.Address())
	return nil
}
