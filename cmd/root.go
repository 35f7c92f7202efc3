// Package cmd implements the ocirt command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"ocirt/container"
	"ocirt/daemon"
	"ocirt/logging"
	"ocirt/store"
	"ocirt/store/filestore"
	"ocirt/store/pebblestore"
)

// Version information set at build time
var (
	Version   = "0.1.0"
	SpecVer   = "1.2.0"
	BuildTime = "unknown"
)

// Global flags
var (
	globalRoot      string
	globalLog       string
	globalLogFormat string
	globalLogLevel  string
	globalDebug     bool
	globalStore     string
	globalAddress   string
)

// logCloser closes the --log file when the command finishes.
var logCloser io.Closer

// rootCmd is the base command for ocirt.
var rootCmd = &cobra.Command{
	Use:   "ocirt",
	Short: "OCI container runtime",
	Long: `ocirt creates and runs containers from OCI bundles.

Container records live under --root. With --address the commands are sent to
an "ocirt daemon" listening on that socket instead.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// ExitError carries a container's exit status out of a command.
type ExitError struct {
	Status int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Status) }

// Execute runs the root command and returns the process exit status.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Status
	}
	logging.Error("command failed", "error", err)
	fmt.Fprintf(os.Stderr, "ocirt: %v\n", err)
	return 1
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalRoot, "root", envOr("OCIRT_ROOT", container.DefaultStateDir), "root directory for storage of container state (env OCIRT_ROOT)")
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().StringVar(&globalLogLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&globalStore, "store", envOr("OCIRT_STORE", "file"), "container record store: file, pebble or memory (env OCIRT_STORE)")
	rootCmd.PersistentFlags().StringVar(&globalAddress, "address", os.Getenv("OCIRT_ADDRESS"), "send commands to the daemon on this socket (env OCIRT_ADDRESS)")

	// Compatibility flags (accepted but ignored)
	rootCmd.PersistentFlags().Bool("systemd-cgroup", false, "enable systemd cgroup support (compatibility flag)")
}

func setupLogging() error {
	level, err := logging.ParseLevel(globalLogLevel)
	if err != nil {
		return err
	}
	if globalDebug {
		level = slog.LevelDebug
	}
	c, err := logging.Setup(globalLog, globalLogFormat, level)
	if err != nil {
		return err
	}
	logCloser = c
	return nil
}

// openStore opens the record store named by --store under root. Store
// files live in dot-directories, which no container id can name.
func openStore(kind, root string) (store.Store, error) {
	switch kind {
	case "file", "":
		return filestore.New(filepath.Join(root, ".records"))
	case "pebble":
		return pebblestore.Open(filepath.Join(root, ".pebble"), pebblestore.DefaultOptions())
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store %q (want file, pebble or memory)", kind)
	}
}

// openRuntime opens the local runtime over the configured store.
func openRuntime() (*container.Runtime, error) {
	st, err := openStore(globalStore, globalRoot)
	if err != nil {
		return nil, err
	}
	rt, err := container.NewRuntime(container.Options{
		Root:   globalRoot,
		Store:  st,
		Logger: logging.Default(),
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	return rt, nil
}

// openBackend returns a daemon client when --address is set, else a local
// runtime.
func openBackend() (backend, error) {
	if globalAddress != "" {
		c, err := daemon.Dial(globalAddress)
		if err != nil {
			return nil, err
		}
		return remoteBackend{c}, nil
	}
	rt, err := openRuntime()
	if err != nil {
		return nil, err
	}
	return localBackend{rt}, nil
}
