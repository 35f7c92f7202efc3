package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"ocirt/config"
	"ocirt/container"
	"ocirt/logging"
	"ocirt/utils"
)

var runCmd = &cobra.Command{
	Use:   "run <container-id>",
	Short: "Create and run a container",
	Long: `Create and run a container in a single operation.
Without --detach, run forwards signals to the container, waits for it to exit,
deletes it and exits with its status.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runBundle        string
	runPidFile       string
	runConsoleSocket string
	runDetach        bool
	runNoPivot       bool
	runNoNewKeyring  bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runBundle, "bundle", "b", ".", "path to the root of the bundle directory")
	runCmd.Flags().StringVar(&runPidFile, "pid-file", "", "path to write the container PID to")
	runCmd.Flags().StringVar(&runConsoleSocket, "console-socket", "", "path to a socket for receiving the console file descriptor")
	runCmd.Flags().BoolVarP(&runDetach, "detach", "d", false, "detach from the container's process")
	runCmd.Flags().BoolVar(&runNoPivot, "no-pivot", false, "do not use pivot root to jail process inside rootfs")
	runCmd.Flags().BoolVar(&runNoNewKeyring, "no-new-keyring", false, "do not create a new session keyring")
}

func runRun(cmd *cobra.Command, args []string) error {
	id := args[0]
	opts := &container.CreateOptions{
		PidFile:       runPidFile,
		ConsoleSocket: runConsoleSocket,
		NoPivot:       runNoPivot,
		NoNewKeyring:  runNoNewKeyring,
		Stdin:         os.Stdin,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
	}

	if globalAddress != "" {
		if !runDetach {
			return errors.New("run through a daemon requires --detach")
		}
		return runRemote(id, opts)
	}

	s, _, err := config.Load(runBundle)
	if err != nil {
		return err
	}
	var sock *utils.ConsoleSocket
	if s.Process.Terminal && runConsoleSocket == "" {
		if runDetach {
			return errors.New("a detached container with a terminal needs --console-socket")
		}
		dir, err := os.MkdirTemp("", "ocirt-console-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		if sock, err = utils.ListenConsoleSocket(filepath.Join(dir, "console.sock")); err != nil {
			return err
		}
		defer sock.Close()
		opts.ConsoleSocket = sock.Path()
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	// Signals go to the container from here on, not to this process.
	sigc := make(chan os.Signal, 32)
	if !runDetach {
		signal.Notify(sigc)
		defer signal.Stop(sigc)
	}

	ctx := context.Background()
	consoles := make(chan console.Console, 1)
	acceptCtx, cancelAccept := context.WithCancel(ctx)
	defer cancelAccept()
	if sock != nil {
		go func() {
			c, err := sock.Accept(acceptCtx)
			if err != nil {
				logging.Debug("accept console", "error", err)
				close(consoles)
				return
			}
			consoles <- c
		}()
	}

	if _, err := rt.Run(ctx, id, runBundle, opts); err != nil {
		return fmt.Errorf("run container: %w", err)
	}
	if runDetach {
		return nil
	}

	var master console.Console
	waitConsole := func() {}
	if sock != nil {
		master = <-consoles
		if master == nil {
			return errors.New("container did not send its console")
		}
		defer master.Close()
		if waitConsole, err = utils.ProxyConsole(master, os.Stdin, os.Stdout); err != nil {
			return err
		}
	}

	exited := make(chan int, 1)
	go func() {
		status, err := rt.Wait(ctx, id)
		if err != nil {
			logging.Warn("wait for container", logging.KeyContainer, id, "error", err)
		}
		exited <- status
	}()

	var status int
loop:
	for {
		select {
		case sig := <-sigc:
			forwardSignal(rt, id, sig, master)
		case status = <-exited:
			break loop
		}
	}
	waitConsole()

	if err := rt.Delete(ctx, id, false); err != nil {
		logging.Warn("delete after exit", logging.KeyContainer, id, "error", err)
	}
	if status != 0 {
		return &ExitError{Status: status}
	}
	return nil
}

// forwardSignal hands sig to the container. SIGWINCH resizes its terminal
// instead, and SIGCHLD belongs to this process.
func forwardSignal(rt *container.Runtime, id string, sig os.Signal, master console.Console) {
	s, ok := sig.(unix.Signal)
	if !ok {
		return
	}
	switch s {
	case unix.SIGCHLD, unix.SIGURG, unix.SIGPIPE:
		return
	case unix.SIGWINCH:
		if master == nil {
			return
		}
		if w, h, err := term.GetSize(int(os.Stdin.Fd())); err == nil {
			_ = master.Resize(console.WinSize{Width: uint16(w), Height: uint16(h)})
		}
		return
	}
	if err := rt.Kill(id, s, false); err != nil {
		logging.Debug("forward signal", logging.KeyContainer, id, "signal", s, "error", err)
	}
}

func runRemote(id string, opts *container.CreateOptions) error {
	b, err := openBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := GetContext()
	if _, err := b.Create(ctx, id, runBundle, opts); err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	if err := b.Start(ctx, id); err != nil {
		if derr := b.Delete(context.WithoutCancel(ctx), id, true); derr != nil {
			logging.Warn("delete after failed start", logging.KeyContainer, id, "error", derr)
		}
		return fmt.Errorf("start container: %w", err)
	}
	return nil
}
