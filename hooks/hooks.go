// Package hooks runs the lifecycle hooks of a container configuration.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
	"ocirt/logging"
)

// HookType identifies a point in the container lifecycle.
type HookType string

const (
	// CreateRuntime hooks run in the runtime namespace once the container's
	// mounts are in place, before pivot_root. Deprecated prestart hooks run
	// first at the same point.
	CreateRuntime HookType = "createRuntime"

	// CreateContainer hooks run in the container namespaces before pivot_root.
	CreateContainer HookType = "createContainer"

	// StartContainer hooks run in the container right before the program.
	StartContainer HookType = "startContainer"

	// Poststart hooks run after the program started, before start returns.
	Poststart HookType = "poststart"

	// Poststop hooks run after the container is deleted.
	Poststop HookType = "poststop"
)

// outputLimit bounds the hook output quoted in an error.
const outputLimit = 512

// waitDelay is how long a killed hook's descendants may hold its output
// pipe open.
const waitDelay = time.Second

// List returns the hooks configured for hookType, in execution order.
func List(hooks *config.Hooks, hookType HookType) ([]config.Hook, error) {
	if hooks == nil {
		return nil, nil
	}
	switch hookType {
	case CreateRuntime:
		return append(append([]config.Hook(nil), hooks.Prestart...), hooks.CreateRuntime...), nil
	case CreateContainer:
		return hooks.CreateContainer, nil
	case StartContainer:
		return hooks.StartContainer, nil
	case Poststart:
		return hooks.Poststart, nil
	case Poststop:
		return hooks.Poststop, nil
	}
	return nil, rterrors.New(rterrors.ErrInvalidValue, "hook", "unknown hook type "+string(hookType))
}

// Run executes the hooks of hookType in order, each with the state document
// on its standard input. The first failing hook stops the run.
func Run(ctx context.Context, hooks *config.Hooks, hookType HookType, state *specs.State) error {
	list, err := List(hooks, hookType)
	if err != nil || len(list) == 0 {
		return err
	}
	stdin, err := config.MarshalState(state)
	if err != nil {
		return rterrors.Wrap(err, rterrors.ErrHook, "hook")
	}

	logger := logging.WithOperation(logging.FromContext(ctx), string(hookType))
	for i, h := range list {
		start := time.Now()
		hl := logging.WithPath(logger, h.Path)
		if err := runHook(ctx, h, stdin); err != nil {
			hl.Warn("hook failed", "index", i, "error", err)
			return rterrors.WrapWithDetail(err, rterrors.ErrHook, "hook",
				fmt.Sprintf("%s hook #%d %s", hookType, i, h.Path))
		}
		hl.Debug("hook ran", "index", i, "duration", time.Since(start))
	}
	return nil
}

// RunWithState builds the state document and runs the hooks.
func RunWithState(ctx context.Context, hooks *config.Hooks, hookType HookType, id string, status specs.ContainerState, pid int, bundle string, annotations map[string]string) error {
	return Run(ctx, hooks, hookType, config.NewState(id, status, pid, bundle, annotations))
}

func runHook(ctx context.Context, h config.Hook, stdin []byte) error {
	if !filepath.IsAbs(h.Path) {
		return fmt.Errorf("hook path %q is not absolute", h.Path)
	}
	if err := checkNul(h); err != nil {
		return err
	}
	if h.Timeout != nil {
		if *h.Timeout <= 0 {
			return fmt.Errorf("hook timeout %d must be positive", *h.Timeout)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*h.Timeout)*time.Second)
		defer cancel()
	}

	args := h.Args
	if len(args) == 0 {
		args = []string{h.Path}
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, h.Path)
	cmd.Args = args
	cmd.Env = append([]string{}, h.Env...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Kill the whole process group so a hook's children die with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if h.Timeout != nil && ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("timed out after %ds", *h.Timeout)
	}
	if err != nil {
		if output := tail(out.String()); output != "" {
			return fmt.Errorf("%w: %s", err, output)
		}
		return err
	}
	return nil
}

func checkNul(h config.Hook) error {
	if err := rterrors.CheckNul("hook", "path", h.Path); err != nil {
		return err
	}
	for i, a := range h.Args {
		if err := rterrors.CheckNul("hook", fmt.Sprintf("args[%d]", i), a); err != nil {
			return err
		}
	}
	for i, e := range h.Env {
		if err := rterrors.CheckNul("hook", fmt.Sprintf("env[%d]", i), e); err != nil {
			return err
		}
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > outputLimit {
		s = "..." + s[len(s)-outputLimit:]
	}
	return s
}
