package container

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
	"ocirt/hooks"
	"ocirt/linux"
	"ocirt/logging"
	"ocirt/utils"
)

// InitEntry is the spawn entry running inside a new container.
const InitEntry = "container-init"

// Descriptors inherited by the init child, named by environment variables.
const (
	syncFdEnv = "_OCIRT_SYNCPIPE"
	fifoFdEnv = "_OCIRT_FIFOFD"
)

// logDrainTimeout bounds how long a failed create waits for the child's
// last log lines.
const logDrainTimeout = time.Second

// bootstrap is the first message the parent sends to init.
type bootstrap struct {
	ID     string `json:"id"`
	Bundle string `json:"bundle"`
	Rootfs string `json:"rootfs"`

	// Pid is init's pid in the runtime's PID namespace, for hook state.
	Pid int `json:"pid"`

	Config        json.RawMessage   `json:"config"`
	Annotations   map[string]string `json:"annotations,omitempty"`
	NoPivot       bool              `json:"noPivot,omitempty"`
	NoNewKeyring  bool              `json:"noNewKeyring,omitempty"`
	ConsoleSocket string            `json:"consoleSocket,omitempty"`
}

// Launched describes the init process of a created container.
type Launched struct {
	Pid          int
	PidStartTime uint64

	// CgroupPath is empty when the container runs without a cgroup.
	CgroupPath string
}

// Launcher prepares container processes and acts on them. Engine is the
// Linux implementation.
type Launcher interface {
	// Create spawns the init process of c and returns once it is blocked
	// on the exec barrier. A failed Create leaves no process behind.
	Create(ctx context.Context, c *Container, opts *CreateOptions) (Launched, error)

	// Start releases the exec barrier of a created container.
	Start(ctx context.Context, c *Container) error

	// Signal delivers sig to init, or to every process of the container
	// when all is set.
	Signal(c *Container, sig unix.Signal, all bool) error

	// Wait blocks until init exits and returns its exit status, or -1 when
	// the status cannot be known.
	Wait(ctx context.Context, c *Container) (int, error)

	// Destroy releases what Create acquired outside the state directory.
	Destroy(c *Container) error
}

// Engine is the Launcher that isolates processes with namespaces, mounts,
// cgroups and the rest of the configuration.
type Engine struct {
	Logger *slog.Logger
}

var _ Launcher = (*Engine)(nil)

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Default()
}

// Create runs the parent side of container creation.
func (e *Engine) Create(ctx context.Context, c *Container, opts *CreateOptions) (Launched, error) {
	if opts == nil {
		opts = &CreateOptions{}
	}
	s := c.spec
	logger := logging.WithContainer(e.logger(), c.ID())

	if !s.Linux.Namespaces.Has(config.MountNamespace) {
		return Launched{}, rterrors.ErrNoMountNamespace
	}
	if err := linux.CheckJoins(s.Linux.Namespaces); err != nil {
		return Launched{}, err
	}
	if s.Process.Terminal {
		if opts.ConsoleSocket == "" {
			return Launched{}, rterrors.New(rterrors.ErrInvalidValue, "create", "process.terminal requires a console socket")
		}
		if err := utils.ValidateSocketPath(opts.ConsoleSocket); err != nil {
			return Launched{}, err
		}
	}

	fifoPath, err := utils.CreateExecFifo(c.dir)
	if err != nil {
		return Launched{}, err
	}
	fifo, err := utils.OpenExecFifoPath(fifoPath)
	if err != nil {
		return Launched{}, err
	}
	syncParent, syncChild, err := utils.NewSyncSocketPair("sync")
	if err != nil {
		fifo.Close()
		return Launched{}, err
	}
	logR, logW, err := os.Pipe()
	if err != nil {
		fifo.Close()
		syncParent.Close()
		syncChild.Close()
		return Launched{}, fmt.Errorf("log pipe: %w", err)
	}

	attr := &linux.SpawnAttr{
		Env: []string{
			syncFdEnv + "=3",
			logging.ChildLogFdEnv + "=4",
			fifoFdEnv + "=5",
		},
		Stdin:      opts.Stdin,
		Stdout:     opts.Stdout,
		Stderr:     opts.Stderr,
		ExtraFiles: []*os.File{syncChild, logW, fifo},
		// A terminal child becomes a session leader itself to take the pty.
		Setsid: !s.Process.Terminal,
	}
	if s.UserNamespaced() {
		attr.UIDMappings = linux.IDMappings(s.Linux.UIDMappings)
		attr.GIDMappings = linux.IDMappings(s.Linux.GIDMappings)
	}
	if ns, ok := s.Linux.Namespaces.Get(config.PIDNamespace); ok && ns.Path != "" {
		attr.PIDNamespace = ns.Path
	}

	pid, err := linux.SpawnIsolated(linux.Entry{Name: InitEntry}, linux.NewStack(linux.DefaultStackSize),
		s.Linux.Namespaces.CloneFlags(), unix.SIGCHLD, attr)
	syncChild.Close()
	logW.Close()
	fifo.Close()
	if err != nil {
		syncParent.Close()
		logR.Close()
		return Launched{}, err
	}
	c.owned = true
	logger = logging.WithPID(logger, pid.Raw())
	logger.Debug("init spawned")

	logDone := logging.Forward(context.Background(), logR, logger)
	go func() {
		<-logDone
		logR.Close()
	}()

	launched := Launched{Pid: pid.Raw()}
	cg, err := e.setupCgroup(c, pid, logger)
	if err == nil {
		if cg != nil {
			launched.CgroupPath = linux.CgroupPath(c.ID(), s.Linux.CgroupsPath)
		}
		err = e.handshake(ctx, c, pid, syncParent, opts)
	} else {
		syncParent.Close()
	}
	if err == nil {
		launched.PidStartTime, err = linux.StartTime(pid)
	}
	if err == nil && opts.PidFile != "" {
		err = writePidFile(opts.PidFile, pid)
	}
	if err != nil {
		status := abort(pid)
		select {
		case <-logDone:
		case <-time.After(logDrainTimeout):
		}
		if cg != nil {
			if derr := cg.Destroy(); derr != nil {
				logger.Warn("remove cgroup after failed create", "error", derr)
			}
		}
		if status >= 0 {
			return Launched{}, fmt.Errorf("container init exited with status %d: %w", status, err)
		}
		return Launched{}, err
	}
	return launched, nil
}

// setupCgroup places pid in the container's cgroup. Without configured
// resources an unusable cgroup hierarchy is tolerated, which is what a
// rootless runtime without delegation sees.
func (e *Engine) setupCgroup(c *Container, pid linux.Pid, logger *slog.Logger) (*linux.Cgroup, error) {
	r := c.spec.Linux.Resources
	path := linux.CgroupPath(c.ID(), c.spec.Linux.CgroupsPath)

	cg, err := placeInCgroup(path, r, pid)
	if err == nil {
		return cg, nil
	}
	if hasResources(r) || os.Geteuid() == 0 {
		return nil, err
	}
	logging.WithPath(logger, path).Warn("running without a cgroup", "error", err)
	return nil, nil
}

func placeInCgroup(path string, r *config.LinuxResources, pid linux.Pid) (*linux.Cgroup, error) {
	if err := linux.EnsureParentControllers(path); err != nil {
		return nil, err
	}
	cg, err := linux.NewCgroup(path)
	if err != nil {
		return nil, err
	}
	if err := cg.ApplyResources(r); err != nil {
		cg.Destroy()
		return nil, err
	}
	if err := cg.AddProcess(pid); err != nil {
		cg.Destroy()
		return nil, err
	}
	return cg, nil
}

// hasResources reports whether r asks for any cgroup limit.
func hasResources(r *config.LinuxResources) bool {
	if r == nil {
		return false
	}
	return len(r.Devices) > 0 || r.Memory != nil || r.CPU != nil || r.Pids != nil ||
		r.BlockIO != nil || len(r.HugepageLimits) > 0 || r.Network != nil ||
		len(r.Rdma) > 0 || len(r.Unified) > 0
}

// handshake drives init through the sync protocol until it reports ready.
func (e *Engine) handshake(ctx context.Context, c *Container, pid linux.Pid, f *os.File, opts *CreateOptions) error {
	sock, err := utils.FileSyncSocket(f)
	if err != nil {
		return err
	}
	defer sock.Close()

	b := bootstrap{
		ID:            c.ID(),
		Bundle:        c.Bundle(),
		Rootfs:        c.Rootfs(),
		Pid:           pid.Raw(),
		Config:        c.rec.Config,
		Annotations:   c.rec.Annotations,
		NoPivot:       opts.NoPivot,
		NoNewKeyring:  opts.NoNewKeyring,
		ConsoleSocket: opts.ConsoleSocket,
	}
	if err := sock.SendPayload(utils.SyncBootstrap, b); err != nil {
		return err
	}

	for {
		msg, err := sock.RecvContext(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("container init exited during setup")
			}
			return err
		}
		switch msg.Type {
		case utils.SyncMounted:
			st := config.NewState(c.ID(), config.StatusCreating, pid.Raw(), c.Bundle(), c.rec.Annotations)
			if err := hooks.Run(ctx, c.spec.Hooks, hooks.CreateRuntime, st); err != nil {
				sock.SendError(err)
				return err
			}
			if err := sock.Send(utils.SyncMsg{Type: utils.SyncContinue}); err != nil {
				return err
			}
		case utils.SyncReady:
			return nil
		case utils.SyncError:
			return &utils.RemoteError{Message: msg.Message}
		default:
			return fmt.Errorf("unexpected %s message during create", msg.Type)
		}
	}
}

// abort kills and reaps pid and returns its exit status, or -1 when it
// could not be reaped.
func abort(pid linux.Pid) int {
	_ = pid.Signal(unix.SIGKILL)
	ws, err := pid.Wait()
	if err != nil {
		return -1
	}
	return exitStatus(ws)
}

func exitStatus(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	}
	return -1
}

// writePidFile writes pid to path atomically.
func writePidFile(path string, pid linux.Pid) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path))
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid.Raw())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Start releases the exec barrier.
func (e *Engine) Start(ctx context.Context, c *Container) error {
	pid := linux.Pid(c.rec.Pid)
	start := c.rec.PidStartTime
	return utils.ReleaseExecFifo(ctx, c.ExecFifoPath(), func() bool {
		return !linux.Exited(pid, start)
	})
}

// Signal delivers sig. With all set, the cgroup is frozen while every
// member is signalled so none can fork out of reach.
func (e *Engine) Signal(c *Container, sig unix.Signal, all bool) error {
	pid := linux.Pid(c.rec.Pid)
	if !all || c.rec.CgroupPath == "" {
		return pid.Signal(sig)
	}
	cg, err := linux.LoadCgroup(c.rec.CgroupPath)
	if err != nil {
		return err
	}
	if err := cg.Freeze(); err != nil {
		return err
	}
	defer func() {
		if err := cg.Thaw(); err != nil {
			e.logger().Warn("thaw cgroup", logging.KeyContainer, c.ID(), "error", err)
		}
	}()
	procs, err := cg.Procs()
	if err != nil {
		return err
	}
	for _, p := range procs {
		if err := p.Signal(sig); err != nil && !errors.Is(err, unix.ESRCH) {
			return err
		}
	}
	return nil
}

// Wait blocks until init exits.
func (e *Engine) Wait(ctx context.Context, c *Container) (int, error) {
	return waitExit(ctx, linux.Pid(c.rec.Pid), c.rec.PidStartTime, c.owned)
}

// Destroy removes the container's cgroup.
func (e *Engine) Destroy(c *Container) error {
	if c.owned {
		forgetReaper(linux.Pid(c.rec.Pid), c.rec.PidStartTime)
	}
	if c.rec.CgroupPath == "" {
		return nil
	}
	cg, err := linux.LoadCgroup(c.rec.CgroupPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return cg.Destroy()
}
