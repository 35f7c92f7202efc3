package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
	"ocirt/hooks"
	"ocirt/linux"
	"ocirt/logging"
	"ocirt/utils"
)

// Exit statuses of the init entry, one per setup step.
const (
	exitBootstrap    = 120
	exitNamespaces   = 121
	exitRootfs       = 122
	exitRestrictions = 123
	exitExec         = 124
)

// defaultPath is searched when the process environment has no PATH.
const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

func init() {
	linux.RegisterEntry(InitEntry, initMain)
}

// initMain runs inside the new namespaces. It reports failures to the
// parent over the sync socket and in its log before exiting.
func initMain(_ []string) int {
	logging.SetupChild()
	logger := logging.Default()

	sock, err := inheritedSyncSocket()
	if err != nil {
		logger.Error("init bootstrap", "error", err)
		return exitBootstrap
	}
	in := &initProcess{sock: sock, logger: logger}
	status, err := in.run(context.Background())
	if err != nil {
		logger.Error("container init failed", logging.KeyStatus, status, "error", err)
		if in.sock != nil {
			in.sock.SendError(err)
			in.sock.Close()
		}
	}
	return status
}

func inheritedSyncSocket() (*utils.SyncSocket, error) {
	fd, err := inheritedFd(syncFdEnv)
	if err != nil {
		return nil, err
	}
	return utils.FileSyncSocket(os.NewFile(uintptr(fd), "sync"))
}

func inheritedFd(env string) (int, error) {
	fd, err := strconv.Atoi(os.Getenv(env))
	if err != nil || fd < 3 {
		return -1, fmt.Errorf("%s is not a descriptor: %q", env, os.Getenv(env))
	}
	os.Unsetenv(env)
	return fd, nil
}

type initProcess struct {
	sock   *utils.SyncSocket
	logger *slog.Logger

	boot   bootstrap
	spec   *config.Spec
	fifoFd int
}

// run performs the setup steps in order. The returned status identifies
// the failing step.
func (p *initProcess) run(ctx context.Context) (int, error) {
	msg, err := p.sock.Expect(ctx, utils.SyncBootstrap)
	if err != nil {
		return exitBootstrap, err
	}
	if err := msg.Decode(&p.boot); err != nil {
		return exitBootstrap, fmt.Errorf("decode bootstrap: %w", err)
	}
	p.spec, err = config.Parse(p.boot.Config)
	if err != nil {
		return exitBootstrap, err
	}
	p.logger = logging.WithContainer(p.logger, p.boot.ID)
	if p.fifoFd, err = inheritedFd(fifoFdEnv); err != nil {
		return exitBootstrap, err
	}
	if logFd, err := strconv.Atoi(os.Getenv(logging.ChildLogFdEnv)); err == nil {
		unix.CloseOnExec(logFd)
	}
	unix.CloseOnExec(p.fifoFd)

	if err := linux.JoinNamespaces(p.spec.Linux.Namespaces); err != nil {
		return exitNamespaces, err
	}
	if err := p.setupRootfs(ctx); err != nil {
		return exitRootfs, err
	}
	if err := p.applyRestrictions(); err != nil {
		return exitRestrictions, err
	}
	if err := p.sock.Send(utils.SyncMsg{Type: utils.SyncReady}); err != nil {
		return exitRestrictions, err
	}
	p.sock.Close()
	p.sock = nil
	return exitExec, p.exec(ctx)
}

// runHooks runs the in-container hooks of t with a created state.
func (p *initProcess) runHooks(ctx context.Context, t hooks.HookType) error {
	st := config.NewState(p.boot.ID, config.StatusCreated, p.boot.Pid, p.boot.Bundle, p.boot.Annotations)
	return hooks.Run(ctx, p.spec.Hooks, t, st)
}

// setupRootfs prepares the mounts, lets the parent run createRuntime hooks,
// runs createContainer hooks and switches root.
func (p *initProcess) setupRootfs(ctx context.Context) error {
	s := p.spec
	if err := linux.PrepareRootfs(s, p.boot.Rootfs, s.UserNamespaced(), p.logger); err != nil {
		return err
	}
	if err := p.sock.Send(utils.SyncMsg{Type: utils.SyncMounted}); err != nil {
		return err
	}
	if _, err := p.sock.Expect(ctx, utils.SyncContinue); err != nil {
		return err
	}
	if err := p.runHooks(ctx, hooks.CreateContainer); err != nil {
		return err
	}
	return linux.FinalizeRootfs(s, p.boot.Rootfs, p.boot.NoPivot)
}

// applyRestrictions applies everything short of exec. Steps needing
// privilege run before the credentials change.
func (p *initProcess) applyRestrictions() error {
	s := p.spec
	proc := s.Process

	if (s.Hostname != "" || s.Domainname != "") && !s.Linux.Namespaces.Has(config.UTSNamespace) {
		return rterrors.New(rterrors.ErrInvalidValue, "init", "hostname requires a uts namespace")
	}
	if err := linux.SetHostname(s.Hostname); err != nil {
		return err
	}
	if err := linux.SetDomainname(s.Domainname); err != nil {
		return err
	}
	if err := linux.WriteSysctl(s.Linux.Sysctl); err != nil {
		return err
	}
	if err := linux.SetRlimits(proc.Rlimits); err != nil {
		return err
	}
	if err := linux.SetOOMScoreAdj(proc.OOMScoreAdj); err != nil {
		return err
	}
	if err := linux.SetPersonality(s.Linux.Personality); err != nil {
		return err
	}
	if !p.boot.NoNewKeyring {
		if _, err := unix.KeyctlJoinSessionKeyring("_ses." + p.boot.ID); err != nil && !errors.Is(err, unix.ENOSYS) {
			return rterrors.Wrap(err, rterrors.ErrInternal, "keyctl join")
		}
	}
	if proc.Terminal {
		if err := p.setupConsole(); err != nil {
			return err
		}
	}
	if err := linux.ApplyExecLabels(proc.SelinuxLabel, proc.ApparmorProfile); err != nil {
		return err
	}
	if err := os.Chdir(proc.Cwd); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrInternal, "chdir", proc.Cwd)
	}

	caps, err := linux.NewCaps(proc.Capabilities, p.logger)
	if err != nil {
		return err
	}
	if !proc.NoNewPrivileges {
		// Without no-new-privileges the filter needs CAP_SYS_ADMIN, which
		// is about to be dropped.
		if err := linux.InstallSeccomp(s.Linux.Seccomp, p.logger); err != nil {
			return err
		}
	}
	if err := caps.ApplyBoundingSet(); err != nil {
		return err
	}
	if err := linux.SetKeepCaps(); err != nil {
		return err
	}
	if err := linux.SetUser(proc.User, !s.UserNamespaced()); err != nil {
		return err
	}
	if err := linux.ClearKeepCaps(); err != nil {
		return err
	}
	if err := caps.ApplyCaps(); err != nil {
		return err
	}
	if proc.NoNewPrivileges {
		return linux.SetNoNewPrivileges()
	}
	return nil
}

// setupConsole creates the container's pty, hands the master to the
// console socket and makes the slave the process's stdio and controlling
// terminal.
func (p *initProcess) setupConsole() error {
	var height, width uint16
	if sz := p.spec.Process.ConsoleSize; sz != nil {
		height, width = uint16(sz.Height), uint16(sz.Width)
	}
	master, slavePath, err := utils.NewPty(height, width)
	if err != nil {
		return err
	}
	defer master.Close()
	dup, err := unix.Dup(int(master.Fd()))
	if err != nil {
		return rterrors.Wrap(err, rterrors.ErrInternal, "dup console")
	}
	mf := os.NewFile(uintptr(dup), master.Name())
	defer mf.Close()
	if err := utils.SendFd(p.boot.ConsoleSocket, mf); err != nil {
		return err
	}

	slave, err := os.OpenFile(slavePath, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrInternal, "console", slavePath)
	}
	defer slave.Close()
	for fd := 0; fd < 3; fd++ {
		if err := unix.Dup3(int(slave.Fd()), fd, 0); err != nil {
			return rterrors.Wrap(err, rterrors.ErrInternal, "dup console")
		}
	}
	return linux.SetsidAndControllingTerminal(0)
}

// exec waits for start and replaces init with the container program.
func (p *initProcess) exec(ctx context.Context) error {
	s := p.spec
	proc := s.Process
	path, err := lookPath(proc.Args[0], proc.Env)
	if err != nil {
		return err
	}
	if err := checkExecStrings(path, proc.Args, proc.Env); err != nil {
		return err
	}

	if err := utils.WaitExecFifo(p.fifoFd); err != nil {
		return err
	}
	if err := p.runHooks(ctx, hooks.StartContainer); err != nil {
		return err
	}
	if proc.NoNewPrivileges {
		if err := linux.InstallSeccomp(s.Linux.Seccomp, p.logger); err != nil {
			return err
		}
	}
	if err := unix.Exec(path, proc.Args, proc.Env); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrInternal, "exec", path)
	}
	return nil
}

func checkExecStrings(path string, args, env []string) error {
	if err := rterrors.CheckNul("exec", "path", path); err != nil {
		return err
	}
	for i, a := range args {
		if err := rterrors.CheckNul("exec", fmt.Sprintf("process.args[%d]", i), a); err != nil {
			return err
		}
	}
	for i, e := range env {
		if err := rterrors.CheckNul("exec", fmt.Sprintf("process.env[%d]", i), e); err != nil {
			return err
		}
	}
	return nil
}

// lookPath resolves name against the PATH of env, the container program's
// own environment, rather than the runtime's.
func lookPath(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		if err := executable(name); err != nil {
			return "", rterrors.WrapWithDetail(err, rterrors.ErrInvalidValue, "exec", name)
		}
		return name, nil
	}
	path := defaultPath
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
		}
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if executable(candidate) == nil {
			return candidate, nil
		}
	}
	return "", rterrors.WrapWithDetail(os.ErrNotExist, rterrors.ErrInvalidValue, "exec",
		fmt.Sprintf("%q not found in PATH %q", name, path))
}

func executable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() || fi.Mode()&0o111 == 0 {
		return os.ErrPermission
	}
	return nil
}
