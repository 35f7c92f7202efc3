// Package linux provides the Linux primitives the runtime is built from:
// process spawning into new namespaces, mounts, and the per-container
// collaborators (rootfs, devices, capabilities, rlimits, seccomp, cgroups).
package linux

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
)

// InitArg is the first argument of a re-executed runtime binary that runs an
// entry instead of the command line.
const InitArg = "init"

// stackSizeEnv carries the stack size of a spawn into the child.
const stackSizeEnv = "_OCIRT_STACK_SIZE"

const (
	// DefaultStackSize is used when a spawn is given no stack.
	DefaultStackSize = 8 << 20

	// minChildStack is the smallest maximum goroutine stack a child gets.
	minChildStack = 1 << 20
)

func init() {
	// Entry code joins namespaces and changes credentials, which apply to the
	// calling thread only. Pin the main goroutine before anything else runs.
	if IsEntryInvocation() {
		runtime.GOMAXPROCS(1)
		runtime.LockOSThread()
	}
}

// Pid is a process identifier obtained from a spawn or from the kernel.
type Pid int

// CurrentPid returns the pid of the calling process.
func CurrentPid() Pid { return Pid(unix.Getpid()) }

// ParentPid returns the pid of the calling process's parent.
func ParentPid() Pid { return Pid(unix.Getppid()) }

// Raw returns the integer process id.
func (p Pid) Raw() int { return int(p) }

func (p Pid) String() string { return strconv.Itoa(int(p)) }

// Signal delivers sig to the process.
func (p Pid) Signal(sig unix.Signal) error {
	if p <= 0 {
		return rterrors.New(rterrors.ErrInvalidValue, "signal", "invalid pid "+p.String())
	}
	if err := unix.Kill(int(p), sig); err != nil {
		return rterrors.Wrap(err, rterrors.ErrInternal, "kill")
	}
	return nil
}

// Alive reports whether a process with this pid exists. A zombie counts as
// alive until it is reaped.
func (p Pid) Alive() bool {
	if p <= 0 {
		return false
	}
	err := unix.Kill(int(p), 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Wait reaps the process, which must be a child of the caller.
func (p Pid) Wait() (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(int(p), &ws, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return ws, rterrors.Wrap(err, rterrors.ErrInternal, "wait4")
		}
		return ws, nil
	}
}

// NamespaceID returns the namespace identifier, such as "pid:[4026531836]",
// of the process's namespace of type t.
func (p Pid) NamespaceID(t config.LinuxNamespaceType) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/%d/ns/%s", p, t.ProcName()))
}

// Stack is a caller-owned stack region for one spawn. The child of a Go
// spawn runs on runtime-managed stacks, so the region's size becomes the
// child's maximum goroutine stack. A Stack may be used once.
type Stack struct {
	buf     []byte
	claimed atomic.Bool
}

// NewStack allocates a stack region of size bytes.
func NewStack(size int) *Stack {
	if size < 0 {
		size = 0
	}
	return &Stack{buf: make([]byte, size)}
}

// Size returns the region size in bytes.
func (s *Stack) Size() int { return len(s.buf) }

// Top returns the highest address of the region aligned down to 16 bytes.
func (s *Stack) Top() uintptr {
	if len(s.buf) == 0 {
		return 0
	}
	end := uintptr(unsafe.Pointer(unsafe.SliceData(s.buf))) + uintptr(len(s.buf))
	return end &^ 15
}

func (s *Stack) claim() error {
	if !s.claimed.CompareAndSwap(false, true) {
		return &rterrors.ContainerError{
			Op:     "spawn",
			Kind:   rterrors.ErrSpawn,
			Detail: rterrors.ErrStackInUse.Detail,
			Err:    unix.EBUSY,
		}
	}
	return nil
}

// EntryFunc is code run as the first thing in a spawned process. It returns
// the process exit status.
type EntryFunc func(args []string) int

var (
	entriesMu sync.RWMutex
	entries   = map[string]EntryFunc{}
)

// RegisterEntry makes fn spawnable under name. It is meant to be called from
// package init functions and panics on a duplicate name.
func RegisterEntry(name string, fn EntryFunc) {
	entriesMu.Lock()
	defer entriesMu.Unlock()
	if _, ok := entries[name]; ok {
		panic("linux: entry " + name + " registered twice")
	}
	entries[name] = fn
}

func lookupEntry(name string) (EntryFunc, bool) {
	entriesMu.RLock()
	defer entriesMu.RUnlock()
	fn, ok := entries[name]
	return fn, ok
}

// IsEntryInvocation reports whether this process was started by SpawnIsolated.
func IsEntryInvocation() bool {
	return len(os.Args) > 1 && os.Args[1] == InitArg
}

// RunEntry runs the entry named by args[0] with the remaining arguments and
// returns its exit status narrowed to 0..255. A panic in the entry is
// reported on stderr and becomes status 255.
func RunEntry(args []string) (status int) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "ocirt init: no entry given")
		return 255
	}
	fn, ok := lookupEntry(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "ocirt init: unknown entry %q\n", args[0])
		return 255
	}

	if size, err := strconv.Atoi(os.Getenv(stackSizeEnv)); err == nil {
		debug.SetMaxStack(max(size, minChildStack))
	}
	os.Unsetenv(stackSizeEnv)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "ocirt init: entry %s panicked: %v\n%s", args[0], r, debug.Stack())
			status = 255
		}
	}()
	return fn(args[1:]) & 0xff
}

// Entry names a registered EntryFunc and its arguments.
type Entry struct {
	Name string
	Args []string
}

// SpawnAttr holds the process attributes of a spawn other than its
// namespaces. The zero value is usable.
type SpawnAttr struct {
	// Env is the child's environment. Nil means the parent's environment.
	Env []string

	// Dir is the child's working directory.
	Dir string

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	// ExtraFiles become descriptors 3, 4, ... in the child.
	ExtraFiles []*os.File

	// UIDMappings and GIDMappings are written for a new user namespace.
	UIDMappings []syscall.SysProcIDMap
	GIDMappings []syscall.SysProcIDMap

	// Setsid starts the child in a new session.
	Setsid bool

	// PIDNamespace, when set, is an existing PID namespace the child is
	// created in. It is joined by a dedicated thread of the caller.
	PIDNamespace string
}

// SpawnIsolated starts a new process running entry in the namespaces
// selected by flags (CLONE_NEW* bits). exitSignal is the signal delivered to
// the caller when the child exits; only 0 and SIGCHLD are supported, both
// meaning SIGCHLD.
//
// The child is left running; the caller owns it and must reap it with
// Pid.Wait. Failure leaves no child behind.
func SpawnIsolated(entry Entry, stack *Stack, flags uintptr, exitSignal unix.Signal, attr *SpawnAttr) (Pid, error) {
	if attr == nil {
		attr = &SpawnAttr{}
	}
	if exitSignal != 0 && exitSignal != unix.SIGCHLD {
		return 0, &rterrors.ContainerError{
			Op:     "spawn",
			Kind:   rterrors.ErrSpawn,
			Detail: fmt.Sprintf("%s %q", rterrors.ErrExitSignal.Detail, unix.SignalName(exitSignal)),
			Err:    unix.EINVAL,
		}
	}
	if flags&^namespaceFlagMask != 0 {
		return 0, &rterrors.ContainerError{
			Op:     "spawn",
			Kind:   rterrors.ErrSpawn,
			Detail: fmt.Sprintf("flags %#x are not namespace flags", flags&^namespaceFlagMask),
			Err:    unix.EINVAL,
		}
	}
	if _, ok := lookupEntry(entry.Name); !ok {
		return 0, rterrors.WrapWithDetail(unix.ENOENT, rterrors.ErrSpawn, "spawn",
			rterrors.ErrUnknownEntry.Detail+" "+entry.Name)
	}
	if err := checkSpawnStrings(entry, attr); err != nil {
		return 0, err
	}
	if stack == nil {
		stack = NewStack(DefaultStackSize)
	}
	if err := stack.claim(); err != nil {
		return 0, err
	}

	cmd := exec.Command("/proc/self/exe", append([]string{InitArg, entry.Name}, entry.Args...)...)
	cmd.Args[0] = os.Args[0]
	cmd.Dir = attr.Dir
	env := attr.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env[:len(env):len(env)], stackSizeEnv+"="+strconv.Itoa(stack.Size()))
	cmd.Stdin = attr.Stdin
	cmd.Stdout = attr.Stdout
	cmd.Stderr = attr.Stderr
	cmd.ExtraFiles = attr.ExtraFiles
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: flags,
		Setsid:     attr.Setsid,
	}
	if flags&unix.CLONE_NEWUSER != 0 {
		cmd.SysProcAttr.UidMappings = attr.UIDMappings
		cmd.SysProcAttr.GidMappings = attr.GIDMappings
		cmd.SysProcAttr.GidMappingsEnableSetgroups = false
	}

	if attr.PIDNamespace == "" {
		return startCmd(cmd)
	}
	return startInPIDNamespace(cmd, attr.PIDNamespace)
}

const namespaceFlagMask = unix.CLONE_NEWNS | unix.CLONE_NEWUTS | unix.CLONE_NEWIPC |
	unix.CLONE_NEWPID | unix.CLONE_NEWNET | unix.CLONE_NEWUSER | unix.CLONE_NEWCGROUP

func startCmd(cmd *exec.Cmd) (Pid, error) {
	if err := cmd.Start(); err != nil {
		return 0, spawnError(err)
	}
	pid := Pid(cmd.Process.Pid)
	// The child is managed by pid from here on; Wait4 still reaps it.
	_ = cmd.Process.Release()
	return pid, nil
}

// startInPIDNamespace forks from a locked thread that has joined the target
// PID namespace. The goroutine exits without unlocking so the runtime
// discards the thread along with its altered namespace.
func startInPIDNamespace(cmd *exec.Cmd, path string) (Pid, error) {
	type result struct {
		pid Pid
		err error
	}
	ch := make(chan result, 1)
	go func() {
		runtime.LockOSThread()
		if err := JoinNamespace(config.LinuxNamespace{Type: config.PIDNamespace, Path: path}); err != nil {
			ch <- result{err: err}
			return
		}
		pid, err := startCmd(cmd)
		ch <- result{pid, err}
	}()
	r := <-ch
	return r.pid, r.err
}

func spawnError(err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return rterrors.Wrap(errno, rterrors.ErrSpawn, "spawn")
	}
	return rterrors.Wrap(err, rterrors.ErrSpawn, "spawn")
}

func checkSpawnStrings(entry Entry, attr *SpawnAttr) error {
	if err := rterrors.CheckNul("spawn", "entry", entry.Name); err != nil {
		return err
	}
	for i, a := range entry.Args {
		if err := rterrors.CheckNul("spawn", fmt.Sprintf("args[%d]", i), a); err != nil {
			return err
		}
	}
	for i, e := range attr.Env {
		if err := rterrors.CheckNul("spawn", fmt.Sprintf("env[%d]", i), e); err != nil {
			return err
		}
	}
	if err := rterrors.CheckNul("spawn", "dir", attr.Dir); err != nil {
		return err
	}
	return rterrors.CheckNul("spawn", "pid namespace path", attr.PIDNamespace)
}
