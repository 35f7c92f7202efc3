package linux

import (
	"errors"
	"io"
	"os"
	"strconv"
	"testing"

	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
)

func init() {
	RegisterEntry("test-exit", func(args []string) int {
		n, _ := strconv.Atoi(args[0])
		return n
	})
	RegisterEntry("test-panic", func([]string) int {
		panic("boom")
	})
	// test-wait blocks until stdin is closed.
	RegisterEntry("test-wait", func([]string) int {
		_, _ = io.Copy(io.Discard, os.Stdin)
		return 0
	})
	RegisterEntry("test-env", func(args []string) int {
		if os.Getenv("OCIRT_TEST_VALUE") != args[0] {
			return 1
		}
		if os.Getenv(stackSizeEnv) != "" {
			return 2
		}
		return 0
	})
}

func TestMain(m *testing.M) {
	if IsEntryInvocation() {
		os.Exit(RunEntry(os.Args[2:]))
	}
	os.Exit(m.Run())
}

func spawnAndWait(t *testing.T, entry Entry, attr *SpawnAttr) int {
	t.Helper()
	pid, err := SpawnIsolated(entry, nil, 0, 0, attr)
	if err != nil {
		t.Fatalf("SpawnIsolated(%v): %v", entry, err)
	}
	ws, err := pid.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !ws.Exited() {
		t.Fatalf("child did not exit normally: %v", ws)
	}
	return ws.ExitStatus()
}

func TestSpawnExitStatus(t *testing.T) {
	tests := []struct {
		arg  string
		want int
	}{
		{"0", 0},
		{"42", 42},
		{"263", 7}, // narrowed to 8 bits
	}
	for _, tc := range tests {
		if got := spawnAndWait(t, Entry{Name: "test-exit", Args: []string{tc.arg}}, nil); got != tc.want {
			t.Errorf("entry returning %s: exit status %d, want %d", tc.arg, got, tc.want)
		}
	}
}

func TestSpawnPanicExits255(t *testing.T) {
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer devnull.Close()
	if got := spawnAndWait(t, Entry{Name: "test-panic"}, &SpawnAttr{Stderr: devnull}); got != 255 {
		t.Errorf("exit status %d, want 255", got)
	}
}

func TestSpawnEnvironment(t *testing.T) {
	attr := &SpawnAttr{Env: []string{"OCIRT_TEST_VALUE=hello"}}
	if got := spawnAndWait(t, Entry{Name: "test-env", Args: []string{"hello"}}, attr); got != 0 {
		t.Errorf("exit status %d, want 0", got)
	}
}

func TestSpawnStackSingleUse(t *testing.T) {
	stack := NewStack(64 << 10)
	pid, err := SpawnIsolated(Entry{Name: "test-exit", Args: []string{"0"}}, stack, 0, unix.SIGCHLD, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pid.Wait(); err != nil {
		t.Fatal(err)
	}

	_, err = SpawnIsolated(Entry{Name: "test-exit", Args: []string{"0"}}, stack, 0, 0, nil)
	if !rterrors.IsKind(err, rterrors.ErrSpawn) {
		t.Fatalf("second spawn on a stack: %v, want SpawnFailure", err)
	}
	if !errors.Is(err, unix.EBUSY) {
		t.Errorf("second spawn on a stack: %v, want EBUSY", err)
	}
}

func TestSpawnRejectsArguments(t *testing.T) {
	tests := []struct {
		name   string
		entry  Entry
		flags  uintptr
		signal unix.Signal
		attr   *SpawnAttr
		kind   rterrors.ErrorKind
		errno  unix.Errno
	}{
		{"exit signal", Entry{Name: "test-exit", Args: []string{"0"}}, 0, unix.SIGUSR1, nil, rterrors.ErrSpawn, unix.EINVAL},
		{"non-namespace flag", Entry{Name: "test-exit", Args: []string{"0"}}, unix.CLONE_VM, 0, nil, rterrors.ErrSpawn, unix.EINVAL},
		{"unknown entry", Entry{Name: "no-such-entry"}, 0, 0, nil, rterrors.ErrSpawn, unix.ENOENT},
		{"NUL in argument", Entry{Name: "test-exit", Args: []string{"0\x00"}}, 0, 0, nil, rterrors.ErrNulByte, 0},
		{"NUL in env", Entry{Name: "test-exit", Args: []string{"0"}}, 0, 0, &SpawnAttr{Env: []string{"A=\x00"}}, rterrors.ErrNulByte, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pid, err := SpawnIsolated(tc.entry, nil, tc.flags, tc.signal, tc.attr)
			if err == nil {
				pid.Wait()
				t.Fatal("spawn succeeded")
			}
			if !rterrors.IsKind(err, tc.kind) {
				t.Errorf("got %v, want kind %v", err, tc.kind)
			}
			if tc.errno != 0 && !errors.Is(err, tc.errno) {
				t.Errorf("got %v, want errno %v", err, tc.errno)
			}
		})
	}
}

func TestSpawnNoFlagsTinyStack(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	pid, err := SpawnIsolated(Entry{Name: "test-wait"}, NewStack(64), 0, unix.SIGCHLD, &SpawnAttr{Stdin: r})
	if err != nil {
		w.Close()
		t.Fatal(err)
	}
	defer func() {
		w.Close()
		pid.Wait()
	}()

	for _, ns := range []config.LinuxNamespaceType{config.PIDNamespace, config.MountNamespace, config.NetworkNamespace} {
		same, err := SameNamespace(CurrentPid(), pid, ns)
		if err != nil {
			t.Fatal(err)
		}
		if !same {
			t.Errorf("child left the parent's %s namespace", ns)
		}
	}
}

func TestSpawnNewNamespaces(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires root")
	}
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	pid, err := SpawnIsolated(Entry{Name: "test-wait"}, NewStack(1<<20), unix.CLONE_NEWUTS|unix.CLONE_NEWIPC, 0,
		&SpawnAttr{Stdin: r})
	if err != nil {
		w.Close()
		t.Fatal(err)
	}
	defer func() {
		w.Close()
		pid.Wait()
	}()

	for _, ns := range []config.LinuxNamespaceType{config.UTSNamespace, config.IPCNamespace} {
		same, err := SameNamespace(CurrentPid(), pid, ns)
		if err != nil {
			t.Fatal(err)
		}
		if same {
			t.Errorf("child shares the parent's %s namespace", ns)
		}
	}
	same, err := SameNamespace(CurrentPid(), pid, config.NetworkNamespace)
	if err != nil {
		t.Fatal(err)
	}
	if !same {
		t.Error("child left the parent's network namespace")
	}
	if !pid.Alive() {
		t.Error("child not alive while blocked on stdin")
	}
}

func TestRunEntry(t *testing.T) {
	if got := RunEntry([]string{"test-exit", "3"}); got != 3 {
		t.Errorf("RunEntry(test-exit 3) = %d", got)
	}

	stderr := os.Stderr
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	os.Stderr = devnull
	defer func() {
		os.Stderr = stderr
		devnull.Close()
	}()

	for _, args := range [][]string{nil, {"no-such-entry"}, {"test-panic"}} {
		if got := RunEntry(args); got != 255 {
			t.Errorf("RunEntry(%v) = %d, want 255", args, got)
		}
	}
}

func TestRegisterEntryDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("registering test-exit twice did not panic")
		}
	}()
	RegisterEntry("test-exit", func([]string) int { return 0 })
}

func TestStackTopAligned(t *testing.T) {
	for _, size := range []int{1, 17, 4096, 1<<20 + 3} {
		s := NewStack(size)
		if s.Size() != size {
			t.Errorf("Size() = %d, want %d", s.Size(), size)
		}
		if top := s.Top(); top%16 != 0 {
			t.Errorf("size %d: Top() = %#x is not 16-byte aligned", size, top)
		}
	}
	if NewStack(0).Top() != 0 {
		t.Error("empty stack has a top")
	}
}

func TestPid(t *testing.T) {
	self := CurrentPid()
	if self.Raw() != os.Getpid() {
		t.Errorf("CurrentPid() = %d, want %d", self, os.Getpid())
	}
	if ParentPid().Raw() != os.Getppid() {
		t.Errorf("ParentPid() = %d", ParentPid())
	}
	if !self.Alive() {
		t.Error("current process not alive")
	}
	if Pid(0).Alive() || Pid(-1).Alive() {
		t.Error("non-positive pid reported alive")
	}
	if err := Pid(0).Signal(0); !rterrors.IsKind(err, rterrors.ErrInvalidValue) {
		t.Errorf("Signal on pid 0: %v", err)
	}
	id, err := self.NamespaceID(config.PIDNamespace)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("empty namespace id")
	}
}
