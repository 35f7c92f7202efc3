package container

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"ocirt/linux"
)

func startShell(t *testing.T, script string) *exec.Cmd {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh")
	}
	cmd := exec.Command(sh, "-c", script)
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestWaitExitOwnChild(t *testing.T) {
	cmd := startShell(t, "exit 3")
	pid := linux.Pid(cmd.Process.Pid)
	// waitExit reaps the child itself.
	cmd.Process.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := waitExit(ctx, pid, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if status != 3 {
		t.Errorf("status = %d, want 3", status)
	}
	forgetReaper(pid, 0)
}

func TestWaitExitAdopted(t *testing.T) {
	cmd := startShell(t, "sleep 0.2")
	pid := linux.Pid(cmd.Process.Pid)
	start, err := linux.StartTime(pid)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := waitExit(ctx, pid, start, false)
	if err != nil {
		t.Fatal(err)
	}
	if status != -1 {
		t.Errorf("status of an adopted process = %d, want -1", status)
	}
	cmd.Wait()
}

func TestWaitExitCancelled(t *testing.T) {
	self := linux.CurrentPid()
	start, err := linux.StartTime(self)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := waitExit(ctx, self, start, false); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("waitExit on a live process = %v, want deadline exceeded", err)
	}
}

func TestWaitExitReusedPid(t *testing.T) {
	self := linux.CurrentPid()
	start, err := linux.StartTime(self)
	if err != nil {
		t.Fatal(err)
	}
	// A different start time means the recorded process is gone.
	if _, err := waitExit(context.Background(), self, start+1, false); err != nil {
		t.Errorf("waitExit = %v", err)
	}
}

func TestWaitExitOwnChildAfterCancel(t *testing.T) {
	cmd := startShell(t, "sleep 0.3; exit 5")
	pid := linux.Pid(cmd.Process.Pid)
	cmd.Process.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := waitExit(ctx, pid, 0, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("first wait = %v, want deadline exceeded", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	for i := 0; i < 2; i++ {
		status, err := waitExit(ctx2, pid, 0, true)
		if err != nil {
			t.Fatal(err)
		}
		if status != 5 {
			t.Errorf("wait %d: status = %d, want 5", i, status)
		}
	}
	forgetReaper(pid, 0)
}
