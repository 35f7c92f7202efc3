package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"ocirt/linux"
)

// pollInterval bounds how long an exit watch goes without checking its
// context, and paces liveness polling when pidfds are unavailable.
const pollInterval = 100 * time.Millisecond

// waitExit blocks until pid exits. A child of this process is reaped and
// its exit status returned. Any other process is observed through a pidfd,
// or by polling /proc, and reports status -1.
func waitExit(ctx context.Context, pid linux.Pid, startTime uint64, own bool) (int, error) {
	if own {
		return waitChild(ctx, pid, startTime)
	}
	return -1, waitAdopted(ctx, pid, startTime)
}

// reaper owns the single wait4 on one child. Waiters that give up leave it
// running, so the status stays available to later waiters.
type reaper struct {
	done   chan struct{}
	status int
	err    error
}

type reapKey struct {
	pid   linux.Pid
	start uint64
}

var (
	reapersMu sync.Mutex
	reapers   = map[reapKey]*reaper{}
)

func reaperFor(pid linux.Pid, startTime uint64) *reaper {
	reapersMu.Lock()
	defer reapersMu.Unlock()
	k := reapKey{pid, startTime}
	if rp, ok := reapers[k]; ok {
		return rp
	}
	rp := &reaper{done: make(chan struct{})}
	reapers[k] = rp
	go func() {
		ws, err := pid.Wait()
		if err != nil {
			rp.status, rp.err = -1, err
		} else {
			rp.status = exitStatus(ws)
		}
		close(rp.done)
	}()
	return rp
}

// forgetReaper drops the reaper of a child whose container is gone.
func forgetReaper(pid linux.Pid, startTime uint64) {
	reapersMu.Lock()
	delete(reapers, reapKey{pid, startTime})
	reapersMu.Unlock()
}

func waitChild(ctx context.Context, pid linux.Pid, startTime uint64) (int, error) {
	rp := reaperFor(pid, startTime)
	select {
	case <-rp.done:
		return rp.status, rp.err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func waitAdopted(ctx context.Context, pid linux.Pid, startTime uint64) error {
	if linux.Exited(pid, startTime) {
		return nil
	}
	fd, err := unix.PidfdOpen(pid.Raw(), 0)
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return pollExit(ctx, pid, startTime)
	}
	defer unix.Close(fd)
	// The pid may have been reused between the check and the open.
	if linux.Exited(pid, startTime) {
		return nil
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(pollInterval/time.Millisecond))
		if err != nil && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("poll pidfd: %w", err)
		}
		if n > 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func pollExit(ctx context.Context, pid linux.Pid, startTime uint64) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if linux.Exited(pid, startTime) {
				return nil
			}
		}
	}
}
