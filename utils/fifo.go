package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/fifo"
	"golang.org/x/sys/unix"
)

// ExecFifoName is the name of the FIFO that holds a created container until
// it is started.
const ExecFifoName = "exec.fifo"

// execFifoReleased is what init writes once start opened the FIFO.
const execFifoReleased = "0"

// CreateExecFifo makes the exec FIFO inside dir and returns its path. An
// existing FIFO is an error: it belongs to another container.
func CreateExecFifo(dir string) (string, error) {
	path := filepath.Join(dir, ExecFifoName)
	if err := unix.Mkfifo(path, 0o622); err != nil {
		return "", fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return path, nil
}

// OpenExecFifoPath opens the FIFO with O_PATH. The descriptor is handed to
// init, which reopens it for writing through /proc/self/fd once it can no
// longer see the runtime's directories.
func OpenExecFifoPath(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

// WaitExecFifo is the init side of the barrier: it blocks until a reader
// opens the FIFO behind the inherited O_PATH descriptor fd.
func WaitExecFifo(fd int) error {
	path := fmt.Sprintf("/proc/self/fd/%d", fd)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open exec fifo: %w", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte(execFifoReleased)); err != nil {
		return fmt.Errorf("write exec fifo: %w", err)
	}
	return nil
}

// ReleaseExecFifo is the start side of the barrier. It opens the FIFO for
// reading, which unblocks init, and waits for init's token. alive is polled
// while opening so a dead init does not hang start. The FIFO is removed
// once released.
func ReleaseExecFifo(ctx context.Context, path string, alive func() bool) error {
	if ok, err := fifo.IsFifo(path); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("%s is not a fifo", path)
		}
		return fmt.Errorf("exec fifo: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if alive != nil {
		go func() {
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if !alive() {
						cancel()
						return
					}
				}
			}
		}()
	}

	rc, err := fifo.OpenFifo(ctx, path, unix.O_RDONLY, 0)
	if err != nil {
		if alive != nil && !alive() {
			return fmt.Errorf("container process exited before start")
		}
		return fmt.Errorf("open exec fifo: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read exec fifo: %w", err)
	}
	if string(data) != execFifoReleased {
		return fmt.Errorf("container process exited before start")
	}
	return os.Remove(path)
}
