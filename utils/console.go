package utils

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/containerd/console"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	rterrors "ocirt/errors"
)

// ValidateSocketPath checks that a console socket path is usable: absolute
// once resolved, and a socket when it already exists.
func ValidateSocketPath(path string) error {
	if path == "" {
		return rterrors.WrapWithDetail(rterrors.ErrInvalidSocketPath, rterrors.ErrInvalidValue, "console", "empty path")
	}
	if err := rterrors.CheckNul("console", "socket", path); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrInvalidValue, "console", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rterrors.WrapWithDetail(err, rterrors.ErrInvalidValue, "console", path)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return rterrors.WrapWithDetail(rterrors.ErrInvalidSocketPath, rterrors.ErrInvalidValue, "console",
			fmt.Sprintf("%q exists but is not a socket", path))
	}
	return nil
}

// NewPty allocates a pseudo terminal and returns its master and the path of
// the slave. A non-zero size is applied to the master.
func NewPty(height, width uint16) (console.Console, string, error) {
	master, slave, err := console.NewPty()
	if err != nil {
		return nil, "", fmt.Errorf("new pty: %w", err)
	}
	if height != 0 || width != 0 {
		if err := master.Resize(console.WinSize{Height: height, Width: width}); err != nil {
			master.Close()
			return nil, "", fmt.Errorf("resize pty: %w", err)
		}
	}
	return master, slave, nil
}

// SendFd sends f over the unix socket at socketPath with SCM_RIGHTS. The
// file name travels as the message body.
func SendFd(socketPath string, f *os.File) error {
	if err := ValidateSocketPath(socketPath); err != nil {
		return err
	}
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("%s is not a unix socket", socketPath)
	}
	oob := unix.UnixRights(int(f.Fd()))
	if _, _, err := uc.WriteMsgUnix([]byte(f.Name()), oob, nil); err != nil {
		return fmt.Errorf("sendmsg: %w", err)
	}
	return nil
}

// RecvFd receives one descriptor sent with SendFd.
func RecvFd(conn *net.UnixConn) (*os.File, error) {
	name := make([]byte, 4096)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := conn.ReadMsgUnix(name, oob)
	if err != nil {
		return nil, fmt.Errorf("recvmsg: %w", err)
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	if len(msgs) != 1 {
		return nil, fmt.Errorf("got %d control messages, want 1", len(msgs))
	}
	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return nil, fmt.Errorf("parse rights: %w", err)
	}
	if len(fds) != 1 {
		for _, fd := range fds {
			unix.Close(fd)
		}
		return nil, fmt.Errorf("got %d descriptors, want 1", len(fds))
	}
	return os.NewFile(uintptr(fds[0]), string(name[:n])), nil
}

// ConsoleSocket is a listening console socket, used by run to receive the
// container's pty master.
type ConsoleSocket struct {
	path string
	l    *net.UnixListener
}

// ListenConsoleSocket listens on path.
func ListenConsoleSocket(path string) (*ConsoleSocket, error) {
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &ConsoleSocket{path: path, l: l}, nil
}

// Path returns the socket path.
func (s *ConsoleSocket) Path() string { return s.path }

// Accept waits for one connection and returns the console it carries.
func (s *ConsoleSocket) Accept(ctx context.Context) (console.Console, error) {
	stop := context.AfterFunc(ctx, func() { s.l.Close() })
	defer stop()
	conn, err := s.l.AcceptUnix()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept console: %w", err)
	}
	defer conn.Close()
	f, err := RecvFd(conn)
	if err != nil {
		return nil, err
	}
	c, err := console.ConsoleFromFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("console from %s: %w", f.Name(), err)
	}
	return c, nil
}

// Close stops listening and removes the socket.
func (s *ConsoleSocket) Close() error {
	err := s.l.Close()
	os.Remove(s.path)
	return err
}

// ProxyConsole copies between the local terminal and the container's pty
// master. stdin is put in raw mode when it is a terminal and the pty takes
// the terminal's size. The returned function waits until the container
// side closes, then restores the terminal.
func ProxyConsole(master console.Console, stdin *os.File, stdout io.Writer) (wait func(), err error) {
	restore := func() {}
	wait = restore
	if term.IsTerminal(int(stdin.Fd())) {
		state, err := term.MakeRaw(int(stdin.Fd()))
		if err != nil {
			return wait, fmt.Errorf("raw terminal: %w", err)
		}
		restore = func() { _ = term.Restore(int(stdin.Fd()), state) }
		if w, h, err := term.GetSize(int(stdin.Fd())); err == nil {
			_ = master.Resize(console.WinSize{Height: uint16(h), Width: uint16(w)})
		}
	}
	go func() { _, _ = io.Copy(master, stdin) }()
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(stdout, master)
		close(done)
	}()
	return func() {
		<-done
		restore()
	}, nil
}
