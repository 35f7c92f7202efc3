package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	rterrors "ocirt/errors"
)

func TestValidateSocketPath(t *testing.T) {
	dir := t.TempDir()
	regular := filepath.Join(dir, "regular")
	if err := os.WriteFile(regular, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		kind rterrors.ErrorKind
		ok   bool
	}{
		{"missing path is fine", filepath.Join(dir, "new.sock"), 0, true},
		{"empty", "", rterrors.ErrInvalidValue, false},
		{"regular file", regular, rterrors.ErrInvalidValue, false},
		{"nul byte", "/tmp/a\x00b", rterrors.ErrNulByte, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSocketPath(tc.path)
			if tc.ok {
				if err != nil {
					t.Errorf("got %v, want nil", err)
				}
				return
			}
			if !rterrors.IsKind(err, tc.kind) {
				t.Errorf("got %v, want kind %v", err, tc.kind)
			}
		})
	}
}

func TestSendAndReceiveFd(t *testing.T) {
	sock, err := ListenConsoleSocket(filepath.Join(t.TempDir(), "console.sock"))
	if err != nil {
		t.Fatal(err)
	}
	defer sock.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	sent := make(chan error, 1)
	go func() { sent <- SendFd(sock.Path(), w) }()

	conn, err := sock.l.AcceptUnix()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	got, err := RecvFd(conn)
	if err != nil {
		t.Fatal(err)
	}
	defer got.Close()
	if err := <-sent; err != nil {
		t.Fatal(err)
	}
	if got.Name() != w.Name() {
		t.Errorf("received name %q, want %q", got.Name(), w.Name())
	}

	// The received descriptor is the pipe's write end.
	if _, err := got.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	if _, err := r.Read(buf); err != nil || buf[0] != 'x' {
		t.Errorf("read %q, %v through the passed descriptor", buf, err)
	}
}

func TestConsoleSocketPty(t *testing.T) {
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skip("no /dev/ptmx")
	}
	master, slave, err := NewPty(24, 80)
	if err != nil {
		t.Skipf("cannot allocate a pty: %v", err)
	}
	defer master.Close()
	if slave == "" {
		t.Error("empty slave path")
	}
	size, err := master.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size.Height != 24 || size.Width != 80 {
		t.Errorf("pty size = %dx%d, want 24x80", size.Height, size.Width)
	}

	sock, err := ListenConsoleSocket(filepath.Join(t.TempDir(), "console.sock"))
	if err != nil {
		t.Fatal(err)
	}
	defer sock.Close()

	fd, err := unix.Dup(int(master.Fd()))
	if err != nil {
		t.Fatal(err)
	}
	f := os.NewFile(uintptr(fd), "pty-master")
	defer f.Close()
	sent := make(chan error, 1)
	go func() { sent <- SendFd(sock.Path(), f) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := sock.Accept(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer got.Close()
	if err := <-sent; err != nil {
		t.Fatal(err)
	}
	if size, err := got.Size(); err != nil || size.Width != 80 {
		t.Errorf("received console size %+v, %v", size, err)
	}
}

func TestConsoleSocketAcceptCancelled(t *testing.T) {
	sock, err := ListenConsoleSocket(filepath.Join(t.TempDir(), "console.sock"))
	if err != nil {
		t.Fatal(err)
	}
	defer sock.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := sock.Accept(ctx); err == nil {
		t.Error("Accept with a cancelled context succeeded")
	}
}
