// Package utils provides the plumbing shared by the runtime and its init
// child: the sync socket carrying the create handshake, the exec FIFO and
// console socket helpers.
package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// SyncType identifies a message of the create handshake.
type SyncType string

const (
	// SyncBootstrap carries the container setup from the runtime to init.
	SyncBootstrap SyncType = "bootstrap"

	// SyncMounted is sent by init once the rootfs is prepared and before
	// the root is switched. The runtime runs createRuntime hooks.
	SyncMounted SyncType = "mounted"

	// SyncContinue resumes init after SyncMounted.
	SyncContinue SyncType = "continue"

	// SyncReady is sent by init when it is about to block on the exec FIFO.
	SyncReady SyncType = "ready"

	// SyncError reports a failure; Message holds the cause.
	SyncError SyncType = "error"
)

// SyncMsg is one JSON message on the sync socket.
type SyncMsg struct {
	Type    SyncType        `json:"type"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the message payload into v.
func (m SyncMsg) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// RemoteError is the failure reported by the other end of a sync socket.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// SyncSocket exchanges SyncMsg values over a stream socket. Messages are
// newline separated JSON documents.
type SyncSocket struct {
	conn net.Conn
	dec  *json.Decoder
	enc  *json.Encoder
}

// NewSyncSocketPair returns both ends of a new unix stream socket pair. The
// parent end is close-on-exec; the child end is meant to be inherited.
func NewSyncSocketPair(name string) (parent *os.File, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), name+"-p"), os.NewFile(uintptr(fds[1]), name+"-c"), nil
}

// NewSyncSocket wraps a connected stream.
func NewSyncSocket(conn net.Conn) *SyncSocket {
	return &SyncSocket{
		conn: conn,
		dec:  json.NewDecoder(conn),
		enc:  json.NewEncoder(conn),
	}
}

// FileSyncSocket wraps a socket descriptor. f is closed; the SyncSocket
// holds its own duplicate.
func FileSyncSocket(f *os.File) (*SyncSocket, error) {
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("sync socket %s: %w", f.Name(), err)
	}
	return NewSyncSocket(conn), nil
}

// Send writes msg.
func (s *SyncSocket) Send(msg SyncMsg) error {
	if err := s.enc.Encode(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// SendPayload writes a message of type t carrying v as its payload.
func (s *SyncSocket) SendPayload(t SyncType, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", t, err)
	}
	return s.Send(SyncMsg{Type: t, Payload: data})
}

// SendError reports err to the other end.
func (s *SyncSocket) SendError(err error) error {
	return s.Send(SyncMsg{Type: SyncError, Message: err.Error()})
}

// Recv reads the next message. The other end closing the socket yields
// io.EOF.
func (s *SyncSocket) Recv() (SyncMsg, error) {
	var msg SyncMsg
	if err := s.dec.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) {
			return msg, io.EOF
		}
		return msg, fmt.Errorf("receive: %w", err)
	}
	return msg, nil
}

// RecvContext is Recv that gives up when ctx is done.
func (s *SyncSocket) RecvContext(ctx context.Context) (SyncMsg, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	msg, err := s.Recv()
	if !stop() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return msg, ctxErr
		}
	}
	return msg, err
}

// Expect reads the next message and requires it to be of type t. An error
// message is returned as a *RemoteError.
func (s *SyncSocket) Expect(ctx context.Context, t SyncType) (SyncMsg, error) {
	msg, err := s.RecvContext(ctx)
	if err != nil {
		return msg, err
	}
	switch msg.Type {
	case t:
		return msg, nil
	case SyncError:
		return msg, &RemoteError{Message: msg.Message}
	}
	return msg, fmt.Errorf("unexpected %s message, want %s", msg.Type, t)
}

// Shutdown closes the writing half; the other end sees EOF after the
// messages already sent.
func (s *SyncSocket) Shutdown() error {
	if uc, ok := s.conn.(*net.UnixConn); ok {
		return uc.CloseWrite()
	}
	return nil
}

// Close closes the socket.
func (s *SyncSocket) Close() error {
	return s.conn.Close()
}
