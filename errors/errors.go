// Package errors provides typed error handling for the ocirt container runtime.
//
// Every failure surfaced by the runtime is a *ContainerError carrying an
// ErrorKind. Callers classify failures with IsKind or with errors.Is against
// one of the sentinels in sentinel.go, which match on kind alone.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"syscall"
)

// ErrorKind represents the category of an error.
type ErrorKind int

const (
	// ErrInternal indicates an internal error.
	ErrInternal ErrorKind = iota
	// ErrMalformedConfig indicates a structurally invalid configuration
	// document: bad JSON, a wrong value type or a missing required field.
	ErrMalformedConfig
	// ErrInvalidValue indicates a value outside a closed vocabulary or an
	// otherwise rejected field value.
	ErrInvalidValue
	// ErrUnsupported indicates a recognised value this runtime cannot honour.
	ErrUnsupported
	// ErrDuplicateID indicates a container id that is already in use.
	ErrDuplicateID
	// ErrNotFound indicates an unknown container id.
	ErrNotFound
	// ErrInvalidTransition indicates a lifecycle operation that is not legal
	// from the container's current status.
	ErrInvalidTransition
	// ErrCreateFailed indicates that create could not bring a container to
	// the created status.
	ErrCreateFailed
	// ErrSpawn indicates the kernel refused to create the child process.
	ErrSpawn
	// ErrMount indicates a failed mount system call.
	ErrMount
	// ErrNulByte indicates a string with an embedded NUL byte destined for
	// an OS call.
	ErrNulByte
	// ErrNamespace indicates a namespace operation error.
	ErrNamespace
	// ErrCgroup indicates a cgroup operation error.
	ErrCgroup
	// ErrSeccomp indicates a seccomp filter error.
	ErrSeccomp
	// ErrCapability indicates a capability operation error.
	ErrCapability
	// ErrDevice indicates a device operation error.
	ErrDevice
	// ErrRootfs indicates a rootfs setup error.
	ErrRootfs
	// ErrHook indicates a failing lifecycle hook.
	ErrHook
	// ErrStore indicates a container record store error.
	ErrStore
)

var kindNames = map[ErrorKind]string{
	ErrInternal:          "internal error",
	ErrMalformedConfig:   "malformed config",
	ErrInvalidValue:      "invalid value",
	ErrUnsupported:       "unsupported",
	ErrDuplicateID:       "duplicate id",
	ErrNotFound:          "not found",
	ErrInvalidTransition: "invalid transition",
	ErrCreateFailed:      "create failed",
	ErrSpawn:             "spawn failure",
	ErrMount:             "mount failure",
	ErrNulByte:           "nul byte in argument",
	ErrNamespace:         "namespace error",
	ErrCgroup:            "cgroup error",
	ErrSeccomp:           "seccomp error",
	ErrCapability:        "capability error",
	ErrDevice:            "device error",
	ErrRootfs:            "rootfs error",
	ErrHook:              "hook error",
	ErrStore:             "store error",
}

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown error"
}

// ContainerError represents an error that occurred during a container operation.
type ContainerError struct {
	// Op is the operation that failed (e.g., "create", "mount", "parse").
	Op string
	// Container is the container ID, if applicable.
	Container string
	// Err is the underlying error. For OS failures it is a syscall.Errno.
	Err error
	// Kind is the error classification.
	Kind ErrorKind
	// Detail provides additional context about the error.
	Detail string
}

// Error returns the error message.
func (e *ContainerError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var b strings.Builder
	if e.Container != "" {
		fmt.Fprintf(&b, "container %s: ", e.Container)
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Detail != "" {
		b.WriteString(e.Detail)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ContainerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether the error matches the target.
// A *ContainerError target matches on Kind only, so sentinels act as
// kind selectors.
func (e *ContainerError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if t, ok := target.(*ContainerError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a new ContainerError with the given kind.
func New(kind ErrorKind, op string, detail string) *ContainerError {
	return &ContainerError{
		Op:     op,
		Kind:   kind,
		Detail: detail,
	}
}

// Wrap wraps an error with an operation and kind.
func Wrap(err error, kind ErrorKind, op string) *ContainerError {
	return &ContainerError{
		Op:   op,
		Err:  err,
		Kind: kind,
	}
}

// WrapWithContainer wraps an error with container context and ID.
func WrapWithContainer(err error, kind ErrorKind, op string, containerID string) *ContainerError {
	return &ContainerError{
		Op:        op,
		Container: containerID,
		Err:       err,
		Kind:      kind,
	}
}

// WrapWithDetail wraps an error with additional detail.
func WrapWithDetail(err error, kind ErrorKind, op string, detail string) *ContainerError {
	return &ContainerError{
		Op:     op,
		Err:    err,
		Kind:   kind,
		Detail: detail,
	}
}

// InvalidValue reports value as outside the allowed set for field.
func InvalidValue(field, value string, allowed []string) *ContainerError {
	sorted := append([]string(nil), allowed...)
	sort.Strings(sorted)
	return &ContainerError{
		Op:     "parse",
		Kind:   ErrInvalidValue,
		Detail: fmt.Sprintf("%s: %q is not one of [%s]", field, value, strings.Join(sorted, ", ")),
	}
}

// Unsupported reports a recognised value of field that cannot be honoured.
func Unsupported(field, value, reason string) *ContainerError {
	return &ContainerError{
		Op:     "parse",
		Kind:   ErrUnsupported,
		Detail: fmt.Sprintf("%s: %q is recognised but unsupported: %s", field, value, reason),
	}
}

// Malformed reports a structural problem with a configuration document.
func Malformed(detail string, err error) *ContainerError {
	return &ContainerError{
		Op:     "parse",
		Kind:   ErrMalformedConfig,
		Detail: detail,
		Err:    err,
	}
}

// CheckNul fails with ErrNulByte when s contains a NUL byte.
// field names the argument in the error.
func CheckNul(op, field, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return &ContainerError{
			Op:     op,
			Kind:   ErrNulByte,
			Detail: fmt.Sprintf("%s contains a NUL byte", field),
		}
	}
	return nil
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind ErrorKind) bool {
	var cerr *ContainerError
	if errors.As(err, &cerr) {
		return cerr.Kind == kind
	}
	return false
}

// GetKind returns the error kind if the error is a ContainerError.
func GetKind(err error) (ErrorKind, bool) {
	var cerr *ContainerError
	if errors.As(err, &cerr) {
		return cerr.Kind, true
	}
	return 0, false
}

// Errno extracts the OS error number carried by err, if any.
func Errno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)
