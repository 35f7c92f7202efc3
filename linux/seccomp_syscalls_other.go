//go:build !amd64 && !arm64

package linux

// Seccomp filters are only compiled for amd64 and arm64.
const (
	nativeArch      = ""
	nativeAuditArch = 0
	x32SyscallBit   = 0
)

var syscallNumbers = map[string]uintptr{}
