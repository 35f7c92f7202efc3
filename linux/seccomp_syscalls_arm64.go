package linux

import (
	"golang.org/x/sys/unix"

	"ocirt/config"
)

const (
	nativeArch      = config.ArchAARCH64
	nativeAuditArch = unix.AUDIT_ARCH_AARCH64

	x32SyscallBit = 0
)
