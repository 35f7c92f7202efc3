package linux

import (
	"encoding/binary"
	"io"
	"log/slog"
	"testing"

	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// runFilter executes prog against a seccomp_data record with the subset of
// classic BPF the compiler emits.
func runFilter(t *testing.T, prog []unix.SockFilter, arch uint32, nr uintptr, args [6]uint64) uint32 {
	t.Helper()
	data := make([]byte, offsetArgs+8*6)
	binary.LittleEndian.PutUint32(data[offsetNR:], uint32(nr))
	binary.LittleEndian.PutUint32(data[offsetArch:], arch)
	for i, a := range args {
		binary.LittleEndian.PutUint64(data[offsetArgs+8*i:], a)
	}

	var acc uint32
	for pc := 0; pc < len(prog); pc++ {
		in := prog[pc]
		cond := false
		switch in.Code {
		case unix.BPF_LD | unix.BPF_W | unix.BPF_ABS:
			acc = binary.LittleEndian.Uint32(data[in.K:])
			continue
		case unix.BPF_ALU | unix.BPF_AND | unix.BPF_K:
			acc &= in.K
			continue
		case unix.BPF_RET | unix.BPF_K:
			return in.K
		case unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K:
			cond = acc == in.K
		case unix.BPF_JMP | unix.BPF_JGT | unix.BPF_K:
			cond = acc > in.K
		case unix.BPF_JMP | unix.BPF_JGE | unix.BPF_K:
			cond = acc >= in.K
		default:
			t.Fatalf("pc %d: unexpected opcode %#x", pc, in.Code)
		}
		if cond {
			pc += int(in.Jt)
		} else {
			pc += int(in.Jf)
		}
	}
	t.Fatal("program fell off the end")
	return 0
}

func skipWithoutSyscallTable(t *testing.T) {
	t.Helper()
	if nativeArch == "" {
		t.Skip("no syscall table for this architecture")
	}
}

func compile(t *testing.T, s *config.LinuxSeccomp) []unix.SockFilter {
	t.Helper()
	prog, err := CompileSeccomp(s, discard)
	if err != nil {
		t.Fatalf("CompileSeccomp: %v", err)
	}
	return prog
}

func TestCompileSeccompDefaultAndRule(t *testing.T) {
	skipWithoutSyscallTable(t)
	prog := compile(t, &config.LinuxSeccomp{
		DefaultAction: config.ActAllow,
		Syscalls: []config.LinuxSyscall{
			{Names: []string{"getpid", "getppid"}, Action: config.ActKillProcess},
		},
	})

	for _, tc := range []struct {
		nr   uintptr
		want uint32
	}{
		{unix.SYS_GETPID, unix.SECCOMP_RET_KILL_PROCESS},
		{unix.SYS_GETPPID, unix.SECCOMP_RET_KILL_PROCESS},
		{unix.SYS_READ, unix.SECCOMP_RET_ALLOW},
	} {
		if got := runFilter(t, prog, nativeAuditArch, tc.nr, [6]uint64{}); got != tc.want {
			t.Errorf("syscall %d: got %#x, want %#x", tc.nr, got, tc.want)
		}
	}
}

func TestCompileSeccompErrno(t *testing.T) {
	skipWithoutSyscallTable(t)
	ebadf := uint(unix.EBADF)
	prog := compile(t, &config.LinuxSeccomp{
		DefaultAction: config.ActErrno,
		Syscalls: []config.LinuxSyscall{
			{Names: []string{"read"}, Action: config.ActAllow},
			{Names: []string{"write"}, Action: config.ActErrno, ErrnoRet: &ebadf},
		},
	})
	tests := []struct {
		nr   uintptr
		want uint32
	}{
		{unix.SYS_READ, unix.SECCOMP_RET_ALLOW},
		{unix.SYS_WRITE, unix.SECCOMP_RET_ERRNO | uint32(unix.EBADF)},
		{unix.SYS_GETPID, unix.SECCOMP_RET_ERRNO | uint32(unix.EPERM)},
	}
	for _, tc := range tests {
		if got := runFilter(t, prog, nativeAuditArch, tc.nr, [6]uint64{}); got != tc.want {
			t.Errorf("syscall %d: got %#x, want %#x", tc.nr, got, tc.want)
		}
	}
}

func TestCompileSeccompArgumentOperators(t *testing.T) {
	skipWithoutSyscallTable(t)
	const v = uint64(0x1_0000_0005)
	tests := []struct {
		op      config.SeccompOperator
		value   uint64
		value2  uint64
		matches []uint64
		misses  []uint64
	}{
		{config.OpEqualTo, v, 0, []uint64{v}, []uint64{5, 0x2_0000_0005, v + 1}},
		{config.OpNotEqual, v, 0, []uint64{5, v + 1, 0x2_0000_0005}, []uint64{v}},
		{config.OpGreaterThan, v, 0, []uint64{v + 1, 0x2_0000_0000}, []uint64{v, v - 1, 0xFFFF_FFFF}},
		{config.OpGreaterEqual, v, 0, []uint64{v, v + 1, 0x2_0000_0000}, []uint64{v - 1, 0}},
		{config.OpLessThan, v, 0, []uint64{v - 1, 0xFFFF_FFFF, 0}, []uint64{v, v + 1, 0x2_0000_0000}},
		{config.OpLessEqual, v, 0, []uint64{v, v - 1, 0}, []uint64{v + 1, 0x2_0000_0000}},
		{config.OpMaskedEqual, 0xFF00_0000_00FF, 0x1200_0000_0034,
			[]uint64{0x12AB_CDEF_0034, 0x1200_0000_0034}, []uint64{0x1300_0000_0034, 0x1200_0000_0035}},
	}
	for _, tc := range tests {
		t.Run(string(tc.op), func(t *testing.T) {
			prog := compile(t, &config.LinuxSeccomp{
				DefaultAction: config.ActAllow,
				Syscalls: []config.LinuxSyscall{{
					Names:  []string{"write"},
					Action: config.ActTrap,
					Args:   []config.LinuxSeccompArg{{Index: 2, Value: tc.value, ValueTwo: tc.value2, Op: tc.op}},
				}},
			})
			for _, x := range tc.matches {
				if got := runFilter(t, prog, nativeAuditArch, unix.SYS_WRITE, [6]uint64{2: x}); got != unix.SECCOMP_RET_TRAP {
					t.Errorf("arg %#x should match: got %#x", x, got)
				}
			}
			for _, x := range tc.misses {
				if got := runFilter(t, prog, nativeAuditArch, unix.SYS_WRITE, [6]uint64{2: x}); got != unix.SECCOMP_RET_ALLOW {
					t.Errorf("arg %#x should not match: got %#x", x, got)
				}
			}
		})
	}
}

func TestCompileSeccompArgumentsAllMatch(t *testing.T) {
	skipWithoutSyscallTable(t)
	prog := compile(t, &config.LinuxSeccomp{
		DefaultAction: config.ActAllow,
		Syscalls: []config.LinuxSyscall{{
			Names:  []string{"write"},
			Action: config.ActKillThread,
			Args: []config.LinuxSeccompArg{
				{Index: 0, Value: 1, Op: config.OpEqualTo},
				{Index: 2, Value: 100, Op: config.OpGreaterThan},
			},
		}},
	})
	tests := []struct {
		args [6]uint64
		want uint32
	}{
		{[6]uint64{0: 1, 2: 101}, unix.SECCOMP_RET_KILL_THREAD},
		{[6]uint64{0: 1, 2: 100}, unix.SECCOMP_RET_ALLOW},
		{[6]uint64{0: 2, 2: 101}, unix.SECCOMP_RET_ALLOW},
	}
	for _, tc := range tests {
		if got := runFilter(t, prog, nativeAuditArch, unix.SYS_WRITE, tc.args); got != tc.want {
			t.Errorf("args %v: got %#x, want %#x", tc.args, got, tc.want)
		}
	}
}

func TestCompileSeccompForeignArchitectures(t *testing.T) {
	skipWithoutSyscallTable(t)
	const foreign = unix.AUDIT_ARCH_S390X

	unlisted := compile(t, &config.LinuxSeccomp{DefaultAction: config.ActAllow})
	if got := runFilter(t, unlisted, foreign, unix.SYS_READ, [6]uint64{}); got != unix.SECCOMP_RET_KILL_PROCESS {
		t.Errorf("unlisted architecture: got %#x, want KILL_PROCESS", got)
	}

	listed := compile(t, &config.LinuxSeccomp{
		DefaultAction: config.ActLog,
		Architectures: []config.Arch{nativeArch, config.ArchS390X},
	})
	if got := runFilter(t, listed, foreign, unix.SYS_READ, [6]uint64{}); got != unix.SECCOMP_RET_LOG {
		t.Errorf("listed architecture: got %#x, want the default action", got)
	}
	if got := runFilter(t, listed, nativeAuditArch, unix.SYS_READ, [6]uint64{}); got != unix.SECCOMP_RET_LOG {
		t.Errorf("native architecture: got %#x, want the default action", got)
	}
}

func TestCompileSeccompX32(t *testing.T) {
	skipWithoutSyscallTable(t)
	if x32SyscallBit == 0 {
		t.Skip("no x32 ABI on this architecture")
	}
	prog := compile(t, &config.LinuxSeccomp{DefaultAction: config.ActAllow})
	if got := runFilter(t, prog, nativeAuditArch, x32SyscallBit|unix.SYS_READ, [6]uint64{}); got != unix.SECCOMP_RET_KILL_PROCESS {
		t.Errorf("x32 syscall: got %#x, want KILL_PROCESS", got)
	}
}

func TestCompileSeccompSkipsUnknownSyscalls(t *testing.T) {
	skipWithoutSyscallTable(t)
	base := compile(t, &config.LinuxSeccomp{DefaultAction: config.ActAllow})
	withUnknown := compile(t, &config.LinuxSeccomp{
		DefaultAction: config.ActAllow,
		Syscalls:      []config.LinuxSyscall{{Names: []string{"no_such_syscall"}, Action: config.ActKill}},
	})
	if len(base) != len(withUnknown) {
		t.Errorf("unknown syscall changed the program: %d vs %d instructions", len(base), len(withUnknown))
	}
}

func TestCompileSeccompErrors(t *testing.T) {
	skipWithoutSyscallTable(t)
	many := make([]string, unix.BPF_MAXINSNS/3+1)
	for i := range many {
		many[i] = "getpid"
	}
	tests := []struct {
		name string
		s    *config.LinuxSeccomp
		kind rterrors.ErrorKind
	}{
		{"notify", &config.LinuxSeccomp{
			DefaultAction: config.ActAllow,
			Syscalls:      []config.LinuxSyscall{{Names: []string{"read"}, Action: config.ActNotify}},
		}, rterrors.ErrUnsupported},
		{"unknown action", &config.LinuxSeccomp{DefaultAction: "SCMP_ACT_BOGUS"}, rterrors.ErrUnsupported},
		{"argument index", &config.LinuxSeccomp{
			DefaultAction: config.ActAllow,
			Syscalls: []config.LinuxSyscall{{
				Names: []string{"read"}, Action: config.ActKill,
				Args: []config.LinuxSeccompArg{{Index: 6, Op: config.OpEqualTo}},
			}},
		}, rterrors.ErrSeccomp},
		{"operator", &config.LinuxSeccomp{
			DefaultAction: config.ActAllow,
			Syscalls: []config.LinuxSyscall{{
				Names: []string{"read"}, Action: config.ActKill,
				Args: []config.LinuxSeccompArg{{Index: 0, Op: "SCMP_CMP_BOGUS"}},
			}},
		}, rterrors.ErrSeccomp},
		{"too long", &config.LinuxSeccomp{
			DefaultAction: config.ActAllow,
			Syscalls:      []config.LinuxSyscall{{Names: many, Action: config.ActKill}},
		}, rterrors.ErrSeccomp},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileSeccomp(tc.s, discard)
			if !rterrors.IsKind(err, tc.kind) {
				t.Errorf("got %v, want kind %v", err, tc.kind)
			}
		})
	}
}

func TestInstallSeccompNil(t *testing.T) {
	if err := InstallSeccomp(nil, discard); err != nil {
		t.Errorf("InstallSeccomp(nil) = %v", err)
	}
}
