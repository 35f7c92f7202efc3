package linux

import (
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
)

// Offsets into struct seccomp_data.
const (
	offsetNR   = 0
	offsetArch = 4
	offsetArgs = 16
)

// maxJump is the longest conditional jump classic BPF can encode.
const maxJump = 255

var actionRet = map[config.SeccompAction]uint32{
	config.ActKill:        unix.SECCOMP_RET_KILL_THREAD,
	config.ActKillThread:  unix.SECCOMP_RET_KILL_THREAD,
	config.ActKillProcess: unix.SECCOMP_RET_KILL_PROCESS,
	config.ActTrap:        unix.SECCOMP_RET_TRAP,
	config.ActErrno:       unix.SECCOMP_RET_ERRNO,
	config.ActTrace:       unix.SECCOMP_RET_TRACE,
	config.ActAllow:       unix.SECCOMP_RET_ALLOW,
	config.ActLog:         unix.SECCOMP_RET_LOG,
}

var seccompFlagValues = map[config.SeccompFlag]uintptr{
	config.SeccompFlagTsync:     unix.SECCOMP_FILTER_FLAG_TSYNC,
	config.SeccompFlagLog:       unix.SECCOMP_FILTER_FLAG_LOG,
	config.SeccompFlagSpecAllow: unix.SECCOMP_FILTER_FLAG_SPEC_ALLOW,
	config.SeccompFlagWaitKill:  unix.SECCOMP_FILTER_FLAG_WAIT_KILLABLE_RECV,
}

// InstallSeccomp compiles s and loads it into the calling thread. The
// caller must hold CAP_SYS_ADMIN or have set no-new-privileges.
func InstallSeccomp(s *config.LinuxSeccomp, logger *slog.Logger) error {
	if s == nil {
		return nil
	}
	filter, err := CompileSeccomp(s, logger)
	if err != nil {
		return err
	}
	var flags uintptr
	for _, f := range s.Flags {
		flags |= seccompFlagValues[f]
	}
	prog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}
	_, _, errno := unix.RawSyscall(unix.SYS_SECCOMP, unix.SECCOMP_SET_MODE_FILTER, flags,
		uintptr(unsafe.Pointer(&prog)))
	if errno != 0 {
		return rterrors.WrapWithDetail(errno, rterrors.ErrSeccomp, "seccomp", rterrors.ErrSeccompFilter.Detail)
	}
	return nil
}

// CompileSeccomp translates s into a classic BPF program for the native
// architecture. Rules naming syscalls this architecture lacks are skipped
// with a debug log. Listed foreign architectures get the default action,
// unlisted ones are killed.
func CompileSeccomp(s *config.LinuxSeccomp, logger *slog.Logger) ([]unix.SockFilter, error) {
	if nativeArch == "" {
		return nil, rterrors.New(rterrors.ErrUnsupported, "seccomp", "no syscall table for this architecture")
	}
	if s.UsesNotify() {
		return nil, rterrors.New(rterrors.ErrUnsupported, "seccomp", "SCMP_ACT_NOTIFY is not supported")
	}
	defaultRet, err := retValue(s.DefaultAction, s.DefaultErrnoRet)
	if err != nil {
		return nil, err
	}

	foreign := uint32(unix.SECCOMP_RET_KILL_PROCESS)
	for _, a := range s.Architectures {
		if a != nativeArch {
			foreign = defaultRet
		}
	}

	prog := []unix.SockFilter{
		stmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, offsetArch),
		jump(unix.BPF_JMP|unix.BPF_JEQ|unix.BPF_K, nativeAuditArch, 1, 0),
		stmt(unix.BPF_RET|unix.BPF_K, foreign),
	}
	if x32SyscallBit != 0 {
		prog = append(prog,
			stmt(unix.BPF_LD|unix.BPF_W|unix.BPF_ABS, offsetNR),
			jump(unix.BPF_JMP|unix.BPF_JGE|unix.BPF_K, x32SyscallBit, 0, 1),
			stmt(unix.BPF_RET|unix.BPF_K, foreign),
		)
	}

	for _, rule := range s.Syscalls {
		ret, err := retValue(rule.Action, rule.ErrnoRet)
		if err != nil {
			return nil, err
		}
		for _, name := range rule.Names {
			nr, ok := syscallNumbers[name]
			if !ok {
				logger.Debug("seccomp: skipping unknown syscall", "syscall", name)
				continue
			}
			block, err := ruleBlock(uint32(nr), rule.Args, ret)
			if err != nil {
				return nil, rterrors.WrapWithDetail(err, rterrors.ErrSeccomp, "seccomp", name)
			}
			prog = append(prog, block...)
		}
	}
	prog = append(prog, stmt(unix.BPF_RET|unix.BPF_K, defaultRet))

	if len(prog) > unix.BPF_MAXINSNS {
		return nil, rterrors.New(rterrors.ErrSeccomp, "seccomp",
			fmt.Sprintf("filter has %d instructions, limit is %d", len(prog), unix.BPF_MAXINSNS))
	}
	return prog, nil
}

func retValue(action config.SeccompAction, errnoRet *uint) (uint32, error) {
	ret, ok := actionRet[action]
	if !ok {
		return 0, rterrors.New(rterrors.ErrUnsupported, "seccomp", "action "+string(action))
	}
	switch action {
	case config.ActErrno:
		errno := uint32(unix.EPERM)
		if errnoRet != nil {
			errno = uint32(*errnoRet)
		}
		ret |= errno & unix.SECCOMP_RET_DATA
	case config.ActTrace:
		if errnoRet != nil {
			ret |= uint32(*errnoRet) & unix.SECCOMP_RET_DATA
		}
	}
	return ret, nil
}

// Jump targets inside a rule block, resolved once the block is laid out.
const (
	toNext = iota // fall through
	toPass        // end of the current argument check
	toFail        // past the rule's return
)

type insn struct {
	code   uint16
	k      uint32
	jt, jf int
}

// ruleBlock emits:
//
//	ld nr; jeq NR ? next : fail
//	<argument checks, each jumping to fail on mismatch>
//	ret action
//
// Arguments of one rule must all match.
func ruleBlock(nr uint32, args []config.LinuxSeccompArg, ret uint32) ([]unix.SockFilter, error) {
	type part struct {
		insns []insn
	}
	parts := []part{{[]insn{
		{code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, k: offsetNR},
		{code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, k: nr, jt: toNext, jf: toFail},
	}}}
	for _, a := range args {
		insns, err := argCheck(a)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part{insns})
	}

	total := 1
	for _, p := range parts {
		total += len(p.insns)
	}

	out := make([]unix.SockFilter, 0, total)
	for _, p := range parts {
		for i, in := range p.insns {
			pos := len(out)
			jt, err := resolve(in.jt, len(p.insns)-i-1, total-pos-1)
			if err != nil {
				return nil, err
			}
			jf, err := resolve(in.jf, len(p.insns)-i-1, total-pos-1)
			if err != nil {
				return nil, err
			}
			out = append(out, unix.SockFilter{Code: in.code, Jt: jt, Jf: jf, K: in.k})
		}
	}
	return append(out, stmt(unix.BPF_RET|unix.BPF_K, ret)), nil
}

func resolve(target, pass, fail int) (uint8, error) {
	var off int
	switch target {
	case toPass:
		off = pass
	case toFail:
		off = fail
	}
	if off > maxJump {
		return 0, fmt.Errorf("rule too long for a BPF jump (%d)", off)
	}
	return uint8(off), nil
}

// argCheck compares the 64-bit argument as two 32-bit halves, high word
// first. The layout of seccomp_data.args is little-endian on every
// supported architecture.
func argCheck(a config.LinuxSeccompArg) ([]insn, error) {
	if a.Index > 5 {
		return nil, fmt.Errorf("argument index %d out of range", a.Index)
	}
	lo := uint32(offsetArgs + 8*a.Index)
	hi := lo + 4
	vlo, vhi := uint32(a.Value), uint32(a.Value>>32)

	ld := func(off uint32) insn { return insn{code: unix.BPF_LD | unix.BPF_W | unix.BPF_ABS, k: off} }
	j := func(op uint16, k uint32, jt, jf int) insn {
		return insn{code: unix.BPF_JMP | op | unix.BPF_K, k: k, jt: jt, jf: jf}
	}

	switch a.Op {
	case config.OpEqualTo:
		return []insn{
			ld(hi), j(unix.BPF_JEQ, vhi, toNext, toFail),
			ld(lo), j(unix.BPF_JEQ, vlo, toNext, toFail),
		}, nil
	case config.OpNotEqual:
		return []insn{
			ld(hi), j(unix.BPF_JEQ, vhi, toNext, toPass),
			ld(lo), j(unix.BPF_JEQ, vlo, toFail, toPass),
		}, nil
	case config.OpGreaterThan:
		return []insn{
			ld(hi), j(unix.BPF_JGT, vhi, toPass, toNext), j(unix.BPF_JEQ, vhi, toNext, toFail),
			ld(lo), j(unix.BPF_JGT, vlo, toPass, toFail),
		}, nil
	case config.OpGreaterEqual:
		return []insn{
			ld(hi), j(unix.BPF_JGT, vhi, toPass, toNext), j(unix.BPF_JEQ, vhi, toNext, toFail),
			ld(lo), j(unix.BPF_JGE, vlo, toPass, toFail),
		}, nil
	case config.OpLessThan:
		return []insn{
			ld(hi), j(unix.BPF_JGE, vhi, toNext, toPass), j(unix.BPF_JEQ, vhi, toNext, toFail),
			ld(lo), j(unix.BPF_JGE, vlo, toFail, toPass),
		}, nil
	case config.OpLessEqual:
		return []insn{
			ld(hi), j(unix.BPF_JGE, vhi, toNext, toPass), j(unix.BPF_JEQ, vhi, toNext, toFail),
			ld(lo), j(unix.BPF_JGT, vlo, toFail, toPass),
		}, nil
	case config.OpMaskedEqual:
		mlo, mhi := vlo, vhi
		wlo, whi := uint32(a.ValueTwo), uint32(a.ValueTwo>>32)
		and := func(k uint32) insn { return insn{code: unix.BPF_ALU | unix.BPF_AND | unix.BPF_K, k: k} }
		return []insn{
			ld(hi), and(mhi), j(unix.BPF_JEQ, whi, toNext, toFail),
			ld(lo), and(mlo), j(unix.BPF_JEQ, wlo, toNext, toFail),
		}, nil
	}
	return nil, fmt.Errorf("unknown operator %q", a.Op)
}

func stmt(code uint16, k uint32) unix.SockFilter {
	return unix.SockFilter{Code: code, K: k}
}

func jump(code uint16, k uint32, jt, jf uint8) unix.SockFilter {
	return unix.SockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}
