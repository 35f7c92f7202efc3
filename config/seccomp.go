package config

// LinuxSeccomp represents syscall filtering configuration.
type LinuxSeccomp struct {
	// DefaultAction is the default action when no rules match.
	DefaultAction SeccompAction `json:"defaultAction"`

	// DefaultErrnoRet is the errno returned by an SCMP_ACT_ERRNO default action.
	DefaultErrnoRet *uint `json:"defaultErrnoRet,omitempty"`

	// Architectures specifies the architectures this configuration applies to.
	Architectures []Arch `json:"architectures"`

	// Flags are passed to seccomp(2) when the filter is loaded.
	Flags []SeccompFlag `json:"flags"`

	// ListenerPath is a unix socket receiving the notify descriptor.
	ListenerPath string `json:"listenerPath,omitempty"`

	// ListenerMetadata is opaque data passed to the seccomp agent.
	ListenerMetadata string `json:"listenerMetadata,omitempty"`

	// Syscalls specifies syscall filtering rules.
	Syscalls []LinuxSyscall `json:"syscalls"`
}

// LinuxSyscall specifies a syscall filter rule.
type LinuxSyscall struct {
	// Names specifies the names of the syscalls.
	Names []string `json:"names"`

	// Action is the action to take when the syscall is matched.
	Action SeccompAction `json:"action"`

	// ErrnoRet is the errno return value when action is SCMP_ACT_ERRNO.
	ErrnoRet *uint `json:"errnoRet,omitempty"`

	// Args specifies conditions on syscall arguments. All must match.
	Args []LinuxSeccompArg `json:"args"`
}

// LinuxSeccompArg specifies a condition on a syscall argument.
type LinuxSeccompArg struct {
	// Index is the argument index (0-5).
	Index uint `json:"index"`

	// Value is the value to compare against.
	Value uint64 `json:"value"`

	// ValueTwo is the second operand; for SCMP_CMP_MASKED_EQ Value is the
	// mask and ValueTwo the expected result.
	ValueTwo uint64 `json:"valueTwo,omitempty"`

	// Op is the comparison operator.
	Op SeccompOperator `json:"op"`
}

// UsesNotify reports whether any action hands syscalls to a listener.
func (s *LinuxSeccomp) UsesNotify() bool {
	if s.DefaultAction == ActNotify {
		return true
	}
	for _, sc := range s.Syscalls {
		if sc.Action == ActNotify {
			return true
		}
	}
	return false
}

// SeccompAction is the action to take when a syscall matches.
type SeccompAction string

// Seccomp actions.
const (
	ActKill        SeccompAction = "SCMP_ACT_KILL"
	ActKillProcess SeccompAction = "SCMP_ACT_KILL_PROCESS"
	ActKillThread  SeccompAction = "SCMP_ACT_KILL_THREAD"
	ActTrap        SeccompAction = "SCMP_ACT_TRAP"
	ActErrno       SeccompAction = "SCMP_ACT_ERRNO"
	ActTrace       SeccompAction = "SCMP_ACT_TRACE"
	ActAllow       SeccompAction = "SCMP_ACT_ALLOW"
	ActLog         SeccompAction = "SCMP_ACT_LOG"
	ActNotify      SeccompAction = "SCMP_ACT_NOTIFY"
)

// SeccompActions is the vocabulary for seccomp actions.
var SeccompActions = stringVocabulary[SeccompAction]("linux.seccomp action",
	ActKill, ActKillProcess, ActKillThread, ActTrap, ActErrno,
	ActTrace, ActAllow, ActLog, ActNotify,
)

func (a *SeccompAction) UnmarshalJSON(data []byte) error {
	return SeccompActions.decode(data, a)
}

// Arch is a seccomp architecture token.
type Arch string

// Architecture types.
const (
	ArchX86         Arch = "SCMP_ARCH_X86"
	ArchX86_64      Arch = "SCMP_ARCH_X86_64"
	ArchX32         Arch = "SCMP_ARCH_X32"
	ArchARM         Arch = "SCMP_ARCH_ARM"
	ArchAARCH64     Arch = "SCMP_ARCH_AARCH64"
	ArchMIPS        Arch = "SCMP_ARCH_MIPS"
	ArchMIPS64      Arch = "SCMP_ARCH_MIPS64"
	ArchMIPS64N32   Arch = "SCMP_ARCH_MIPS64N32"
	ArchMIPSEL      Arch = "SCMP_ARCH_MIPSEL"
	ArchMIPSEL64    Arch = "SCMP_ARCH_MIPSEL64"
	ArchMIPSEL64N32 Arch = "SCMP_ARCH_MIPSEL64N32"
	ArchPPC         Arch = "SCMP_ARCH_PPC"
	ArchPPC64       Arch = "SCMP_ARCH_PPC64"
	ArchPPC64LE     Arch = "SCMP_ARCH_PPC64LE"
	ArchS390        Arch = "SCMP_ARCH_S390"
	ArchS390X       Arch = "SCMP_ARCH_S390X"
	ArchPARISC      Arch = "SCMP_ARCH_PARISC"
	ArchPARISC64    Arch = "SCMP_ARCH_PARISC64"
	ArchRISCV64     Arch = "SCMP_ARCH_RISCV64"
)

// Architectures is the vocabulary for linux.seccomp.architectures.
var Architectures = stringVocabulary[Arch]("linux.seccomp.architectures[]",
	ArchX86, ArchX86_64, ArchX32, ArchARM, ArchAARCH64,
	ArchMIPS, ArchMIPS64, ArchMIPS64N32, ArchMIPSEL, ArchMIPSEL64, ArchMIPSEL64N32,
	ArchPPC, ArchPPC64, ArchPPC64LE, ArchS390, ArchS390X,
	ArchPARISC, ArchPARISC64, ArchRISCV64,
)

func (a *Arch) UnmarshalJSON(data []byte) error {
	return Architectures.decode(data, a)
}

// SeccompOperator is the comparison operator for seccomp argument checks.
type SeccompOperator string

// Seccomp operators.
const (
	OpNotEqual     SeccompOperator = "SCMP_CMP_NE"
	OpLessThan     SeccompOperator = "SCMP_CMP_LT"
	OpLessEqual    SeccompOperator = "SCMP_CMP_LE"
	OpEqualTo      SeccompOperator = "SCMP_CMP_EQ"
	OpGreaterEqual SeccompOperator = "SCMP_CMP_GE"
	OpGreaterThan  SeccompOperator = "SCMP_CMP_GT"
	OpMaskedEqual  SeccompOperator = "SCMP_CMP_MASKED_EQ"
)

// SeccompOperators is the vocabulary for seccomp argument operators.
var SeccompOperators = stringVocabulary[SeccompOperator]("linux.seccomp.syscalls[].args[].op",
	OpNotEqual, OpLessThan, OpLessEqual, OpEqualTo,
	OpGreaterEqual, OpGreaterThan, OpMaskedEqual,
)

func (o *SeccompOperator) UnmarshalJSON(data []byte) error {
	return SeccompOperators.decode(data, o)
}

// SeccompFlag is a flag passed to seccomp(2).
type SeccompFlag string

// Seccomp flags.
const (
	SeccompFlagTsync     SeccompFlag = "SECCOMP_FILTER_FLAG_TSYNC"
	SeccompFlagLog       SeccompFlag = "SECCOMP_FILTER_FLAG_LOG"
	SeccompFlagSpecAllow SeccompFlag = "SECCOMP_FILTER_FLAG_SPEC_ALLOW"
	SeccompFlagWaitKill  SeccompFlag = "SECCOMP_FILTER_FLAG_WAIT_KILLABLE_RECV"
)

// SeccompFlags is the vocabulary for linux.seccomp.flags.
var SeccompFlags = stringVocabulary[SeccompFlag]("linux.seccomp.flags[]",
	SeccompFlagTsync, SeccompFlagLog, SeccompFlagSpecAllow, SeccompFlagWaitKill,
)

func (f *SeccompFlag) UnmarshalJSON(data []byte) error {
	return SeccompFlags.decode(data, f)
}

// stringVocabulary builds a vocabulary whose values spell themselves.
func stringVocabulary[T ~string](field string, values ...T) *Vocabulary[T] {
	terms := make([]Term[T], 0, len(values))
	for _, v := range values {
		terms = append(terms, Term[T]{Name: string(v), Value: v})
	}
	return NewVocabulary(field, terms...)
}
