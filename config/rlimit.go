package config

import "golang.org/x/sys/unix"

// RlimitType is a kernel resource limit, valued as its RLIMIT_* number.
type RlimitType int

// RlimitTypes is the vocabulary for process.rlimits[].type.
var RlimitTypes = NewVocabulary("process.rlimits[].type",
	Term[RlimitType]{"RLIMIT_CPU", unix.RLIMIT_CPU},
	Term[RlimitType]{"RLIMIT_FSIZE", unix.RLIMIT_FSIZE},
	Term[RlimitType]{"RLIMIT_DATA", unix.RLIMIT_DATA},
	Term[RlimitType]{"RLIMIT_STACK", unix.RLIMIT_STACK},
	Term[RlimitType]{"RLIMIT_CORE", unix.RLIMIT_CORE},
	Term[RlimitType]{"RLIMIT_RSS", unix.RLIMIT_RSS},
	Term[RlimitType]{"RLIMIT_NPROC", unix.RLIMIT_NPROC},
	Term[RlimitType]{"RLIMIT_NOFILE", unix.RLIMIT_NOFILE},
	Term[RlimitType]{"RLIMIT_MEMLOCK", unix.RLIMIT_MEMLOCK},
	Term[RlimitType]{"RLIMIT_AS", unix.RLIMIT_AS},
	Term[RlimitType]{"RLIMIT_LOCKS", unix.RLIMIT_LOCKS},
	Term[RlimitType]{"RLIMIT_SIGPENDING", unix.RLIMIT_SIGPENDING},
	Term[RlimitType]{"RLIMIT_MSGQUEUE", unix.RLIMIT_MSGQUEUE},
	Term[RlimitType]{"RLIMIT_NICE", unix.RLIMIT_NICE},
	Term[RlimitType]{"RLIMIT_RTPRIO", unix.RLIMIT_RTPRIO},
	Term[RlimitType]{"RLIMIT_RTTIME", unix.RLIMIT_RTTIME},
)

func (t RlimitType) String() string {
	name, _ := RlimitTypes.Name(t)
	return name
}

// UnmarshalJSON rejects names outside the vocabulary.
func (t *RlimitType) UnmarshalJSON(data []byte) error {
	return RlimitTypes.decode(data, t)
}

// MarshalJSON writes the RLIMIT_* name.
func (t RlimitType) MarshalJSON() ([]byte, error) {
	return RlimitTypes.encode(t)
}

// POSIXRlimit type and target details for rlimit.
type POSIXRlimit struct {
	// Type is the type of the rlimit.
	Type RlimitType `json:"type"`

	// Hard is the hard limit for the specified type.
	Hard uint64 `json:"hard"`

	// Soft is the soft limit for the specified type.
	Soft uint64 `json:"soft"`
}
