package config

// Capability is a Linux capability, numbered as the kernel numbers it.
type Capability int

// CapUnknown stands in for any capability name outside the vocabulary.
// It is never granted.
const CapUnknown Capability = -1

const capUnknownName = "CAP_UNKNOWN"

// Capabilities is the vocabulary of capability names.
var Capabilities = NewVocabulary("process.capabilities[]",
	Term[Capability]{"CAP_CHOWN", 0},
	Term[Capability]{"CAP_DAC_OVERRIDE", 1},
	Term[Capability]{"CAP_DAC_READ_SEARCH", 2},
	Term[Capability]{"CAP_FOWNER", 3},
	Term[Capability]{"CAP_FSETID", 4},
	Term[Capability]{"CAP_KILL", 5},
	Term[Capability]{"CAP_SETGID", 6},
	Term[Capability]{"CAP_SETUID", 7},
	Term[Capability]{"CAP_SETPCAP", 8},
	Term[Capability]{"CAP_LINUX_IMMUTABLE", 9},
	Term[Capability]{"CAP_NET_BIND_SERVICE", 10},
	Term[Capability]{"CAP_NET_BROADCAST", 11},
	Term[Capability]{"CAP_NET_ADMIN", 12},
	Term[Capability]{"CAP_NET_RAW", 13},
	Term[Capability]{"CAP_IPC_LOCK", 14},
	Term[Capability]{"CAP_IPC_OWNER", 15},
	Term[Capability]{"CAP_SYS_MODULE", 16},
	Term[Capability]{"CAP_SYS_RAWIO", 17},
	Term[Capability]{"CAP_SYS_CHROOT", 18},
	Term[Capability]{"CAP_SYS_PTRACE", 19},
	Term[Capability]{"CAP_SYS_PACCT", 20},
	Term[Capability]{"CAP_SYS_ADMIN", 21},
	Term[Capability]{"CAP_SYS_BOOT", 22},
	Term[Capability]{"CAP_SYS_NICE", 23},
	Term[Capability]{"CAP_SYS_RESOURCE", 24},
	Term[Capability]{"CAP_SYS_TIME", 25},
	Term[Capability]{"CAP_SYS_TTY_CONFIG", 26},
	Term[Capability]{"CAP_MKNOD", 27},
	Term[Capability]{"CAP_LEASE", 28},
	Term[Capability]{"CAP_AUDIT_WRITE", 29},
	Term[Capability]{"CAP_AUDIT_CONTROL", 30},
	Term[Capability]{"CAP_SETFCAP", 31},
	Term[Capability]{"CAP_MAC_OVERRIDE", 32},
	Term[Capability]{"CAP_MAC_ADMIN", 33},
	Term[Capability]{"CAP_SYSLOG", 34},
	Term[Capability]{"CAP_WAKE_ALARM", 35},
	Term[Capability]{"CAP_BLOCK_SUSPEND", 36},
	Term[Capability]{"CAP_AUDIT_READ", 37},
	Term[Capability]{"CAP_PERFMON", 38},
	Term[Capability]{"CAP_BPF", 39},
	Term[Capability]{"CAP_CHECKPOINT_RESTORE", 40},
)

// String returns the capability name.
func (c Capability) String() string {
	if name, ok := Capabilities.Name(c); ok {
		return name
	}
	return capUnknownName
}

// Known reports whether c is in the vocabulary.
func (c Capability) Known() bool {
	_, ok := Capabilities.Name(c)
	return ok
}

// UnmarshalJSON maps names outside the vocabulary to CapUnknown instead of
// failing, so configurations written for newer kernels still parse.
func (c *Capability) UnmarshalJSON(data []byte) error {
	s, err := decodeString(Capabilities.Field(), data)
	if err != nil {
		return err
	}
	v, ok := Capabilities.Lookup(s)
	if !ok {
		v = CapUnknown
	}
	*c = v
	return nil
}

// MarshalJSON writes the capability name.
func (c Capability) MarshalJSON() ([]byte, error) {
	if !c.Known() {
		return []byte(`"` + capUnknownName + `"`), nil
	}
	return Capabilities.encode(c)
}

// LinuxCapabilities specifies the capabilities to keep for the container process.
type LinuxCapabilities struct {
	// Bounding is the set of capabilities checked by the kernel.
	Bounding []Capability `json:"bounding"`

	// Effective is the set of capabilities checked by the kernel for permission checks.
	Effective []Capability `json:"effective"`

	// Inheritable is the set of capabilities preserved across an execve.
	Inheritable []Capability `json:"inheritable"`

	// Permitted is the limiting superset for the effective capabilities.
	Permitted []Capability `json:"permitted"`

	// Ambient is the set of capabilities that are preserved across execve for unprivileged programs.
	Ambient []Capability `json:"ambient"`
}

// Unknown counts the entries that did not name a known capability.
func (c *LinuxCapabilities) Unknown() int {
	n := 0
	for _, set := range [][]Capability{c.Bounding, c.Effective, c.Inheritable, c.Permitted, c.Ambient} {
		for _, cp := range set {
			if !cp.Known() {
				n++
			}
		}
	}
	return n
}

// CapabilityList converts names to capabilities, mapping unknown names to
// CapUnknown.
func CapabilityList(names ...string) []Capability {
	out := make([]Capability, 0, len(names))
	for _, name := range names {
		c, ok := Capabilities.Lookup(name)
		if !ok {
			c = CapUnknown
		}
		out = append(out, c)
	}
	return out
}
