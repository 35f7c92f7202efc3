package config

import (
	"golang.org/x/sys/unix"

	rterrors "ocirt/errors"
)

// LinuxNamespaceType is one of the Linux namespaces.
type LinuxNamespaceType string

// Namespace types.
const (
	PIDNamespace     LinuxNamespaceType = "pid"
	NetworkNamespace LinuxNamespaceType = "network"
	MountNamespace   LinuxNamespaceType = "mount"
	IPCNamespace     LinuxNamespaceType = "ipc"
	UTSNamespace     LinuxNamespaceType = "uts"
	UserNamespace    LinuxNamespaceType = "user"
	CgroupNamespace  LinuxNamespaceType = "cgroup"
)

// timeNamespace is recognised but cannot be requested.
const timeNamespace = "time"

// NamespaceTypes is the vocabulary for linux.namespaces[].type.
var NamespaceTypes = NewVocabulary("linux.namespaces[].type",
	Term[LinuxNamespaceType]{"pid", PIDNamespace},
	Term[LinuxNamespaceType]{"network", NetworkNamespace},
	Term[LinuxNamespaceType]{"net", NetworkNamespace},
	Term[LinuxNamespaceType]{"mount", MountNamespace},
	Term[LinuxNamespaceType]{"ipc", IPCNamespace},
	Term[LinuxNamespaceType]{"uts", UTSNamespace},
	Term[LinuxNamespaceType]{"user", UserNamespace},
	Term[LinuxNamespaceType]{"cgroup", CgroupNamespace},
)

var cloneFlags = map[LinuxNamespaceType]uintptr{
	PIDNamespace:     unix.CLONE_NEWPID,
	NetworkNamespace: unix.CLONE_NEWNET,
	MountNamespace:   unix.CLONE_NEWNS,
	IPCNamespace:     unix.CLONE_NEWIPC,
	UTSNamespace:     unix.CLONE_NEWUTS,
	UserNamespace:    unix.CLONE_NEWUSER,
	CgroupNamespace:  unix.CLONE_NEWCGROUP,
}

// procNames maps a namespace type to its entry under /proc/<pid>/ns.
var procNames = map[LinuxNamespaceType]string{
	PIDNamespace:     "pid",
	NetworkNamespace: "net",
	MountNamespace:   "mnt",
	IPCNamespace:     "ipc",
	UTSNamespace:     "uts",
	UserNamespace:    "user",
	CgroupNamespace:  "cgroup",
}

// CloneFlag returns the clone(2) flag creating a namespace of this type.
func (t LinuxNamespaceType) CloneFlag() uintptr {
	return cloneFlags[t]
}

// ProcName returns the file name of this namespace under /proc/<pid>/ns.
func (t LinuxNamespaceType) ProcName() string {
	return procNames[t]
}

// UnmarshalJSON accepts only the namespace vocabulary. "time" is reported as
// unsupported rather than unknown.
func (t *LinuxNamespaceType) UnmarshalJSON(data []byte) error {
	s, err := decodeString(NamespaceTypes.Field(), data)
	if err != nil {
		return err
	}
	if s == timeNamespace {
		return rterrors.Unsupported(NamespaceTypes.Field(), s,
			"time namespaces cannot be created by this runtime")
	}
	v, err := NamespaceTypes.Parse(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalJSON writes the canonical spelling.
func (t LinuxNamespaceType) MarshalJSON() ([]byte, error) {
	return NamespaceTypes.encode(t)
}

// LinuxNamespace is the configuration for a Linux namespace.
type LinuxNamespace struct {
	// Type is the type of namespace.
	Type LinuxNamespaceType `json:"type"`

	// Path is a path to an existing namespace to join.
	Path string `json:"path,omitempty"`
}

// Namespaces is an ordered list of namespace requests.
type Namespaces []LinuxNamespace

// Has reports whether a namespace of type t is requested, new or joined.
func (n Namespaces) Has(t LinuxNamespaceType) bool {
	_, ok := n.Get(t)
	return ok
}

// Get returns the request for namespace type t.
func (n Namespaces) Get(t LinuxNamespaceType) (LinuxNamespace, bool) {
	for _, ns := range n {
		if ns.Type == t {
			return ns, true
		}
	}
	return LinuxNamespace{}, false
}

// CloneFlags returns the union of clone flags for every namespace that is
// created fresh. Joined namespaces contribute nothing.
func (n Namespaces) CloneFlags() uintptr {
	var flags uintptr
	for _, ns := range n {
		if ns.Path == "" {
			flags |= ns.Type.CloneFlag()
		}
	}
	return flags
}

// Joins returns the namespaces entered by path, in configuration order.
func (n Namespaces) Joins() []LinuxNamespace {
	var out []LinuxNamespace
	for _, ns := range n {
		if ns.Path != "" {
			out = append(out, ns)
		}
	}
	return out
}
