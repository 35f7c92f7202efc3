// Package config is the container configuration model: the OCI config.json
// document parsed into typed, validated and defaulted Go values.
//
// Every enumerated string is checked against a closed Vocabulary while the
// document is decoded. Parsing has no side effects on the host.
package config

import (
	"os"

	"github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// Version is the OCI Runtime Specification version this implementation targets.
var Version = specs.Version

// Spec is the base configuration for the container.
type Spec struct {
	// Version is the OCI Runtime Specification version.
	Version string `json:"ociVersion"`

	Process *Process `json:"process"`
	Root    *Root    `json:"root"`

	Hostname   string `json:"hostname,omitempty"`
	Domainname string `json:"domainname,omitempty"`

	// Mounts are applied in order, on top of Root.
	Mounts []Mount `json:"mounts"`

	Hooks *Hooks `json:"hooks"`

	// Annotations contains arbitrary metadata for the container.
	Annotations map[string]string `json:"annotations"`

	Linux *Linux `json:"linux"`
}

// Process contains information to start a specific application inside the container.
type Process struct {
	// Terminal creates an interactive terminal for the container.
	Terminal bool `json:"terminal"`

	// ConsoleSize specifies the size of the console.
	ConsoleSize *Box `json:"consoleSize,omitempty"`

	User User `json:"user"`

	// Args specifies the binary and arguments for the application to execute.
	Args []string `json:"args"`

	Env []string `json:"env"`

	// Cwd is the current working directory for the process.
	Cwd string `json:"cwd"`

	Capabilities *LinuxCapabilities `json:"capabilities"`
	Rlimits      []POSIXRlimit      `json:"rlimits"`

	NoNewPrivileges bool   `json:"noNewPrivileges"`
	ApparmorProfile string `json:"apparmorProfile,omitempty"`
	OOMScoreAdj     *int   `json:"oomScoreAdj,omitempty"`
	SelinuxLabel    string `json:"selinuxLabel,omitempty"`
}

// Box specifies dimensions of a rectangle (for console size).
type Box struct {
	Height uint `json:"height"`
	Width  uint `json:"width"`
}

// User specifies specific user (and group) information for the container process.
type User struct {
	UID            uint32   `json:"uid"`
	GID            uint32   `json:"gid"`
	Umask          *uint32  `json:"umask,omitempty"`
	AdditionalGids []uint32 `json:"additionalGids"`
}

// Root contains information about the container's root filesystem.
type Root struct {
	// Path is the path to the root filesystem, relative to the bundle or absolute.
	Path string `json:"path"`

	// Readonly remounts the root filesystem read-only before the process is executed.
	Readonly bool `json:"readonly"`
}

// Mount specifies a mount for a container.
type Mount struct {
	// Destination is the absolute path inside the container.
	Destination string `json:"destination"`

	Type   string `json:"type,omitempty"`
	Source string `json:"source,omitempty"`

	// Options are fstab-style mount options.
	Options []string `json:"options"`

	UIDMappings []LinuxIDMapping `json:"uidMappings"`
	GIDMappings []LinuxIDMapping `json:"gidMappings"`
}

// IsBind reports whether the mount is a bind mount.
func (m *Mount) IsBind() bool {
	if m.Type == "bind" {
		return true
	}
	for _, o := range m.Options {
		if o == "bind" || o == "rbind" {
			return true
		}
	}
	return false
}

// Hook specifies a command that is run at a particular event in the container lifecycle.
type Hook struct {
	// Path to the executable; must be absolute.
	Path string `json:"path"`

	// Args including argv[0].
	Args []string `json:"args"`

	// Env is the complete hook environment.
	Env []string `json:"env"`

	// Timeout is the number of seconds before aborting the hook.
	Timeout *int `json:"timeout,omitempty"`
}

// Hooks specifies hooks for container lifecycle events.
type Hooks struct {
	// Prestart is deprecated. Its hooks run with CreateRuntime.
	Prestart []Hook `json:"prestart,omitempty"`

	// CreateRuntime runs in the runtime namespace after the container's
	// mounts are in place and before pivot_root.
	CreateRuntime []Hook `json:"createRuntime"`

	// CreateContainer runs in the container namespaces before pivot_root.
	CreateContainer []Hook `json:"createContainer"`

	// StartContainer runs in the container right before the program is executed.
	StartContainer []Hook `json:"startContainer"`

	// Poststart runs after the program has been started, before start returns.
	Poststart []Hook `json:"poststart"`

	// Poststop runs after the container is deleted but before delete returns.
	Poststop []Hook `json:"poststop"`
}

// Linux contains platform-specific configuration for Linux based containers.
type Linux struct {
	UIDMappings []LinuxIDMapping `json:"uidMappings"`
	GIDMappings []LinuxIDMapping `json:"gidMappings"`

	// Sysctl are kernel parameters to set in the container.
	Sysctl map[string]string `json:"sysctl"`

	Resources *LinuxResources `json:"resources"`

	// CgroupsPath is the cgroup v2 path of the container, relative to the
	// unified hierarchy root.
	CgroupsPath string `json:"cgroupsPath,omitempty"`

	Namespaces Namespaces    `json:"namespaces"`
	Devices    []LinuxDevice `json:"devices"`

	Seccomp *LinuxSeccomp `json:"seccomp,omitempty"`

	RootfsPropagation Propagation `json:"rootfsPropagation,omitempty"`

	MaskedPaths   []string `json:"maskedPaths"`
	ReadonlyPaths []string `json:"readonlyPaths"`

	// MountLabel specifies the selinux context for the container's mounts.
	MountLabel string `json:"mountLabel,omitempty"`

	Personality *LinuxPersonality `json:"personality,omitempty"`
}

// LinuxIDMapping specifies UID/GID mappings.
type LinuxIDMapping struct {
	ContainerID uint32 `json:"containerID"`
	HostID      uint32 `json:"hostID"`
	Size        uint32 `json:"size"`
}

// Propagation is a mount propagation mode.
type Propagation string

// Propagation modes. The r-prefixed forms apply recursively.
const (
	PropagationShared      Propagation = "shared"
	PropagationSlave       Propagation = "slave"
	PropagationPrivate     Propagation = "private"
	PropagationUnbindable  Propagation = "unbindable"
	PropagationRShared     Propagation = "rshared"
	PropagationRSlave      Propagation = "rslave"
	PropagationRPrivate    Propagation = "rprivate"
	PropagationRUnbindable Propagation = "runbindable"
)

// Propagations is the vocabulary for linux.rootfsPropagation.
var Propagations = stringVocabulary[Propagation]("linux.rootfsPropagation",
	PropagationShared, PropagationSlave, PropagationPrivate, PropagationUnbindable,
	PropagationRShared, PropagationRSlave, PropagationRPrivate, PropagationRUnbindable,
)

func (p *Propagation) UnmarshalJSON(data []byte) error {
	return Propagations.decode(data, p)
}

// Flags returns the mount(2) flags applying this propagation.
func (p Propagation) Flags() uintptr {
	switch p {
	case PropagationShared:
		return unix.MS_SHARED
	case PropagationSlave:
		return unix.MS_SLAVE
	case PropagationPrivate:
		return unix.MS_PRIVATE
	case PropagationUnbindable:
		return unix.MS_UNBINDABLE
	case PropagationRShared:
		return unix.MS_SHARED | unix.MS_REC
	case PropagationRSlave:
		return unix.MS_SLAVE | unix.MS_REC
	case PropagationRPrivate:
		return unix.MS_PRIVATE | unix.MS_REC
	case PropagationRUnbindable:
		return unix.MS_UNBINDABLE | unix.MS_REC
	}
	return 0
}

// LinuxPersonality specifies the Linux personality to set.
type LinuxPersonality struct {
	Domain PersonalityDomain `json:"domain"`
	Flags  []string          `json:"flags"`
}

// PersonalityDomain is the execution domain passed to personality(2).
type PersonalityDomain string

// Personality domains.
const (
	PerLinux   PersonalityDomain = "LINUX"
	PerLinux32 PersonalityDomain = "LINUX32"
)

// PersonalityDomains is the vocabulary for linux.personality.domain.
var PersonalityDomains = stringVocabulary[PersonalityDomain]("linux.personality.domain",
	PerLinux, PerLinux32,
)

func (d *PersonalityDomain) UnmarshalJSON(data []byte) error {
	return PersonalityDomains.decode(data, d)
}

// Value returns the persona number.
func (d PersonalityDomain) Value() int {
	if d == PerLinux32 {
		return 0x0008 // PER_LINUX32
	}
	return 0 // PER_LINUX
}

// Save writes s to path as indented JSON.
func (s *Spec) Save(path string) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// UserNamespaced reports whether the container gets or joins a user namespace.
func (s *Spec) UserNamespaced() bool {
	return s.Linux != nil && s.Linux.Namespaces.Has(UserNamespace)
}
