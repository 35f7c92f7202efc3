package config

import (
	"os"

	"golang.org/x/sys/unix"
)

// Default returns a starter configuration for a root-owned container whose
// root filesystem lives in the bundle's "rootfs" directory.
func Default() *Spec {
	caps := defaultCapabilities()
	s := &Spec{
		Version: Version,
		Root: &Root{
			Path:     "rootfs",
			Readonly: true,
		},
		Process: &Process{
			Terminal: true,
			User:     User{UID: 0, GID: 0, AdditionalGids: []uint32{}},
			Args:     []string{"sh"},
			Env: []string{
				"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
				"TERM=xterm",
			},
			Cwd:             "/",
			NoNewPrivileges: true,
			Capabilities: &LinuxCapabilities{
				Bounding:    caps,
				Effective:   caps,
				Permitted:   caps,
				Inheritable: []Capability{},
				Ambient:     []Capability{},
			},
			Rlimits: []POSIXRlimit{
				{Type: unix.RLIMIT_NOFILE, Hard: 1024, Soft: 1024},
			},
		},
		Hostname:    "ocirt",
		Mounts:      defaultMounts(),
		Annotations: map[string]string{},
		Hooks:       &Hooks{},
		Linux: &Linux{
			Resources: &LinuxResources{
				Devices: []LinuxDeviceCgroup{
					{Allow: false, Access: "rwm"},
				},
			},
			Namespaces: Namespaces{
				{Type: PIDNamespace},
				{Type: NetworkNamespace},
				{Type: IPCNamespace},
				{Type: UTSNamespace},
				{Type: MountNamespace},
			},
			MaskedPaths: []string{
				"/proc/acpi",
				"/proc/asound",
				"/proc/kcore",
				"/proc/keys",
				"/proc/latency_stats",
				"/proc/timer_list",
				"/proc/timer_stats",
				"/proc/sched_debug",
				"/proc/scsi",
				"/sys/firmware",
			},
			ReadonlyPaths: []string{
				"/proc/bus",
				"/proc/fs",
				"/proc/irq",
				"/proc/sys",
				"/proc/sysrq-trigger",
			},
		},
	}
	s.fillDefaults()
	return s
}

// Rootless returns a starter configuration for an unprivileged user. The
// calling user is mapped to root inside a new user namespace.
func Rootless() *Spec {
	s := Default()
	s.Linux.Namespaces = Namespaces{
		{Type: PIDNamespace},
		{Type: IPCNamespace},
		{Type: UTSNamespace},
		{Type: MountNamespace},
		{Type: UserNamespace},
	}
	s.Linux.UIDMappings = []LinuxIDMapping{{ContainerID: 0, HostID: uint32(os.Getuid()), Size: 1}}
	s.Linux.GIDMappings = []LinuxIDMapping{{ContainerID: 0, HostID: uint32(os.Getgid()), Size: 1}}
	s.Linux.Resources = &LinuxResources{}

	mounts := s.Mounts[:0]
	for _, m := range s.Mounts {
		switch m.Destination {
		case "/sys":
			m = Mount{
				Destination: "/sys",
				Type:        "none",
				Source:      "/sys",
				Options:     []string{"rbind", "nosuid", "noexec", "nodev", "ro"},
			}
		case "/sys/fs/cgroup":
			continue
		case "/dev/pts":
			m.Options = removeOption(m.Options, "gid=5")
		}
		mounts = append(mounts, m)
	}
	s.Mounts = mounts
	s.fillDefaults()
	return s
}

func defaultMounts() []Mount {
	return []Mount{
		{Destination: "/proc", Type: "proc", Source: "proc"},
		{Destination: "/dev", Type: "tmpfs", Source: "tmpfs",
			Options: []string{"nosuid", "strictatime", "mode=755", "size=65536k"}},
		{Destination: "/dev/pts", Type: "devpts", Source: "devpts",
			Options: []string{"nosuid", "noexec", "newinstance", "ptmxmode=0666", "mode=0620", "gid=5"}},
		{Destination: "/dev/shm", Type: "tmpfs", Source: "shm",
			Options: []string{"nosuid", "noexec", "nodev", "mode=1777", "size=65536k"}},
		{Destination: "/dev/mqueue", Type: "mqueue", Source: "mqueue",
			Options: []string{"nosuid", "noexec", "nodev"}},
		{Destination: "/sys", Type: "sysfs", Source: "sysfs",
			Options: []string{"nosuid", "noexec", "nodev", "ro"}},
		{Destination: "/sys/fs/cgroup", Type: "cgroup2", Source: "cgroup",
			Options: []string{"nosuid", "noexec", "nodev", "relatime", "ro"}},
	}
}

func defaultCapabilities() []Capability {
	return CapabilityList(
		"CAP_AUDIT_WRITE",
		"CAP_KILL",
		"CAP_NET_BIND_SERVICE",
	)
}

func removeOption(opts []string, drop string) []string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		if o != drop {
			out = append(out, o)
		}
	}
	return out
}
