package linux

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
)

// CheckJoins rejects namespace joins the runtime cannot perform. Joining a
// user namespace requires a single-threaded caller, which a Go process
// never is.
func CheckJoins(nss config.Namespaces) error {
	for _, ns := range nss.Joins() {
		if ns.Type == config.UserNamespace {
			return rterrors.New(rterrors.ErrInvalidValue, "setns",
				"joining an existing user namespace is not supported by a multithreaded runtime")
		}
		if err := rterrors.CheckNul("setns", string(ns.Type)+" path", ns.Path); err != nil {
			return err
		}
	}
	return nil
}

// JoinNamespaces enters every namespace in nss that names a path, except the
// PID namespace, which only affects children and is joined by the spawner.
// It must run on a locked OS thread before any other setup.
func JoinNamespaces(nss config.Namespaces) error {
	for _, ns := range nss.Joins() {
		if ns.Type == config.PIDNamespace {
			continue
		}
		if err := JoinNamespace(ns); err != nil {
			return err
		}
	}
	return nil
}

// JoinNamespace moves the calling thread into the namespace at ns.Path.
func JoinNamespace(ns config.LinuxNamespace) error {
	if ns.Type == config.UserNamespace {
		return CheckJoins(config.Namespaces{ns})
	}
	if err := rterrors.CheckNul("setns", string(ns.Type)+" path", ns.Path); err != nil {
		return err
	}

	// A thread sharing its filesystem attributes with others may not
	// change mount namespace.
	if ns.Type == config.MountNamespace {
		if err := unix.Unshare(unix.CLONE_FS); err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrNamespace, "unshare", "CLONE_FS")
		}
	}

	fd, err := unix.Open(ns.Path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrNamespace, "setns",
			fmt.Sprintf("open %s namespace %s", ns.Type, ns.Path))
	}
	defer unix.Close(fd)

	if err := unix.Setns(fd, int(ns.Type.CloneFlag())); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrNamespace, "setns",
			fmt.Sprintf("%s namespace %s", ns.Type, ns.Path))
	}
	return nil
}

// IDMappings converts configured ID mappings to the form os/exec writes to
// /proc/<pid>/{uid,gid}_map.
func IDMappings(mappings []config.LinuxIDMapping) []syscall.SysProcIDMap {
	result := make([]syscall.SysProcIDMap, len(mappings))
	for i, m := range mappings {
		result[i] = syscall.SysProcIDMap{
			ContainerID: int(m.ContainerID),
			HostID:      int(m.HostID),
			Size:        int(m.Size),
		}
	}
	return result
}

// SameNamespace reports whether two processes share the namespace of type t.
func SameNamespace(a, b Pid, t config.LinuxNamespaceType) (bool, error) {
	ida, err := a.NamespaceID(t)
	if err != nil {
		return false, err
	}
	idb, err := b.NamespaceID(t)
	if err != nil {
		return false, err
	}
	return ida == idb, nil
}

// SetHostname sets the hostname in the UTS namespace.
func SetHostname(hostname string) error {
	if hostname == "" {
		return nil
	}
	if err := unix.Sethostname([]byte(hostname)); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrNamespace, "sethostname", hostname)
	}
	return nil
}

// SetDomainname sets the domain name in the UTS namespace.
func SetDomainname(domainname string) error {
	if domainname == "" {
		return nil
	}
	if err := unix.Setdomainname([]byte(domainname)); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrNamespace, "setdomainname", domainname)
	}
	return nil
}

// WriteSysctl sets kernel parameters through /proc/sys. Keys use dots, as in
// "net.ipv4.ip_forward".
func WriteSysctl(sysctl map[string]string) error {
	for key, value := range sysctl {
		path := "/proc/sys/" + strings.ReplaceAll(key, ".", "/")
		if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrNamespace, "sysctl", key)
		}
	}
	return nil
}
