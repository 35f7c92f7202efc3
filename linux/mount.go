package linux

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	rterrors "ocirt/errors"
)

// Mount attaches source at target. It is the only place mount(2) is called;
// a failure is a MountFailure carrying the kernel errno.
func Mount(source, target, fstype string, flags uintptr, data string) error {
	for _, s := range [...]struct{ field, value string }{
		{"source", source}, {"target", target}, {"fstype", fstype}, {"data", data},
	} {
		if err := rterrors.CheckNul("mount", s.field, s.value); err != nil {
			return err
		}
	}
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return &rterrors.ContainerError{
			Op:     "mount",
			Kind:   rterrors.ErrMount,
			Detail: fmt.Sprintf("mount %q on %q (type %q, flags %#x)", source, target, fstype, flags),
			Err:    err,
		}
	}
	return nil
}

// Unmount detaches the mount at target.
func Unmount(target string, flags int) error {
	if err := rterrors.CheckNul("umount", "target", target); err != nil {
		return err
	}
	if err := unix.Unmount(target, flags); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrMount, "umount", target)
	}
	return nil
}

type mountFlag struct {
	clear bool
	flag  uintptr
}

// mountFlags maps fstab-style options to mount(2) flags. Propagation options
// are not listed; they need a separate mount call.
var mountFlags = map[string]mountFlag{
	"acl":           {false, unix.MS_POSIXACL},
	"async":         {true, unix.MS_SYNCHRONOUS},
	"atime":         {true, unix.MS_NOATIME},
	"bind":          {false, unix.MS_BIND},
	"defaults":      {false, 0},
	"dev":           {true, unix.MS_NODEV},
	"diratime":      {true, unix.MS_NODIRATIME},
	"dirsync":       {false, unix.MS_DIRSYNC},
	"exec":          {true, unix.MS_NOEXEC},
	"iversion":      {false, unix.MS_I_VERSION},
	"lazytime":      {false, unix.MS_LAZYTIME},
	"loud":          {true, unix.MS_SILENT},
	"mand":          {false, unix.MS_MANDLOCK},
	"noacl":         {true, unix.MS_POSIXACL},
	"noatime":       {false, unix.MS_NOATIME},
	"nodev":         {false, unix.MS_NODEV},
	"nodiratime":    {false, unix.MS_NODIRATIME},
	"noexec":        {false, unix.MS_NOEXEC},
	"noiversion":    {true, unix.MS_I_VERSION},
	"nolazytime":    {true, unix.MS_LAZYTIME},
	"nomand":        {true, unix.MS_MANDLOCK},
	"norelatime":    {true, unix.MS_RELATIME},
	"nostrictatime": {true, unix.MS_STRICTATIME},
	"nosuid":        {false, unix.MS_NOSUID},
	"rbind":         {false, unix.MS_BIND | unix.MS_REC},
	"relatime":      {false, unix.MS_RELATIME},
	"remount":       {false, unix.MS_REMOUNT},
	"ro":            {false, unix.MS_RDONLY},
	"rw":            {true, unix.MS_RDONLY},
	"silent":        {false, unix.MS_SILENT},
	"strictatime":   {false, unix.MS_STRICTATIME},
	"suid":          {true, unix.MS_NOSUID},
	"sync":          {false, unix.MS_SYNCHRONOUS},
}

var propagationFlags = map[string]uintptr{
	"private":     unix.MS_PRIVATE,
	"rprivate":    unix.MS_PRIVATE | unix.MS_REC,
	"shared":      unix.MS_SHARED,
	"rshared":     unix.MS_SHARED | unix.MS_REC,
	"slave":       unix.MS_SLAVE,
	"rslave":      unix.MS_SLAVE | unix.MS_REC,
	"unbindable":  unix.MS_UNBINDABLE,
	"runbindable": unix.MS_UNBINDABLE | unix.MS_REC,
}

// MountOptions is the resolved form of a mount's option list.
type MountOptions struct {
	Flags       uintptr
	Propagation []uintptr
	Data        string
}

// ParseMountOptions splits fstab-style options into mount flags, propagation
// changes and the filesystem data string. Later options override earlier
// ones, so "ro,rw" is read-write.
func ParseMountOptions(options []string) MountOptions {
	var (
		mo   MountOptions
		data []string
	)
	for _, o := range options {
		if f, ok := mountFlags[o]; ok {
			if f.clear {
				mo.Flags &^= f.flag
			} else {
				mo.Flags |= f.flag
			}
			continue
		}
		if p, ok := propagationFlags[o]; ok {
			mo.Propagation = append(mo.Propagation, p)
			continue
		}
		data = append(data, o)
	}
	mo.Data = strings.Join(data, ",")
	return mo
}
