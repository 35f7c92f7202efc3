package linux

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
)

// PrepareRootfs builds the container's filesystem view under rootfs while
// the host root is still visible: the rootfs becomes a mount point, the
// configured mounts are applied in order, then devices are populated. The
// first failing mount aborts the setup.
//
// It must run in the container's mount namespace.
func PrepareRootfs(s *config.Spec, rootfs string, bindDevices bool, logger *slog.Logger) error {
	propagation := uintptr(unix.MS_SLAVE | unix.MS_REC)
	if p := s.Linux.RootfsPropagation; p != "" {
		propagation = p.Flags()
	}
	if err := Mount("", "/", "", propagation, ""); err != nil {
		return err
	}
	if err := rootfsParentMountPrivate(rootfs); err != nil {
		return err
	}
	if err := Mount(rootfs, rootfs, "bind", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return err
	}

	for i := range s.Mounts {
		if err := mountEntry(rootfs, &s.Mounts[i], s.Linux.MountLabel); err != nil {
			return err
		}
		logger.Debug("mounted", "destination", s.Mounts[i].Destination, "type", s.Mounts[i].Type)
	}

	if err := CreateDevices(rootfs, DeviceSet(s.Linux.Devices), bindDevices); err != nil {
		return err
	}
	if err := SetupDevSymlinks(rootfs); err != nil {
		return err
	}
	return SetupDevPts(rootfs, s.Mounts)
}

// FinalizeRootfs switches the process root to rootfs and applies the
// read-only root, propagation, masked and read-only paths.
func FinalizeRootfs(s *config.Spec, rootfs string, noPivot bool) error {
	var err error
	if noPivot {
		err = chrootRoot(rootfs)
	} else {
		err = pivotRoot(rootfs)
	}
	if err != nil {
		return err
	}

	if s.Root.Readonly {
		if err := remountReadonly("/"); err != nil {
			return err
		}
	}
	if p := s.Linux.RootfsPropagation; p != "" {
		if err := Mount("", "/", "", p.Flags(), ""); err != nil {
			return err
		}
	}
	for _, path := range s.Linux.ReadonlyPaths {
		if err := readonlyPath(path); err != nil {
			return err
		}
	}
	for _, path := range s.Linux.MaskedPaths {
		if err := maskPath(path, s.Linux.MountLabel); err != nil {
			return err
		}
	}
	return nil
}

// rootfsParentMountPrivate makes the mount holding rootfs private when it is
// shared, since pivot_root refuses a shared parent.
func rootfsParentMountPrivate(rootfs string) error {
	mounts, err := mountinfo.GetMounts(mountinfo.ParentsFilter(rootfs))
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrRootfs, "mountinfo", rootfs)
	}
	var parent *mountinfo.Info
	for _, m := range mounts {
		if parent == nil || len(m.Mountpoint) > len(parent.Mountpoint) {
			parent = m
		}
	}
	if parent == nil || !strings.Contains(parent.Optional, "shared:") {
		return nil
	}
	return Mount("", parent.Mountpoint, "", unix.MS_PRIVATE, "")
}

func mountEntry(rootfs string, m *config.Mount, mountLabel string) error {
	if len(m.UIDMappings) > 0 || len(m.GIDMappings) > 0 {
		return rterrors.New(rterrors.ErrUnsupported, "mount",
			fmt.Sprintf("id-mapped mount at %s", m.Destination))
	}
	dest, err := securejoin.SecureJoin(rootfs, m.Destination)
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrRootfs, "mount", m.Destination)
	}
	opts := ParseMountOptions(m.Options)

	if m.IsBind() {
		src := m.Source
		if !filepath.IsAbs(src) {
			src = filepath.Join(rootfs, src)
		}
		fi, err := os.Stat(src)
		if err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrMount, "mount", "bind source "+m.Source)
		}
		if err := createMountpoint(dest, fi.IsDir()); err != nil {
			return err
		}
		if err := Mount(src, dest, "bind", opts.Flags&(unix.MS_BIND|unix.MS_REC)|unix.MS_BIND, ""); err != nil {
			return err
		}
		// A bind mount ignores every other flag until remounted.
		if rest := opts.Flags &^ (unix.MS_BIND | unix.MS_REC | unix.MS_REMOUNT); rest != 0 {
			if err := Mount("", dest, "", rest|unix.MS_BIND|unix.MS_REMOUNT, ""); err != nil {
				return err
			}
		}
	} else {
		if err := createMountpoint(dest, true); err != nil {
			return err
		}
		data := opts.Data
		if m.Type != "proc" && m.Type != "sysfs" && m.Type != "cgroup2" {
			data = MountData(data, mountLabel)
		}
		if err := Mount(m.Source, dest, m.Type, opts.Flags, data); err != nil {
			return err
		}
	}

	for _, p := range opts.Propagation {
		if err := Mount("", dest, "", p, ""); err != nil {
			return err
		}
	}
	return nil
}

func createMountpoint(dest string, dir bool) error {
	if dir {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrRootfs, "mkdir", dest)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrRootfs, "mkdir", filepath.Dir(dest))
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrRootfs, "create", dest)
	}
	return f.Close()
}

// pivotRoot uses the pivot_root(".", ".") idiom, which needs no temporary
// directory inside the rootfs.
func pivotRoot(rootfs string) error {
	oldroot, err := unix.Open("/", unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrRootfs, "pivot_root", "open /")
	}
	defer unix.Close(oldroot)
	newroot, err := unix.Open(rootfs, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrRootfs, "pivot_root", "open "+rootfs)
	}
	defer unix.Close(newroot)

	if err := unix.Fchdir(newroot); err != nil {
		return rterrors.Wrap(err, rterrors.ErrRootfs, "pivot_root")
	}
	if err := unix.PivotRoot(".", "."); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrRootfs, "pivot_root", rootfs)
	}
	if err := unix.Fchdir(oldroot); err != nil {
		return rterrors.Wrap(err, rterrors.ErrRootfs, "pivot_root")
	}
	// Keep the unmount of the old root from propagating to the host.
	if err := Mount("", ".", "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return err
	}
	if err := Unmount(".", unix.MNT_DETACH); err != nil {
		return err
	}
	if err := unix.Chdir("/"); err != nil {
		return rterrors.Wrap(err, rterrors.ErrRootfs, "chdir")
	}
	return nil
}

func chrootRoot(rootfs string) error {
	if err := unix.Chdir(rootfs); err != nil {
		return rterrors.Wrap(err, rterrors.ErrRootfs, "chdir")
	}
	if err := unix.Chroot("."); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrRootfs, "chroot", rootfs)
	}
	if err := unix.Chdir("/"); err != nil {
		return rterrors.Wrap(err, rterrors.ErrRootfs, "chdir")
	}
	return nil
}

func remountReadonly(path string) error {
	return Mount("", path, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, "")
}

// maskPath hides path: files are covered with /dev/null, directories with an
// empty read-only tmpfs.
func maskPath(path, mountLabel string) error {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrRootfs, "mask", path)
	}
	if fi.IsDir() {
		return Mount("tmpfs", path, "tmpfs", unix.MS_RDONLY, MountData("", mountLabel))
	}
	return Mount("/dev/null", path, "bind", unix.MS_BIND, "")
}

func readonlyPath(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := Mount(path, path, "bind", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return err
	}
	return Mount(path, path, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|unix.MS_REC, "")
}
