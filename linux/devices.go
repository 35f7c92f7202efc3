package linux

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
)

// validateDevicePath ensures a device path names a node under /dev.
func validateDevicePath(path string) error {
	cleaned := filepath.Clean(path)
	if !strings.HasPrefix(cleaned, "/dev/") {
		return rterrors.WrapWithDetail(rterrors.ErrInvalidDevicePath, rterrors.ErrDevice, "device",
			fmt.Sprintf("device path %q must be under /dev", path))
	}
	if strings.Contains(path, "..") {
		return rterrors.WrapWithDetail(rterrors.ErrPathTraversal, rterrors.ErrDevice, "device",
			fmt.Sprintf("device path %q contains path traversal", path))
	}
	return nil
}

// DeviceSet merges the default devices with the configured ones. A
// configured device replaces a default one at the same path.
func DeviceSet(configured []config.LinuxDevice) []config.LinuxDevice {
	seen := make(map[string]bool, len(configured))
	for _, d := range configured {
		seen[filepath.Clean(d.Path)] = true
	}
	out := make([]config.LinuxDevice, 0, len(config.DefaultDevices)+len(configured))
	for _, d := range config.DefaultDevices {
		if !seen[d.Path] {
			out = append(out, d)
		}
	}
	return append(out, configured...)
}

// CreateDevices creates the device nodes under rootfs. With bind set the
// host nodes are bind mounted instead, which is what works inside a user
// namespace where mknod is refused.
func CreateDevices(rootfs string, devices []config.LinuxDevice, bind bool) error {
	for _, dev := range devices {
		if err := validateDevicePath(dev.Path); err != nil {
			return err
		}
		path, err := securejoin.SecureJoin(rootfs, dev.Path)
		if err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrDevice, "device", dev.Path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrDevice, "device", "mkdir "+filepath.Dir(path))
		}

		if bind {
			err = bindDevice(path, dev)
		} else {
			err = mknodDevice(path, dev)
			if errors.Is(err, unix.EPERM) {
				err = bindDevice(path, dev)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func mknodDevice(path string, dev config.LinuxDevice) error {
	_ = os.Remove(path)
	mode := dev.Type.Mode() | uint32(dev.Perm())
	if err := unix.Mknod(path, mode, int(dev.Rdev())); err != nil {
		return &rterrors.ContainerError{
			Op:     "mknod",
			Kind:   rterrors.ErrDevice,
			Detail: fmt.Sprintf("%s (%s %d:%d)", dev.Path, dev.Type, dev.Major, dev.Minor),
			Err:    err,
		}
	}
	// mknod is subject to the umask.
	if err := unix.Chmod(path, uint32(dev.Perm())); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrDevice, "chmod", dev.Path)
	}

	uid, gid := 0, 0
	if dev.UID != nil {
		uid = int(*dev.UID)
	}
	if dev.GID != nil {
		gid = int(*dev.GID)
	}
	if err := unix.Chown(path, uid, gid); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrDevice, "chown", dev.Path)
	}
	return nil
}

func bindDevice(path string, dev config.LinuxDevice) error {
	if _, err := os.Stat(dev.Path); err != nil {
		// Nothing to bind from.
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrDevice, "device", "create "+path)
	}
	f.Close()
	return Mount(dev.Path, path, "bind", unix.MS_BIND, "")
}

// SetupDevSymlinks creates the standard /dev symlinks under rootfs.
func SetupDevSymlinks(rootfs string) error {
	links := [][2]string{
		{"/proc/self/fd", "dev/fd"},
		{"/proc/self/fd/0", "dev/stdin"},
		{"/proc/self/fd/1", "dev/stdout"},
		{"/proc/self/fd/2", "dev/stderr"},
		{"/proc/kcore", "dev/core"},
		{"pts/ptmx", "dev/ptmx"},
	}
	for _, l := range links {
		dst := filepath.Join(rootfs, l[1])
		if err := os.Symlink(l[0], dst); err != nil && !os.IsExist(err) {
			return rterrors.WrapWithDetail(err, rterrors.ErrDevice, "symlink", dst)
		}
	}
	return nil
}

// SetupDevPts mounts a private devpts instance at rootfs/dev/pts unless the
// configuration already mounts one.
func SetupDevPts(rootfs string, mounts []config.Mount) error {
	for _, m := range mounts {
		if filepath.Clean(m.Destination) == "/dev/pts" {
			return nil
		}
	}
	pts := filepath.Join(rootfs, "dev", "pts")
	if err := os.MkdirAll(pts, 0o755); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrDevice, "devpts", "mkdir "+pts)
	}
	return Mount("devpts", pts, "devpts", unix.MS_NOSUID|unix.MS_NOEXEC,
		"newinstance,ptmxmode=0666,mode=0620")
}
