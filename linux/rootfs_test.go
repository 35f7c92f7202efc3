package linux

import (
	"os"
	"path/filepath"
	"testing"

	"ocirt/config"
	rterrors "ocirt/errors"
)

func TestCreateMountpoint(t *testing.T) {
	root := t.TempDir()

	dir := filepath.Join(root, "a", "b")
	if err := createMountpoint(dir, true); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("directory mount point: %v", err)
	}

	file := filepath.Join(root, "etc", "resolv.conf")
	if err := createMountpoint(file, false); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(file); err != nil || !fi.Mode().IsRegular() {
		t.Errorf("file mount point: %v", err)
	}
	// An existing file is reused.
	if err := createMountpoint(file, false); err != nil {
		t.Errorf("second createMountpoint: %v", err)
	}
}

func TestMountEntryIDMappedUnsupported(t *testing.T) {
	m := &config.Mount{
		Destination: "/data",
		Type:        "bind",
		Source:      t.TempDir(),
		UIDMappings: []config.LinuxIDMapping{{ContainerID: 0, HostID: 1000, Size: 1}},
	}
	err := mountEntry(t.TempDir(), m, "")
	if !rterrors.IsKind(err, rterrors.ErrUnsupported) {
		t.Errorf("got %v, want Unsupported", err)
	}
}

func TestMountEntryMissingBindSource(t *testing.T) {
	rootfs := t.TempDir()
	m := &config.Mount{Destination: "/data", Type: "bind", Source: "/nonexistent/source", Options: []string{"rbind"}}
	err := mountEntry(rootfs, m, "")
	if !rterrors.IsKind(err, rterrors.ErrMount) {
		t.Errorf("got %v, want MountFailure", err)
	}
}

func TestMountEntryStaysInRootfs(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires root")
	}
	rootfs := t.TempDir()
	m := &config.Mount{Destination: "/../../escape", Type: "tmpfs", Source: "tmpfs", Options: []string{"size=1m"}}
	if err := mountEntry(rootfs, m, ""); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(rootfs, "escape")
	defer Unmount(target, 0)
	if _, err := os.Stat(target); err != nil {
		t.Errorf("mount point not created inside rootfs: %v", err)
	}
}

func TestMaskAndReadonlyPathsMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	if err := maskPath(missing, ""); err != nil {
		t.Errorf("maskPath on a missing path = %v", err)
	}
	if err := readonlyPath(missing); err != nil {
		t.Errorf("readonlyPath on a missing path = %v", err)
	}
}
