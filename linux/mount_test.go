package linux

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	rterrors "ocirt/errors"
)

func TestParseMountOptions(t *testing.T) {
	tests := []struct {
		name        string
		options     []string
		flags       uintptr
		propagation []uintptr
		data        string
	}{
		{"empty", nil, 0, nil, ""},
		{"flags", []string{"nosuid", "noexec", "nodev"}, unix.MS_NOSUID | unix.MS_NOEXEC | unix.MS_NODEV, nil, ""},
		{"later wins", []string{"ro", "rw"}, 0, nil, ""},
		{"clear then set", []string{"rw", "ro"}, unix.MS_RDONLY, nil, ""},
		{"rbind", []string{"rbind", "ro"}, unix.MS_BIND | unix.MS_REC | unix.MS_RDONLY, nil, ""},
		{"data", []string{"nosuid", "mode=755", "size=65536k"}, unix.MS_NOSUID, nil, "mode=755,size=65536k"},
		{"propagation", []string{"bind", "rprivate"}, unix.MS_BIND, []uintptr{unix.MS_PRIVATE | unix.MS_REC}, ""},
		{"defaults", []string{"defaults"}, 0, nil, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseMountOptions(tc.options)
			if got.Flags != tc.flags {
				t.Errorf("Flags = %#x, want %#x", got.Flags, tc.flags)
			}
			if len(got.Propagation) != len(tc.propagation) {
				t.Fatalf("Propagation = %v, want %v", got.Propagation, tc.propagation)
			}
			for i := range tc.propagation {
				if got.Propagation[i] != tc.propagation[i] {
					t.Errorf("Propagation[%d] = %#x, want %#x", i, got.Propagation[i], tc.propagation[i])
				}
			}
			if got.Data != tc.data {
				t.Errorf("Data = %q, want %q", got.Data, tc.data)
			}
		})
	}
}

func TestMountRejectsNul(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		source, target, fstype, data string
	}{
		{"tmp\x00fs", dir, "tmpfs", ""},
		{"tmpfs", dir + "\x00", "tmpfs", ""},
		{"tmpfs", dir, "tmp\x00fs", ""},
		{"tmpfs", dir, "tmpfs", "size=1\x00"},
	}
	for _, tc := range tests {
		err := Mount(tc.source, tc.target, tc.fstype, 0, tc.data)
		if !rterrors.IsKind(err, rterrors.ErrNulByte) {
			t.Errorf("Mount(%q, %q, %q, %q) = %v, want NulByteInArgument", tc.source, tc.target, tc.fstype, tc.data, err)
		}
	}
}

func TestMountFailureCarriesErrno(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	err := Mount("tmpfs", missing, "tmpfs", 0, "")
	if !rterrors.IsKind(err, rterrors.ErrMount) {
		t.Fatalf("got %v, want MountFailure", err)
	}
	errno, ok := rterrors.Errno(err)
	if !ok {
		t.Fatalf("%v carries no errno", err)
	}
	// Unprivileged callers are refused before the path is resolved.
	if errno != unix.ENOENT && errno != unix.EPERM {
		t.Errorf("errno = %v, want ENOENT or EPERM", errno)
	}
}

func TestMountTmpfs(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires root")
	}
	dir := t.TempDir()
	if err := Mount("tmpfs", dir, "tmpfs", unix.MS_NOSUID, "size=1m"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644); err != nil {
		t.Error(err)
	}
	if err := Unmount(dir, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "f")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file survived unmount: %v", err)
	}
}
