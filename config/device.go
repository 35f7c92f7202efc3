package config

import (
	"os"

	"golang.org/x/sys/unix"
)

// DeviceType is the kind of a device node.
type DeviceType string

// Device kinds.
const (
	CharDevice       DeviceType = "c"
	BlockDevice      DeviceType = "b"
	UnbufferedDevice DeviceType = "u"
	FifoDevice       DeviceType = "p"
)

// DeviceTypes is the vocabulary for linux.devices[].type.
var DeviceTypes = stringVocabulary[DeviceType]("linux.devices[].type",
	CharDevice, BlockDevice, UnbufferedDevice, FifoDevice,
)

func (t *DeviceType) UnmarshalJSON(data []byte) error {
	return DeviceTypes.decode(data, t)
}

// Mode returns the S_IF* file type bits for mknod(2). Unbuffered devices are
// character devices.
func (t DeviceType) Mode() uint32 {
	switch t {
	case BlockDevice:
		return unix.S_IFBLK
	case FifoDevice:
		return unix.S_IFIFO
	default:
		return unix.S_IFCHR
	}
}

// LinuxDevice represents a device node.
type LinuxDevice struct {
	// Path to the device inside the container.
	Path string `json:"path"`

	// Type is the device type.
	Type DeviceType `json:"type"`

	// Major is the device's major number.
	Major int64 `json:"major"`

	// Minor is the device's minor number.
	Minor int64 `json:"minor"`

	// FileMode permission bits for the device.
	FileMode *os.FileMode `json:"fileMode,omitempty"`

	// UID of the device.
	UID *uint32 `json:"uid,omitempty"`

	// GID of the device.
	GID *uint32 `json:"gid,omitempty"`
}

// Rdev returns the encoded device number.
func (d *LinuxDevice) Rdev() uint64 {
	return unix.Mkdev(uint32(d.Major), uint32(d.Minor))
}

// Perm returns the permission bits, 0666 when unset.
func (d *LinuxDevice) Perm() os.FileMode {
	if d.FileMode == nil {
		return 0o666
	}
	return *d.FileMode & os.ModePerm
}

// DefaultDevices are created in every container's /dev in addition to the
// configured devices.
var DefaultDevices = []LinuxDevice{
	{Path: "/dev/null", Type: CharDevice, Major: 1, Minor: 3},
	{Path: "/dev/zero", Type: CharDevice, Major: 1, Minor: 5},
	{Path: "/dev/full", Type: CharDevice, Major: 1, Minor: 7},
	{Path: "/dev/random", Type: CharDevice, Major: 1, Minor: 8},
	{Path: "/dev/urandom", Type: CharDevice, Major: 1, Minor: 9},
	{Path: "/dev/tty", Type: CharDevice, Major: 5, Minor: 0},
}
