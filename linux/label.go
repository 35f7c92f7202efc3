package linux

import (
	"github.com/opencontainers/runc/libcontainer/apparmor"
	"github.com/opencontainers/selinux/go-selinux"
	"github.com/opencontainers/selinux/go-selinux/label"

	rterrors "ocirt/errors"
)

// ApplyExecLabels sets the SELinux and AppArmor labels the next execve
// transitions into. Empty labels are skipped; a label on a host without the
// matching LSM is an error.
func ApplyExecLabels(selinuxLabel, apparmorProfile string) error {
	if selinuxLabel != "" {
		if !selinux.GetEnabled() {
			return rterrors.New(rterrors.ErrUnsupported, "selinux",
				"process.selinuxLabel set but SELinux is not enabled")
		}
		if err := selinux.SetExecLabel(selinuxLabel); err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrCapability, "selinux", selinuxLabel)
		}
	}
	if apparmorProfile != "" {
		if !apparmor.IsEnabled() {
			return rterrors.Wrap(apparmor.ErrApparmorNotEnabled, rterrors.ErrUnsupported, "apparmor")
		}
		if err := apparmor.ApplyProfile(apparmorProfile); err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrCapability, "apparmor", apparmorProfile)
		}
	}
	return nil
}

// MountData appends the SELinux context option for mountLabel to data.
func MountData(data, mountLabel string) string {
	if mountLabel == "" {
		return data
	}
	return label.FormatMountLabel(data, mountLabel)
}
