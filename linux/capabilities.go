package linux

import (
	"log/slog"

	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
)

// Caps holds the capability sets to give the container process.
type Caps struct {
	pid  capability.Capabilities
	sets map[capability.CapType][]capability.Cap
}

// NewCaps resolves the configured capability sets for the calling process.
// Capabilities unknown to this runtime or to the running kernel are logged
// and left out.
func NewCaps(c *config.LinuxCapabilities, logger *slog.Logger) (*Caps, error) {
	pid, err := capability.NewPid2(0)
	if err != nil {
		return nil, rterrors.WrapWithDetail(err, rterrors.ErrCapability, "capabilities", "init")
	}
	if err := pid.Load(); err != nil {
		return nil, rterrors.WrapWithDetail(err, rterrors.ErrCapability, "capabilities", "load")
	}

	caps := &Caps{pid: pid, sets: map[capability.CapType][]capability.Cap{}}
	for which, list := range map[capability.CapType][]config.Capability{
		capability.BOUNDING:    c.Bounding,
		capability.EFFECTIVE:   c.Effective,
		capability.PERMITTED:   c.Permitted,
		capability.INHERITABLE: c.Inheritable,
		capability.AMBIENT:     c.Ambient,
	} {
		caps.sets[which] = resolveCaps(which, list, logger)
	}
	return caps, nil
}

func resolveCaps(which capability.CapType, list []config.Capability, logger *slog.Logger) []capability.Cap {
	out := make([]capability.Cap, 0, len(list))
	for _, c := range list {
		if !c.Known() {
			logger.Warn("ignoring unknown capability", "set", which.String())
			continue
		}
		if capability.Cap(c) > capability.CAP_LAST_CAP {
			logger.Warn("ignoring capability unsupported by the kernel", "set", which.String(), "capability", c.String())
			continue
		}
		out = append(out, capability.Cap(c))
	}
	return out
}

// ApplyBoundingSet drops every capability outside the bounding set. It is
// done before changing user since it needs CAP_SETPCAP.
func (c *Caps) ApplyBoundingSet() error {
	c.pid.Clear(capability.BOUNDS)
	c.pid.Set(capability.BOUNDING, c.sets[capability.BOUNDING]...)
	if err := c.pid.Apply(capability.BOUNDS); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrCapability, "capabilities", "bounding set")
	}
	return nil
}

// ApplyCaps sets the effective, permitted, inheritable and ambient sets.
func (c *Caps) ApplyCaps() error {
	c.pid.Clear(capability.CAPS | capability.BOUNDS)
	for _, which := range []capability.CapType{
		capability.BOUNDING, capability.EFFECTIVE, capability.PERMITTED, capability.INHERITABLE,
	} {
		c.pid.Set(which, c.sets[which]...)
	}
	if err := c.pid.Apply(capability.CAPS | capability.BOUNDS); err != nil {
		return rterrors.Wrap(err, rterrors.ErrCapability, "capabilities")
	}

	if len(c.sets[capability.AMBIENT]) == 0 {
		return nil
	}
	c.pid.Clear(capability.AMBS)
	c.pid.Set(capability.AMBIENT, c.sets[capability.AMBIENT]...)
	if err := c.pid.Apply(capability.AMBS); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrCapability, "capabilities", "ambient set")
	}
	return nil
}

// Has reports whether want is in the given set after resolution.
func (c *Caps) Has(which capability.CapType, want config.Capability) bool {
	for _, v := range c.sets[which] {
		if v == capability.Cap(want) {
			return true
		}
	}
	return false
}

// SetKeepCaps keeps the permitted set across a change of user id.
func SetKeepCaps() error {
	if err := unix.Prctl(unix.PR_SET_KEEPCAPS, 1, 0, 0, 0); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrCapability, "prctl", "PR_SET_KEEPCAPS")
	}
	return nil
}

// ClearKeepCaps undoes SetKeepCaps.
func ClearKeepCaps() error {
	if err := unix.Prctl(unix.PR_SET_KEEPCAPS, 0, 0, 0, 0); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrCapability, "prctl", "PR_SET_KEEPCAPS")
	}
	return nil
}

// SetNoNewPrivileges stops execve from granting privileges.
func SetNoNewPrivileges() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrCapability, "prctl", "PR_SET_NO_NEW_PRIVS")
	}
	return nil
}
