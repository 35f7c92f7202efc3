package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	rterrors "ocirt/errors"
)

// ConfigFile is the name of the configuration document inside a bundle.
const ConfigFile = "config.json"

// Parse decodes a configuration document, fills every default and validates
// the result. Structural problems fail with ErrMalformedConfig, values outside
// a vocabulary or inconsistent settings with ErrInvalidValue, and recognised
// but unsupported values with ErrUnsupported.
func Parse(data []byte) (*Spec, error) {
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, decodeError(err)
	}
	if err := s.checkRequired(); err != nil {
		return nil, err
	}
	s.fillDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load parses config.json from a bundle directory. It returns the raw
// document alongside the parsed spec.
func Load(bundle string) (*Spec, []byte, error) {
	path := filepath.Join(bundle, ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, rterrors.ErrMissingConfig
		}
		return nil, nil, rterrors.WrapWithDetail(err, rterrors.ErrMalformedConfig, "load", "cannot read "+path)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return s, data, nil
}

// Marshal encodes s as indented JSON.
func Marshal(s *Spec) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// RootfsPath resolves the root filesystem path against the bundle directory.
func (s *Spec) RootfsPath(bundle string) string {
	if filepath.IsAbs(s.Root.Path) {
		return filepath.Clean(s.Root.Path)
	}
	return filepath.Join(bundle, s.Root.Path)
}

func decodeError(err error) error {
	var cerr *rterrors.ContainerError
	if stderrors.As(err, &cerr) {
		return cerr
	}
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = "document"
		}
		return rterrors.Malformed(fmt.Sprintf("%s: expected %s, got %s", field, typeErr.Type, typeErr.Value), err)
	}
	var syntaxErr *json.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return rterrors.Malformed(fmt.Sprintf("syntax error at offset %d", syntaxErr.Offset), err)
	}
	return rterrors.Malformed("cannot decode configuration", err)
}

func (s *Spec) checkRequired() error {
	switch {
	case s.Version == "":
		return rterrors.Malformed("ociVersion is required", nil)
	case s.Root == nil || s.Root.Path == "":
		return rterrors.Malformed("root.path is required", nil)
	case s.Process == nil || len(s.Process.Args) == 0:
		return rterrors.ErrNoProcessArgs
	}
	return nil
}

// fillDefaults replaces every absent collection with an empty one so that
// consumers never need to tell absent from empty.
func (s *Spec) fillDefaults() {
	if s.Mounts == nil {
		s.Mounts = []Mount{}
	}
	for i := range s.Mounts {
		m := &s.Mounts[i]
		m.Options = orEmpty(m.Options)
		m.UIDMappings = orEmpty(m.UIDMappings)
		m.GIDMappings = orEmpty(m.GIDMappings)
	}
	if s.Annotations == nil {
		s.Annotations = map[string]string{}
	}

	p := s.Process
	p.Env = orEmpty(p.Env)
	p.Rlimits = orEmpty(p.Rlimits)
	p.User.AdditionalGids = orEmpty(p.User.AdditionalGids)
	if p.Cwd == "" {
		p.Cwd = "/"
	}
	if c := p.Capabilities; c != nil {
		c.Bounding = orEmpty(c.Bounding)
		c.Effective = orEmpty(c.Effective)
		c.Inheritable = orEmpty(c.Inheritable)
		c.Permitted = orEmpty(c.Permitted)
		c.Ambient = orEmpty(c.Ambient)
	}

	if s.Hooks == nil {
		s.Hooks = &Hooks{}
	}
	h := s.Hooks
	h.CreateRuntime = append(orEmpty(h.Prestart), h.CreateRuntime...)
	h.Prestart = nil
	h.CreateContainer = orEmpty(h.CreateContainer)
	h.StartContainer = orEmpty(h.StartContainer)
	h.Poststart = orEmpty(h.Poststart)
	h.Poststop = orEmpty(h.Poststop)
	for _, list := range [][]Hook{h.CreateRuntime, h.CreateContainer, h.StartContainer, h.Poststart, h.Poststop} {
		for i := range list {
			list[i].Args = orEmpty(list[i].Args)
			list[i].Env = orEmpty(list[i].Env)
		}
	}

	if s.Linux == nil {
		s.Linux = &Linux{}
	}
	l := s.Linux
	l.UIDMappings = orEmpty(l.UIDMappings)
	l.GIDMappings = orEmpty(l.GIDMappings)
	if l.Sysctl == nil {
		l.Sysctl = map[string]string{}
	}
	if l.Namespaces == nil {
		l.Namespaces = Namespaces{}
	}
	l.Devices = orEmpty(l.Devices)
	l.MaskedPaths = orEmpty(l.MaskedPaths)
	l.ReadonlyPaths = orEmpty(l.ReadonlyPaths)
	if l.Personality != nil {
		l.Personality.Flags = orEmpty(l.Personality.Flags)
	}
	if l.Seccomp != nil {
		sc := l.Seccomp
		sc.Architectures = orEmpty(sc.Architectures)
		sc.Flags = orEmpty(sc.Flags)
		sc.Syscalls = orEmpty(sc.Syscalls)
		for i := range sc.Syscalls {
			sc.Syscalls[i].Names = orEmpty(sc.Syscalls[i].Names)
			sc.Syscalls[i].Args = orEmpty(sc.Syscalls[i].Args)
		}
	}

	if l.Resources == nil {
		l.Resources = &LinuxResources{}
	}
	r := l.Resources
	r.Devices = orEmpty(r.Devices)
	r.HugepageLimits = orEmpty(r.HugepageLimits)
	if r.Rdma == nil {
		r.Rdma = map[string]LinuxRdma{}
	}
	if r.Unified == nil {
		r.Unified = map[string]string{}
	}
	if b := r.BlockIO; b != nil {
		b.WeightDevice = orEmpty(b.WeightDevice)
		b.ThrottleReadBpsDevice = orEmpty(b.ThrottleReadBpsDevice)
		b.ThrottleWriteBpsDevice = orEmpty(b.ThrottleWriteBpsDevice)
		b.ThrottleReadIOPSDevice = orEmpty(b.ThrottleReadIOPSDevice)
		b.ThrottleWriteIOPSDevice = orEmpty(b.ThrottleWriteIOPSDevice)
	}
	if n := r.Network; n != nil {
		n.Priorities = orEmpty(n.Priorities)
	}
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Validate checks cross-field consistency of a parsed spec.
func (s *Spec) Validate() error {
	seen := make(map[LinuxNamespaceType]bool, len(s.Linux.Namespaces))
	for _, ns := range s.Linux.Namespaces {
		if seen[ns.Type] {
			return invalid("linux.namespaces", "namespace %q is listed more than once", ns.Type)
		}
		seen[ns.Type] = true
	}

	if !seen[UserNamespace] && (len(s.Linux.UIDMappings) > 0 || len(s.Linux.GIDMappings) > 0) {
		return invalid("linux.uidMappings", "id mappings require a user namespace")
	}

	limits := make(map[RlimitType]bool, len(s.Process.Rlimits))
	for _, rl := range s.Process.Rlimits {
		if limits[rl.Type] {
			return invalid("process.rlimits", "%s is listed more than once", rl.Type)
		}
		limits[rl.Type] = true
		if rl.Soft > rl.Hard {
			return invalid("process.rlimits", "%s soft limit %d exceeds hard limit %d", rl.Type, rl.Soft, rl.Hard)
		}
	}

	for i, m := range s.Mounts {
		if m.Destination == "" {
			return rterrors.Malformed(fmt.Sprintf("mounts[%d].destination is required", i), nil)
		}
	}

	for i, d := range s.Linux.Devices {
		if d.Path == "" {
			return rterrors.Malformed(fmt.Sprintf("linux.devices[%d].path is required", i), nil)
		}
	}

	for _, list := range [][]Hook{s.Hooks.CreateRuntime, s.Hooks.CreateContainer, s.Hooks.StartContainer, s.Hooks.Poststart, s.Hooks.Poststop} {
		for _, h := range list {
			if !filepath.IsAbs(h.Path) {
				return invalid("hooks", "hook path %q is not absolute", h.Path)
			}
			if h.Timeout != nil && *h.Timeout <= 0 {
				return invalid("hooks", "hook %q timeout must be positive", h.Path)
			}
		}
	}

	if sc := s.Linux.Seccomp; sc != nil {
		for i, rule := range sc.Syscalls {
			if len(rule.Names) == 0 {
				return rterrors.Malformed(fmt.Sprintf("linux.seccomp.syscalls[%d].names must not be empty", i), nil)
			}
			for _, a := range rule.Args {
				if a.Index > 5 {
					return invalid("linux.seccomp.syscalls", "argument index %d out of range 0-5", a.Index)
				}
			}
		}
		if sc.UsesNotify() && sc.ListenerPath == "" {
			return invalid("linux.seccomp.listenerPath", "SCMP_ACT_NOTIFY requires a listener path")
		}
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return rterrors.New(rterrors.ErrInvalidValue, "parse", field+": "+fmt.Sprintf(format, args...))
}
