package linux

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/opencontainers/runc/libcontainer/cgroups/ebpf"
	"github.com/opencontainers/runc/libcontainer/cgroups/ebpf/devicefilter"
	"github.com/opencontainers/runc/libcontainer/devices"
	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
)

// validCgroupKey matches cgroup v2 interface file names such as cpu.max,
// memory.swap.max or io.bfq.weight.
var validCgroupKey = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)*$`)

// CgroupRoot is the cgroup v2 mount point.
var CgroupRoot = "/sys/fs/cgroup"

// Cgroup is a cgroup v2 directory.
type Cgroup struct {
	path string

	// detach removes the device program attached by ApplyResources.
	detach func() error
}

// NewCgroup creates (or opens) the cgroup at path, relative to CgroupRoot.
func NewCgroup(path string) (*Cgroup, error) {
	full, err := cgroupDir(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return nil, rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", full)
	}
	return &Cgroup{path: full}, nil
}

// LoadCgroup opens an existing cgroup without creating it.
func LoadCgroup(path string) (*Cgroup, error) {
	full, err := cgroupDir(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(full); err != nil {
		return nil, rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", full)
	}
	return &Cgroup{path: full}, nil
}

func cgroupDir(path string) (string, error) {
	if path == "" {
		return "", rterrors.New(rterrors.ErrInvalidValue, "cgroup", "empty cgroups path")
	}
	if err := rterrors.CheckNul("cgroup", "linux.cgroupsPath", path); err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + path)
	return filepath.Join(CgroupRoot, clean), nil
}

// Path returns the cgroup's directory.
func (c *Cgroup) Path() string {
	return c.path
}

// CgroupPath returns the cgroup path for a container: the configured one, or
// ocirt/<id>.
func CgroupPath(id, configured string) string {
	if configured != "" {
		return configured
	}
	return filepath.Join("ocirt", id)
}

func (c *Cgroup) write(file, value string) error {
	if err := os.WriteFile(filepath.Join(c.path, file), []byte(value), 0o644); err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", fmt.Sprintf("write %s=%q", file, value))
	}
	return nil
}

// AddProcess moves pid into the cgroup.
func (c *Cgroup) AddProcess(pid Pid) error {
	return c.write("cgroup.procs", strconv.Itoa(pid.Raw()))
}

// Procs lists the pids in the cgroup.
func (c *Cgroup) Procs() ([]Pid, error) {
	f, err := os.Open(filepath.Join(c.path, "cgroup.procs"))
	if err != nil {
		return nil, rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", c.path)
	}
	defer f.Close()

	var pids []Pid
	s := bufio.NewScanner(f)
	for s.Scan() {
		n, err := strconv.Atoi(strings.TrimSpace(s.Text()))
		if err != nil {
			continue
		}
		pids = append(pids, Pid(n))
	}
	if err := s.Err(); err != nil {
		return nil, rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", c.path)
	}
	return pids, nil
}

// ApplyResources writes r into the cgroup. Controllers that are absent on
// the host fail the call; swap is the only best-effort value.
func (c *Cgroup) ApplyResources(r *config.LinuxResources) error {
	if r == nil {
		return nil
	}
	for _, apply := range []func(*config.LinuxResources) error{
		c.applyMemory,
		c.applyCPU,
		c.applyPids,
		c.applyIO,
		c.applyHugepages,
		c.applyRdma,
		c.applyDevices,
	} {
		if err := apply(r); err != nil {
			return err
		}
	}

	for key, value := range r.Unified {
		if err := validateCgroupKey(key); err != nil {
			return err
		}
		if err := c.write(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cgroup) applyMemory(r *config.LinuxResources) error {
	m := r.Memory
	if m == nil {
		return nil
	}
	if m.Reservation != nil && *m.Reservation > 0 {
		if err := c.write("memory.low", strconv.FormatInt(*m.Reservation, 10)); err != nil {
			return err
		}
	}
	if m.Limit != nil {
		if err := c.write("memory.max", limitValue(*m.Limit)); err != nil {
			return err
		}
	}
	if m.Swap != nil {
		swap, err := swapMax(m.Limit, *m.Swap)
		if err != nil {
			return err
		}
		// Hosts booted without swap accounting have no memory.swap.max.
		if _, err := os.Stat(filepath.Join(c.path, "memory.swap.max")); err == nil {
			if err := c.write("memory.swap.max", swap); err != nil {
				return err
			}
		}
	}
	if m.DisableOOMKiller != nil && *m.DisableOOMKiller {
		return rterrors.New(rterrors.ErrUnsupported, "cgroup", "memory.disableOOMKiller has no cgroup v2 equivalent")
	}
	return nil
}

// swapMax converts the memory+swap limit used by the configuration into
// cgroup v2's swap-only value.
func swapMax(limit *int64, memswap int64) (string, error) {
	switch {
	case memswap == -1:
		return "max", nil
	case limit == nil || *limit == -1:
		return "", rterrors.New(rterrors.ErrInvalidValue, "cgroup", "memory.swap requires memory.limit")
	case memswap < *limit:
		return "", rterrors.New(rterrors.ErrInvalidValue, "cgroup",
			fmt.Sprintf("memory.swap %d is below memory.limit %d", memswap, *limit))
	}
	return strconv.FormatInt(memswap-*limit, 10), nil
}

func limitValue(v int64) string {
	if v == -1 {
		return "max"
	}
	return strconv.FormatInt(v, 10)
}

// sharesToWeight maps cgroup v1 cpu.shares (2..262144) onto cpu.weight
// (1..10000).
func sharesToWeight(shares uint64) uint64 {
	if shares == 0 {
		return 0
	}
	if shares <= 2 {
		return 1
	}
	w := 1 + (shares-2)*9999/262142
	if w > 10000 {
		w = 10000
	}
	return w
}

func (c *Cgroup) applyCPU(r *config.LinuxResources) error {
	cpu := r.CPU
	if cpu == nil {
		return nil
	}
	if cpu.RealtimeRuntime != nil || cpu.RealtimePeriod != nil {
		return rterrors.New(rterrors.ErrUnsupported, "cgroup", "realtime cpu scheduling has no cgroup v2 equivalent")
	}
	if cpu.Shares != nil && *cpu.Shares > 0 {
		if err := c.write("cpu.weight", strconv.FormatUint(sharesToWeight(*cpu.Shares), 10)); err != nil {
			return err
		}
	}
	if cpu.Quota != nil || cpu.Period != nil {
		quota := "max"
		if cpu.Quota != nil && *cpu.Quota > 0 {
			quota = strconv.FormatInt(*cpu.Quota, 10)
		}
		period := uint64(100000)
		if cpu.Period != nil && *cpu.Period > 0 {
			period = *cpu.Period
		}
		if err := c.write("cpu.max", fmt.Sprintf("%s %d", quota, period)); err != nil {
			return err
		}
	}
	if cpu.Idle != nil {
		if err := c.write("cpu.idle", strconv.FormatInt(*cpu.Idle, 10)); err != nil {
			return err
		}
	}
	if cpu.Cpus != "" {
		if err := c.write("cpuset.cpus", cpu.Cpus); err != nil {
			return err
		}
	}
	if cpu.Mems != "" {
		if err := c.write("cpuset.mems", cpu.Mems); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cgroup) applyPids(r *config.LinuxResources) error {
	if r.Pids == nil {
		return nil
	}
	limit := "max"
	if r.Pids.Limit > 0 {
		limit = strconv.FormatInt(r.Pids.Limit, 10)
	}
	return c.write("pids.max", limit)
}

// blkioWeightToIO maps the blkio weight range (10..1000) onto io.weight
// (1..10000).
func blkioWeightToIO(w uint16) uint64 {
	switch {
	case w == 0:
		return 0
	case w <= 10:
		return 1
	case w >= 1000:
		return 10000
	}
	return 1 + (uint64(w)-10)*9999/990
}

func (c *Cgroup) applyIO(r *config.LinuxResources) error {
	bio := r.BlockIO
	if bio == nil {
		return nil
	}
	if bio.Weight != nil && *bio.Weight > 0 {
		if err := c.write("io.weight", "default "+strconv.FormatUint(blkioWeightToIO(*bio.Weight), 10)); err != nil {
			return err
		}
	}
	for _, d := range bio.WeightDevice {
		if d.Weight == nil {
			continue
		}
		line := fmt.Sprintf("%d:%d %d", d.Major, d.Minor, blkioWeightToIO(*d.Weight))
		if err := c.write("io.weight", line); err != nil {
			return err
		}
	}
	for _, t := range []struct {
		key     string
		devices []config.LinuxThrottleDevice
	}{
		{"rbps", bio.ThrottleReadBpsDevice},
		{"wbps", bio.ThrottleWriteBpsDevice},
		{"riops", bio.ThrottleReadIOPSDevice},
		{"wiops", bio.ThrottleWriteIOPSDevice},
	} {
		for _, d := range t.devices {
			rate := "max"
			if d.Rate > 0 {
				rate = strconv.FormatUint(d.Rate, 10)
			}
			if err := c.write("io.max", fmt.Sprintf("%d:%d %s=%s", d.Major, d.Minor, t.key, rate)); err != nil {
				return err
			}
		}
	}
	return nil
}

// HugepageFileSize converts a configured page size ("2MB", "1GB") into the
// name cgroup interface files use ("2MB", "1GB"), normalising spellings like
// "2048kB".
func HugepageFileSize(pagesize string) (string, error) {
	n, err := units.RAMInBytes(pagesize)
	if err != nil || n <= 0 {
		return "", rterrors.New(rterrors.ErrInvalidValue, "cgroup", fmt.Sprintf("hugepage size %q is not a size such as 2MB or 1GB", pagesize))
	}
	for _, u := range []struct {
		suffix string
		size   int64
	}{
		{"GB", units.GiB},
		{"MB", units.MiB},
		{"KB", units.KiB},
	} {
		if n%u.size == 0 {
			return strconv.FormatInt(n/u.size, 10) + u.suffix, nil
		}
	}
	return "", rterrors.New(rterrors.ErrInvalidValue, "cgroup", fmt.Sprintf("hugepage size %q is not a whole number of kilobytes", pagesize))
}

func (c *Cgroup) applyHugepages(r *config.LinuxResources) error {
	for _, h := range r.HugepageLimits {
		size, err := HugepageFileSize(h.Pagesize)
		if err != nil {
			return err
		}
		if err := c.write("hugetlb."+size+".max", strconv.FormatUint(h.Limit, 10)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cgroup) applyRdma(r *config.LinuxResources) error {
	for dev, l := range r.Rdma {
		var parts []string
		if l.HcaHandles != nil {
			parts = append(parts, "hca_handle="+strconv.FormatUint(uint64(*l.HcaHandles), 10))
		}
		if l.HcaObjects != nil {
			parts = append(parts, "hca_object="+strconv.FormatUint(uint64(*l.HcaObjects), 10))
		}
		if len(parts) == 0 {
			continue
		}
		if err := c.write("rdma.max", dev+" "+strings.Join(parts, " ")); err != nil {
			return err
		}
	}
	return nil
}

// DeviceRules converts the configured device cgroup entries into rules. An
// empty type means every device type.
func DeviceRules(entries []config.LinuxDeviceCgroup) ([]*devices.Rule, error) {
	rules := make([]*devices.Rule, 0, len(entries))
	for _, e := range entries {
		t := devices.WildcardDevice
		if e.Type != "" {
			t = devices.Type(e.Type[0])
			if len(e.Type) != 1 || !t.CanCgroup() {
				return nil, rterrors.InvalidValue("linux.resources.devices.type", e.Type, []string{"a", "b", "c"})
			}
		}
		major, minor := int64(devices.Wildcard), int64(devices.Wildcard)
		if e.Major != nil {
			major = *e.Major
		}
		if e.Minor != nil {
			minor = *e.Minor
		}
		access := e.Access
		if access == "" {
			access = "rwm"
		}
		perms := devices.Permissions(access)
		if !perms.IsValid() {
			return nil, rterrors.New(rterrors.ErrInvalidValue, "cgroup", fmt.Sprintf("device access %q is not a combination of r, w and m", access))
		}
		rules = append(rules, &devices.Rule{
			Type:        t,
			Major:       major,
			Minor:       minor,
			Permissions: perms,
			Allow:       e.Allow,
		})
	}
	return rules, nil
}

// terminalRules admit /dev/ptmx and the devpts slaves.
var terminalRules = []*devices.Rule{
	{Type: devices.CharDevice, Major: 5, Minor: 2, Permissions: "rwm", Allow: true},
	{Type: devices.CharDevice, Major: 136, Minor: devices.Wildcard, Permissions: "rwm", Allow: true},
}

// applyDevices attaches an eBPF device program built from the configured
// rules plus the rules the default device nodes need.
func (c *Cgroup) applyDevices(r *config.LinuxResources) error {
	if len(r.Devices) == 0 {
		return nil
	}
	rules, err := DeviceRules(r.Devices)
	if err != nil {
		return err
	}
	for _, d := range config.DefaultDevices {
		rules = append(rules, &devices.Rule{
			Type:        devices.Type(d.Type[0]),
			Major:       d.Major,
			Minor:       d.Minor,
			Permissions: "rwm",
			Allow:       true,
		})
	}
	rules = append(rules, terminalRules...)

	insts, license, err := devicefilter.DeviceFilter(rules)
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", "device filter")
	}
	dir, err := unix.Open(c.path, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", c.path)
	}
	defer unix.Close(dir)
	detach, err := ebpf.LoadAttachCgroupDeviceFilter(insts, license, dir)
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", "attach device filter")
	}
	c.detach = detach
	return nil
}

// Freeze stops every process in the cgroup and waits for the kernel to
// report the group frozen.
func (c *Cgroup) Freeze() error {
	if err := c.write("cgroup.freeze", "1"); err != nil {
		return err
	}
	for i := 0; i < 1000; i++ {
		events, err := os.ReadFile(filepath.Join(c.path, "cgroup.events"))
		if err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", "read cgroup.events")
		}
		if strings.Contains(string(events), "frozen 1") {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return rterrors.New(rterrors.ErrCgroup, "cgroup", "timed out freezing "+c.path)
}

// Thaw resumes the processes stopped by Freeze.
func (c *Cgroup) Thaw() error {
	return c.write("cgroup.freeze", "0")
}

// Destroy detaches the device program and removes the cgroup directory. The
// cgroup must have no live processes.
func (c *Cgroup) Destroy() error {
	if c.detach != nil {
		if err := c.detach(); err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", "detach device filter")
		}
		c.detach = nil
	}
	var err error
	for i := 0; i < 5; i++ {
		// EBUSY while the last exiting task is still being reaped.
		if err = unix.Rmdir(c.path); err == nil || err == unix.ENOENT {
			return nil
		}
		if err != unix.EBUSY {
			break
		}
		time.Sleep(10 * time.Millisecond << i)
	}
	return rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", "remove "+c.path)
}

// EnsureParentControllers enables the controllers available at the root in
// each ancestor of path. Missing controllers are skipped.
func EnsureParentControllers(path string) error {
	avail, err := os.ReadFile(filepath.Join(CgroupRoot, "cgroup.controllers"))
	if err != nil {
		return rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", "cgroup v2 is not mounted at "+CgroupRoot)
	}
	var enable []string
	for _, ctrl := range strings.Fields(string(avail)) {
		enable = append(enable, "+"+ctrl)
	}

	parts := strings.Split(strings.Trim(filepath.Clean("/"+path), "/"), "/")
	current := CgroupRoot
	for _, part := range parts[:len(parts)-1] {
		current = filepath.Join(current, part)
		if err := os.MkdirAll(current, 0o755); err != nil {
			return rterrors.WrapWithDetail(err, rterrors.ErrCgroup, "cgroup", current)
		}
	}

	current = CgroupRoot
	for _, part := range parts {
		control := filepath.Join(current, "cgroup.subtree_control")
		for _, ctrl := range enable {
			// One at a time: a controller the parent lacks fails the whole write.
			_ = os.WriteFile(control, []byte(ctrl), 0o644)
		}
		current = filepath.Join(current, part)
	}
	return nil
}

// validateCgroupKey keeps unified keys to plain interface file names.
func validateCgroupKey(key string) error {
	reserved := strings.HasPrefix(key, "cgroup.") && key != "cgroup.max.depth" && key != "cgroup.max.descendants"
	if !validCgroupKey.MatchString(key) || reserved {
		return rterrors.New(rterrors.ErrInvalidValue, "cgroup", fmt.Sprintf("unified key %q is not a controller interface file", key))
	}
	return nil
}
