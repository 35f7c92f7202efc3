package config

// LinuxResources has container runtime resource constraints. They are
// written to the container's cgroup v2 directory.
type LinuxResources struct {
	// Devices configures the device allowlist.
	Devices []LinuxDeviceCgroup `json:"devices"`

	Memory  *LinuxMemory  `json:"memory,omitempty"`
	CPU     *LinuxCPU     `json:"cpu,omitempty"`
	Pids    *LinuxPids    `json:"pids,omitempty"`
	BlockIO *LinuxBlockIO `json:"blockIO,omitempty"`

	// HugepageLimits are a list of limits on the size and number of hugepages.
	HugepageLimits []LinuxHugepageLimit `json:"hugepageLimits"`

	Network *LinuxNetwork `json:"network,omitempty"`

	// Rdma maps a device name to its limits.
	Rdma map[string]LinuxRdma `json:"rdma"`

	// Unified holds raw cgroup v2 file values keyed by file name.
	Unified map[string]string `json:"unified"`
}

// LinuxDeviceCgroup represents a device rule for the device cgroup controller.
type LinuxDeviceCgroup struct {
	Allow  bool   `json:"allow"`
	Type   string `json:"type,omitempty"`
	Major  *int64 `json:"major,omitempty"`
	Minor  *int64 `json:"minor,omitempty"`
	Access string `json:"access,omitempty"`
}

// LinuxMemory for Linux cgroup 'memory' resource management.
type LinuxMemory struct {
	// Limit is the memory limit in bytes.
	Limit *int64 `json:"limit,omitempty"`

	// Reservation is the soft limit in bytes.
	Reservation *int64 `json:"reservation,omitempty"`

	// Swap is memory+swap limit in bytes.
	Swap *int64 `json:"swap,omitempty"`

	// Kernel and KernelTCP have no cgroup v2 equivalent and are ignored.
	Kernel    *int64 `json:"kernel,omitempty"`
	KernelTCP *int64 `json:"kernelTCP,omitempty"`

	Swappiness       *uint64 `json:"swappiness,omitempty"`
	DisableOOMKiller *bool   `json:"disableOOMKiller,omitempty"`
	UseHierarchy     *bool   `json:"useHierarchy,omitempty"`
}

// LinuxCPU for Linux cgroup 'cpu' resource management.
type LinuxCPU struct {
	// Shares is the relative weight in cgroup v1 units (2..262144).
	Shares *uint64 `json:"shares,omitempty"`

	// Quota is the CPU hardcap limit in usecs per Period.
	Quota *int64 `json:"quota,omitempty"`

	// Period is the CPU period to be used in usecs.
	Period *uint64 `json:"period,omitempty"`

	RealtimeRuntime *int64  `json:"realtimeRuntime,omitempty"`
	RealtimePeriod  *uint64 `json:"realtimePeriod,omitempty"`

	// Cpus is the list of CPUs the container will run on.
	Cpus string `json:"cpus,omitempty"`

	// Mems is the list of memory nodes the container will run on.
	Mems string `json:"mems,omitempty"`

	Idle *int64 `json:"idle,omitempty"`
}

// LinuxPids for Linux cgroup 'pids' resource management.
type LinuxPids struct {
	// Limit is the maximum number of PIDs. Zero or less means unlimited.
	Limit int64 `json:"limit"`
}

// LinuxBlockIO for Linux cgroup 'io' resource management.
type LinuxBlockIO struct {
	Weight     *uint16 `json:"weight,omitempty"`
	LeafWeight *uint16 `json:"leafWeight,omitempty"`

	WeightDevice            []LinuxWeightDevice   `json:"weightDevice"`
	ThrottleReadBpsDevice   []LinuxThrottleDevice `json:"throttleReadBpsDevice"`
	ThrottleWriteBpsDevice  []LinuxThrottleDevice `json:"throttleWriteBpsDevice"`
	ThrottleReadIOPSDevice  []LinuxThrottleDevice `json:"throttleReadIOPSDevice"`
	ThrottleWriteIOPSDevice []LinuxThrottleDevice `json:"throttleWriteIOPSDevice"`
}

// LinuxWeightDevice specifies per device weight.
type LinuxWeightDevice struct {
	Major      int64   `json:"major"`
	Minor      int64   `json:"minor"`
	Weight     *uint16 `json:"weight,omitempty"`
	LeafWeight *uint16 `json:"leafWeight,omitempty"`
}

// LinuxThrottleDevice specifies per device throttle limits.
type LinuxThrottleDevice struct {
	Major int64  `json:"major"`
	Minor int64  `json:"minor"`
	Rate  uint64 `json:"rate"`
}

// LinuxHugepageLimit specifies hugepage limits.
type LinuxHugepageLimit struct {
	// Pagesize is the hugepage size, for example "2MB" or "1GB".
	Pagesize string `json:"pageSize"`

	// Limit is the limit of allocatable bytes for hugepages.
	Limit uint64 `json:"limit"`
}

// LinuxNetwork contains network cgroup limits. cgroup v2 has no controller
// for either field.
type LinuxNetwork struct {
	ClassID    *uint32                  `json:"classID,omitempty"`
	Priorities []LinuxInterfacePriority `json:"priorities"`
}

// LinuxInterfacePriority specifies per interface priority.
type LinuxInterfacePriority struct {
	Name     string `json:"name"`
	Priority uint32 `json:"priority"`
}

// LinuxRdma contains RDMA cgroup limits.
type LinuxRdma struct {
	HcaHandles *uint32 `json:"hcaHandles,omitempty"`
	HcaObjects *uint32 `json:"hcaObjects,omitempty"`
}
