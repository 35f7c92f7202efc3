package errors

// Lifecycle errors.
var (
	// ErrContainerNotFound indicates the container does not exist.
	ErrContainerNotFound = &ContainerError{
		Kind:   ErrNotFound,
		Detail: "container not found",
	}

	// ErrContainerExists indicates the container id is already taken.
	ErrContainerExists = &ContainerError{
		Kind:   ErrDuplicateID,
		Detail: "container already exists",
	}

	// ErrNotCreated indicates start was called outside the created status.
	ErrNotCreated = &ContainerError{
		Kind:   ErrInvalidTransition,
		Detail: "container is not in created state",
	}

	// ErrNotLive indicates kill was called on a container with no live process.
	ErrNotLive = &ContainerError{
		Kind:   ErrInvalidTransition,
		Detail: "container is neither created nor running",
	}

	// ErrNotStopped indicates delete was called before the process exited.
	ErrNotStopped = &ContainerError{
		Kind:   ErrInvalidTransition,
		Detail: "container is not stopped",
	}

	// ErrEmptyContainerID indicates the container ID is empty.
	ErrEmptyContainerID = &ContainerError{
		Kind:   ErrInvalidValue,
		Detail: "container ID cannot be empty",
	}

	// ErrInvalidContainerID indicates the container ID has illegal characters.
	ErrInvalidContainerID = &ContainerError{
		Kind:   ErrInvalidValue,
		Detail: "invalid container ID",
	}
)

// Configuration errors.
var (
	// ErrMissingConfig indicates the bundle has no config.json.
	ErrMissingConfig = &ContainerError{
		Kind:   ErrMalformedConfig,
		Detail: "config.json not found",
	}

	// ErrNoProcessArgs indicates no process arguments were specified.
	ErrNoProcessArgs = &ContainerError{
		Kind:   ErrMalformedConfig,
		Detail: "process.args must not be empty",
	}

	// ErrNoMountNamespace indicates a rootfs was configured without a mount namespace.
	ErrNoMountNamespace = &ContainerError{
		Kind:   ErrInvalidValue,
		Detail: "a mount namespace is required to set up the root filesystem",
	}
)

// Spawn errors.
var (
	// ErrStackInUse indicates a stack region was handed to a second spawn.
	ErrStackInUse = &ContainerError{
		Kind:   ErrSpawn,
		Detail: "stack region already used by another spawn",
	}

	// ErrUnknownEntry indicates the spawn named an unregistered entry.
	ErrUnknownEntry = &ContainerError{
		Kind:   ErrSpawn,
		Detail: "unknown entry",
	}

	// ErrExitSignal indicates an exit signal the spawn primitive cannot request.
	ErrExitSignal = &ContainerError{
		Kind:   ErrSpawn,
		Detail: "unsupported exit signal",
	}
)

// Security errors.
var (
	// ErrPathTraversal indicates a path escaping its root was detected.
	ErrPathTraversal = &ContainerError{
		Kind:   ErrRootfs,
		Detail: "path traversal detected",
	}

	// ErrSeccompFilter indicates the filter could not be built or installed.
	ErrSeccompFilter = &ContainerError{
		Kind:   ErrSeccomp,
		Detail: "failed to apply seccomp filter",
	}

	// ErrCapabilityApply indicates capability sets could not be applied.
	ErrCapabilityApply = &ContainerError{
		Kind:   ErrCapability,
		Detail: "failed to apply capabilities",
	}
)

// Namespace and cgroup errors.
var (
	// ErrNamespaceJoin indicates a namespace join error.
	ErrNamespaceJoin = &ContainerError{
		Kind:   ErrNamespace,
		Detail: "failed to join namespace",
	}

	// ErrCgroupSetup indicates a cgroup setup error.
	ErrCgroupSetup = &ContainerError{
		Kind:   ErrCgroup,
		Detail: "failed to setup cgroup",
	}
)

// Device and rootfs errors.
var (
	// ErrDeviceCreate indicates a device creation error.
	ErrDeviceCreate = &ContainerError{
		Kind:   ErrDevice,
		Detail: "failed to create device",
	}

	// ErrInvalidDevicePath indicates a device path outside /dev.
	ErrInvalidDevicePath = &ContainerError{
		Kind:   ErrDevice,
		Detail: "invalid device path",
	}

	// ErrPivotRoot indicates a pivot_root error.
	ErrPivotRoot = &ContainerError{
		Kind:   ErrRootfs,
		Detail: "failed to pivot_root",
	}

	// ErrMountFailed indicates a mount error.
	ErrMountFailed = &ContainerError{
		Kind:   ErrMount,
		Detail: "failed to mount",
	}
)

// Store errors.
var (
	// ErrStoreClosed indicates use of a closed record store.
	ErrStoreClosed = &ContainerError{
		Kind:   ErrStore,
		Detail: "store is closed",
	}

	// ErrInvalidSocketPath indicates a console socket path that is not a socket.
	ErrInvalidSocketPath = &ContainerError{
		Kind:   ErrInvalidValue,
		Detail: "invalid socket path",
	}
)
