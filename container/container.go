// Package container implements OCI container lifecycle management: the
// isolation engine that prepares a container process, the init entry that
// runs inside it, and the Runtime state machine on top.
package container

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/opencontainers/runtime-spec/specs-go"

	"ocirt/config"
	"ocirt/store"
	"ocirt/utils"
)

// DefaultStateDir is the default runtime root.
const DefaultStateDir = "/run/ocirt"

// CreateOptions contains options for container creation.
type CreateOptions struct {
	// ConsoleSocket is the path to a unix socket receiving the pty master
	// when process.terminal is set.
	ConsoleSocket string

	// PidFile is the path to write the container PID.
	PidFile string

	// NoPivot disables pivot_root (use chroot instead).
	NoPivot bool

	// NoNewKeyring keeps the caller's session keyring instead of creating
	// one named after the container.
	NoNewKeyring bool

	// Stdio of the container process when it has no terminal. Nil means
	// /dev/null.
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// Container is the in-memory view of one container.
type Container struct {
	// mu serialises lifecycle operations on the container.
	mu   sync.Mutex
	rec  *store.Record
	spec *config.Spec

	// dir is the container's directory under the runtime root.
	dir string

	// exited is closed once this process observed the init process exit.
	// It is nil until a watcher runs.
	exited     chan struct{}
	exitStatus int

	// owned is set when the init process is a child of this process.
	owned bool
}

// ID returns the container id.
func (c *Container) ID() string { return c.rec.ID }

// Bundle returns the absolute bundle path.
func (c *Container) Bundle() string { return c.rec.Bundle }

// Rootfs returns the resolved root filesystem path.
func (c *Container) Rootfs() string { return c.rec.Rootfs }

// Spec returns the parsed configuration.
func (c *Container) Spec() *config.Spec { return c.spec }

// Dir returns the container's state directory.
func (c *Container) Dir() string { return c.dir }

// Record returns a copy of the container record.
func (c *Container) Record() *store.Record { return c.rec.Clone() }

// Status returns the last known status.
func (c *Container) Status() specs.ContainerState { return c.rec.Status }

// State returns the exported state document.
func (c *Container) State() *specs.State { return c.rec.State() }

// ExecFifoPath returns the path of the create/start barrier.
func (c *Container) ExecFifoPath() string {
	return filepath.Join(c.dir, utils.ExecFifoName)
}
