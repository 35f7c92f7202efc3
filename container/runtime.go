package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"ocirt/config"
	rterrors "ocirt/errors"
	"ocirt/hooks"
	"ocirt/linux"
	"ocirt/logging"
	"ocirt/store"
)

// Options configures a Runtime.
type Options struct {
	// Root is the state directory. Each container gets Root/<id>.
	Root string

	// Store persists container records. The Runtime closes it.
	Store store.Store

	// Launcher defaults to an Engine.
	Launcher Launcher

	Logger *slog.Logger
}

// Runtime drives containers through creating, created, running and
// stopped. It is safe for concurrent use; operations on different ids do
// not wait for each other.
type Runtime struct {
	root     string
	store    store.Store
	launcher Launcher
	logger   *slog.Logger

	// mu guards containers, the id table. It is never held while waiting
	// for a container's own lock.
	mu         sync.Mutex
	containers map[string]*Container
}

// NewRuntime returns a Runtime over opts.Store.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Store == nil {
		return nil, rterrors.New(rterrors.ErrInvalidValue, "runtime", "no record store")
	}
	if opts.Root == "" {
		opts.Root = DefaultStateDir
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Launcher == nil {
		opts.Launcher = &Engine{Logger: opts.Logger}
	}
	if err := os.MkdirAll(opts.Root, 0o711); err != nil {
		return nil, rterrors.WrapWithDetail(err, rterrors.ErrStore, "runtime", opts.Root)
	}
	return &Runtime{
		root:       opts.Root,
		store:      opts.Store,
		launcher:   opts.Launcher,
		logger:     opts.Logger,
		containers: make(map[string]*Container),
	}, nil
}

// Root returns the state directory.
func (r *Runtime) Root() string { return r.root }

// Close closes the record store.
func (r *Runtime) Close() error { return r.store.Close() }

func transitionError(op, id string, sentinel *rterrors.ContainerError, status specs.ContainerState) error {
	return &rterrors.ContainerError{
		Op:        op,
		Container: id,
		Kind:      rterrors.ErrInvalidTransition,
		Detail:    "status " + string(status),
		Err:       sentinel,
	}
}

// Create prepares container id from the bundle and leaves it created,
// with its process waiting for Start. A failed Create leaves no record.
func (r *Runtime) Create(ctx context.Context, id, bundle string, opts *CreateOptions) (*specs.State, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}
	bundle, err := filepath.Abs(bundle)
	if err != nil {
		return nil, rterrors.WrapWithContainer(err, rterrors.ErrInvalidValue, "create", id)
	}
	logger := logging.WithOperation(logging.WithContainer(r.logger, id), "create")

	c := &Container{
		rec: &store.Record{
			ID:      id,
			Bundle:  bundle,
			Status:  config.StatusCreating,
			Created: time.Now().UTC(),
		},
		dir: filepath.Join(r.root, id),
	}

	r.mu.Lock()
	if _, ok := r.containers[id]; ok {
		r.mu.Unlock()
		return nil, store.Exists(id)
	}
	if err := r.store.Create(c.rec); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.containers[id] = c
	// c is not visible to anyone else yet, so this cannot block.
	c.mu.Lock()
	r.mu.Unlock()
	defer c.mu.Unlock()

	if err := r.create(ctx, c, opts); err != nil {
		r.forget(c, logger)
		logger.Error("create failed", "error", err)
		return nil, &rterrors.ContainerError{Op: "create", Container: id, Kind: rterrors.ErrCreateFailed, Err: err}
	}
	logger.Info("container created", "pid", c.rec.Pid)
	return c.State(), nil
}

func (r *Runtime) create(ctx context.Context, c *Container, opts *CreateOptions) error {
	s, raw, err := config.Load(c.rec.Bundle)
	if err != nil {
		return err
	}
	c.spec = s
	// Every store keeps the document in compact form.
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return rterrors.Wrap(err, rterrors.ErrMalformedConfig, "create")
	}
	c.rec.Config = compact.Bytes()
	c.rec.Rootfs = s.RootfsPath(c.rec.Bundle)
	c.rec.Annotations = s.Annotations
	if err := os.MkdirAll(c.dir, 0o711); err != nil {
		return err
	}

	launched, err := r.launcher.Create(ctx, c, opts)
	if err != nil {
		return err
	}
	c.rec.Pid = launched.Pid
	c.rec.PidStartTime = launched.PidStartTime
	c.rec.CgroupPath = launched.CgroupPath
	c.rec.Status = config.StatusCreated
	if err := r.store.Update(c.rec); err != nil {
		r.launcher.Signal(c, unix.SIGKILL, true)
		r.launcher.Wait(ctx, c)
		r.launcher.Destroy(c)
		return err
	}
	r.watch(c)
	return nil
}

// forget drops every trace of c. The caller holds c.mu.
func (r *Runtime) forget(c *Container, logger *slog.Logger) {
	r.mu.Lock()
	delete(r.containers, c.ID())
	r.mu.Unlock()
	if err := r.store.Delete(c.ID()); err != nil {
		logger.Warn("remove record", "error", err)
	}
	if err := os.RemoveAll(c.dir); err != nil {
		logger.Warn("remove state directory", "error", err)
	}
}

// watch observes the exit of c's process in the background. The caller
// holds c.mu.
func (r *Runtime) watch(c *Container) {
	exited := make(chan struct{})
	c.exited = exited
	go func() {
		status, err := r.launcher.Wait(context.Background(), c)
		if err != nil {
			r.logger.Warn("wait for container exit", logging.KeyContainer, c.ID(), "error", err)
		}
		c.exitStatus = status
		close(exited)
	}()
}

// get returns the container of id, loading it from the store when this
// process has not seen it yet.
func (r *Runtime) get(id string) (*Container, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.containers[id]; ok {
		return c, nil
	}
	rec, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}
	return r.adopt(rec), nil
}

// adopt adds a stored record to the table. The caller holds r.mu.
func (r *Runtime) adopt(rec *store.Record) *Container {
	c := &Container{rec: rec, dir: filepath.Join(r.root, rec.ID)}
	s, err := rec.Spec()
	if err != nil {
		r.logger.Warn("stored configuration unreadable, hooks disabled", logging.KeyContainer, rec.ID, "error", err)
	} else {
		c.spec = s
	}
	r.containers[rec.ID] = c
	return c
}

// refresh marks c stopped once its process is gone. The caller holds c.mu.
func (r *Runtime) refresh(c *Container) {
	switch c.rec.Status {
	case config.StatusCreated, config.StatusRunning:
	default:
		return
	}
	if c.exited != nil {
		select {
		case <-c.exited:
		default:
			return
		}
	} else if !linux.Exited(linux.Pid(c.rec.Pid), c.rec.PidStartTime) {
		return
	}
	c.rec.Status = config.StatusStopped
	logger := logging.WithContainer(r.logger, c.ID())
	logger.Debug("container exited", logging.KeyStatus, c.rec.Status)
	if err := r.store.Update(c.rec); err != nil && !rterrors.IsKind(err, rterrors.ErrNotFound) {
		logger.Warn("record stopped status", "error", err)
	}
}

// Start lets a created container run its program.
func (r *Runtime) Start(ctx context.Context, id string) error {
	c, err := r.get(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r.refresh(c)
	if c.rec.Status != config.StatusCreated {
		return transitionError("start", id, rterrors.ErrNotCreated, c.rec.Status)
	}
	logger := logging.WithOperation(logging.WithContainer(r.logger, id), "start")

	if err := r.launcher.Start(ctx, c); err != nil {
		r.refresh(c)
		return rterrors.WrapWithContainer(err, rterrors.ErrInternal, "start", id)
	}
	c.rec.Status = config.StatusRunning
	if err := r.store.Update(c.rec); err != nil {
		return err
	}
	if c.spec != nil {
		if err := hooks.Run(ctx, c.spec.Hooks, hooks.Poststart, c.State()); err != nil {
			logger.Warn("poststart hook failed", "error", err)
		}
	}
	logger.Info("container started")
	return nil
}

// Kill delivers sig to the container's process, or to all of its
// processes. It does not wait for them to exit.
func (r *Runtime) Kill(id string, sig unix.Signal, all bool) error {
	c, err := r.get(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r.refresh(c)
	switch c.rec.Status {
	case config.StatusCreated, config.StatusRunning:
	default:
		return transitionError("kill", id, rterrors.ErrNotLive, c.rec.Status)
	}
	if err := r.launcher.Signal(c, sig, all); err != nil {
		if errors.Is(err, unix.ESRCH) {
			r.refresh(c)
			return transitionError("kill", id, rterrors.ErrNotLive, c.rec.Status)
		}
		return rterrors.WrapWithContainer(err, rterrors.ErrInternal, "kill", id)
	}
	r.logger.Debug("signalled", logging.KeyContainer, id, "signal", unix.SignalName(sig), "all", all)
	return nil
}

// Delete removes a stopped container. With force a live container is
// killed first.
func (r *Runtime) Delete(ctx context.Context, id string, force bool) error {
	c, err := r.get(id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r.refresh(c)
	logger := logging.WithOperation(logging.WithContainer(r.logger, id), "delete")

	if c.rec.Status != config.StatusStopped {
		if !force {
			return transitionError("delete", id, rterrors.ErrNotStopped, c.rec.Status)
		}
		if err := r.forceStop(ctx, c); err != nil {
			return rterrors.WrapWithContainer(err, rterrors.ErrInternal, "delete", id)
		}
	}

	if err := r.launcher.Destroy(c); err != nil {
		logger.Warn("destroy container resources", "error", err)
	}
	if err := r.store.Delete(id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.containers, id)
	r.mu.Unlock()
	if err := os.RemoveAll(c.dir); err != nil {
		logger.Warn("remove state directory", "error", err)
	}

	if c.spec != nil {
		if err := hooks.Run(ctx, c.spec.Hooks, hooks.Poststop, c.State()); err != nil {
			logger.Warn("poststop hook failed", "error", err)
		}
	}
	logger.Info("container deleted")
	return nil
}

// forceStop kills every process of c and waits for init to exit. The
// caller holds c.mu.
func (r *Runtime) forceStop(ctx context.Context, c *Container) error {
	if c.rec.Pid > 0 && !linux.Exited(linux.Pid(c.rec.Pid), c.rec.PidStartTime) {
		if err := r.launcher.Signal(c, unix.SIGKILL, true); err != nil && !errors.Is(err, unix.ESRCH) {
			return err
		}
		if c.exited != nil {
			select {
			case <-c.exited:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if _, err := r.launcher.Wait(ctx, c); err != nil {
			return err
		}
	}
	c.rec.Status = config.StatusStopped
	return nil
}

// State returns the state document of id.
func (r *Runtime) State(id string) (*specs.State, error) {
	c, err := r.get(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r.refresh(c)
	return c.State(), nil
}

// List returns the records of every container, ordered by id.
func (r *Runtime) List() ([]*store.Record, error) {
	recs, err := r.store.List()
	if err != nil {
		return nil, err
	}
	out := make([]*store.Record, 0, len(recs))
	for _, rec := range recs {
		r.mu.Lock()
		c, ok := r.containers[rec.ID]
		if !ok {
			c = r.adopt(rec)
		}
		r.mu.Unlock()

		c.mu.Lock()
		r.refresh(c)
		out = append(out, c.Record())
		c.mu.Unlock()
	}
	return out, nil
}

// Run creates and starts a container. A container that fails to start is
// deleted again.
func (r *Runtime) Run(ctx context.Context, id, bundle string, opts *CreateOptions) (*specs.State, error) {
	if _, err := r.Create(ctx, id, bundle, opts); err != nil {
		return nil, err
	}
	if err := r.Start(ctx, id); err != nil {
		if derr := r.Delete(context.WithoutCancel(ctx), id, true); derr != nil {
			r.logger.Warn("delete after failed start", logging.KeyContainer, id, "error", derr)
		}
		return nil, err
	}
	return r.State(id)
}

// Wait blocks until the container's process exits and returns its exit
// status, or -1 when this process cannot learn it.
func (r *Runtime) Wait(ctx context.Context, id string) (int, error) {
	c, err := r.get(id)
	if err != nil {
		return -1, err
	}
	c.mu.Lock()
	exited := c.exited
	c.mu.Unlock()
	if exited == nil {
		return r.launcher.Wait(ctx, c)
	}
	select {
	case <-exited:
		return c.exitStatus, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Recover loads every stored container and watches the live ones, so a
// long-running process records their exits.
func (r *Runtime) Recover() error {
	recs, err := r.store.List()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		r.mu.Lock()
		c, ok := r.containers[rec.ID]
		if !ok {
			c = r.adopt(rec)
		}
		r.mu.Unlock()

		c.mu.Lock()
		r.refresh(c)
		live := c.rec.Status == config.StatusCreated || c.rec.Status == config.StatusRunning
		if live && c.exited == nil {
			r.watch(c)
		}
		c.mu.Unlock()
	}
	r.logger.Debug("recovered containers", "count", len(recs))
	return nil
}

