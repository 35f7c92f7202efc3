package cmd

import (
	"context"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"ocirt/container"
	"ocirt/daemon"
)

// backend is where lifecycle commands go: the local runtime or a daemon.
type backend interface {
	Create(ctx context.Context, id, bundle string, opts *container.CreateOptions) (*specs.State, error)
	Start(ctx context.Context, id string) error
	Kill(ctx context.Context, id string, sig unix.Signal, all bool) error
	Delete(ctx context.Context, id string, force bool) error
	State(ctx context.Context, id string) (*specs.State, error)
	List(ctx context.Context) ([]daemon.ContainerInfo, error)
	Close() error
}

type localBackend struct {
	rt *container.Runtime
}

func (b localBackend) Create(ctx context.Context, id, bundle string, opts *container.CreateOptions) (*specs.State, error) {
	return b.rt.Create(ctx, id, bundle, opts)
}

func (b localBackend) Start(ctx context.Context, id string) error { return b.rt.Start(ctx, id) }

func (b localBackend) Kill(_ context.Context, id string, sig unix.Signal, all bool) error {
	return b.rt.Kill(id, sig, all)
}

func (b localBackend) Delete(ctx context.Context, id string, force bool) error {
	return b.rt.Delete(ctx, id, force)
}

func (b localBackend) State(_ context.Context, id string) (*specs.State, error) {
	return b.rt.State(id)
}

func (b localBackend) List(context.Context) ([]daemon.ContainerInfo, error) {
	recs, err := b.rt.List()
	if err != nil {
		return nil, err
	}
	out := make([]daemon.ContainerInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, daemon.InfoFromRecord(rec))
	}
	return out, nil
}

func (b localBackend) Close() error { return b.rt.Close() }

// remoteBackend sends commands to a daemon. The container's stdio stays
// with the daemon.
type remoteBackend struct {
	c *daemon.Client
}

func (b remoteBackend) Create(ctx context.Context, id, bundle string, opts *container.CreateOptions) (*specs.State, error) {
	// Paths are resolved by the daemon, which has its own working directory.
	bundle, err := filepath.Abs(bundle)
	if err != nil {
		return nil, err
	}
	req := &daemon.CreateRequest{ID: id, Bundle: bundle}
	if opts != nil {
		req.ConsoleSocket = opts.ConsoleSocket
		if opts.PidFile != "" {
			if req.PidFile, err = filepath.Abs(opts.PidFile); err != nil {
				return nil, err
			}
		}
		req.NoPivot = opts.NoPivot
		req.NoNewKeyring = opts.NoNewKeyring
	}
	return b.c.Create(ctx, req)
}

func (b remoteBackend) Start(ctx context.Context, id string) error { return b.c.Start(ctx, id) }

func (b remoteBackend) Kill(ctx context.Context, id string, sig unix.Signal, all bool) error {
	return b.c.Kill(ctx, id, sig, all)
}

func (b remoteBackend) Delete(ctx context.Context, id string, force bool) error {
	return b.c.Delete(ctx, id, force)
}

func (b remoteBackend) State(ctx context.Context, id string) (*specs.State, error) {
	return b.c.State(ctx, id)
}

func (b remoteBackend) List(ctx context.Context) ([]daemon.ContainerInfo, error) {
	return b.c.List(ctx)
}

func (b remoteBackend) Close() error { return b.c.Close() }
