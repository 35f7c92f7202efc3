// Package daemon serves a container.Runtime over gRPC on a unix socket and
// provides the matching client.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"ocirt/container"
	"ocirt/logging"
)

// DefaultAddress is the daemon's socket when none is configured.
const DefaultAddress = "/run/ocirt/ocirt.sock"

const shutdownTimeout = 10 * time.Second

// Config configures Serve.
type Config struct {
	// Address is the unix socket path to listen on.
	Address string

	// MetricsAddress is a TCP address for the /metrics endpoint. Empty
	// disables it.
	MetricsAddress string

	// CreateRate limits create requests per second. Zero means unlimited.
	CreateRate  float64
	CreateBurst int

	Logger *slog.Logger
}

// Daemon is a runtime service bound to its listeners.
type Daemon struct {
	cfg     Config
	rt      *container.Runtime
	logger  *slog.Logger
	metrics *Metrics
	grpc    *grpc.Server
	http    *http.Server
	lis     net.Listener
}

// New recovers the stored containers of rt and listens on cfg.Address.
func New(cfg Config, rt *container.Runtime) (*Daemon, error) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	logger := cfg.Logger.With("component", "daemon")

	if err := rt.Recover(); err != nil {
		return nil, fmt.Errorf("recover containers: %w", err)
	}
	lis, err := listenUnix(cfg.Address)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:     cfg,
		rt:      rt,
		logger:  logger,
		metrics: NewMetrics(rt),
		lis:     lis,
	}
	ic := &interceptor{logger: logger, metrics: d.metrics}
	if cfg.CreateRate > 0 {
		burst := cfg.CreateBurst
		if burst < 1 {
			burst = 1
		}
		ic.limiter = rate.NewLimiter(rate.Limit(cfg.CreateRate), burst)
	}
	d.grpc = grpc.NewServer(grpc.ChainUnaryInterceptor(ic.unary))
	RegisterRuntimeServer(d.grpc, NewServer(rt))

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Handler())
		d.http = &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return d, nil
}

// listenUnix removes a stale socket left by a previous daemon and listens.
func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o711); err != nil {
		return nil, fmt.Errorf("socket directory: %w", err)
	}
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return nil, fmt.Errorf("daemon already listening on %s", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		lis.Close()
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	return lis, nil
}

// Address returns the socket path.
func (d *Daemon) Address() string { return d.cfg.Address }

// Metrics returns the daemon's collectors.
func (d *Daemon) Metrics() *Metrics { return d.metrics }

// Serve runs until ctx is done or a listener fails, then stops gracefully.
func (d *Daemon) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.Info("serving", "address", d.cfg.Address)
		return d.grpc.Serve(d.lis)
	})
	if d.http != nil {
		g.Go(func() error {
			d.logger.Info("serving metrics", "address", d.cfg.MetricsAddress)
			if err := d.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		d.logger.Info("shutting down")
		if d.http != nil {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := d.http.Shutdown(sctx); err != nil {
				d.logger.Warn("metrics shutdown", "error", err)
			}
		}
		stopGracefully(d.grpc, shutdownTimeout)
		os.Remove(d.cfg.Address)
		return nil
	})
	return g.Wait()
}

func stopGracefully(s *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.Stop()
	}
}
