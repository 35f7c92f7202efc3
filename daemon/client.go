package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client calls a daemon. Its errors carry the runtime's error kinds.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon socket at address. The connection is made
// lazily on the first call.
func Dial(address string, opts ...grpc.DialOption) (*Client, error) {
	abs, err := filepath.Abs(address)
	if err != nil {
		return nil, err
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient("unix://"+abs, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	var trailer metadata.MD
	err := c.conn.Invoke(ctx, fullMethod(method), req, resp,
		grpc.Trailer(&trailer), grpc.CallContentSubtype(codecName))
	return fromStatus(err, trailer)
}

func (c *Client) Create(ctx context.Context, req *CreateRequest) (*specs.State, error) {
	resp := new(StateResponse)
	if err := c.invoke(ctx, "Create", req, resp); err != nil {
		return nil, err
	}
	return resp.State, nil
}

func (c *Client) Start(ctx context.Context, id string) error {
	return c.invoke(ctx, "Start", &IDRequest{ID: id}, new(Empty))
}

func (c *Client) Kill(ctx context.Context, id string, sig unix.Signal, all bool) error {
	return c.invoke(ctx, "Kill", &KillRequest{ID: id, Signal: int(sig), All: all}, new(Empty))
}

func (c *Client) Delete(ctx context.Context, id string, force bool) error {
	return c.invoke(ctx, "Delete", &DeleteRequest{ID: id, Force: force}, new(Empty))
}

func (c *Client) State(ctx context.Context, id string) (*specs.State, error) {
	resp := new(StateResponse)
	if err := c.invoke(ctx, "State", &IDRequest{ID: id}, resp); err != nil {
		return nil, err
	}
	return resp.State, nil
}

func (c *Client) List(ctx context.Context) ([]ContainerInfo, error) {
	resp := new(ListResponse)
	if err := c.invoke(ctx, "List", &ListRequest{}, resp); err != nil {
		return nil, err
	}
	return resp.Containers, nil
}
