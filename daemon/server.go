package daemon

import (
	"context"

	"golang.org/x/sys/unix"

	"ocirt/container"
	rterrors "ocirt/errors"
)

// Server implements RuntimeServer over a container.Runtime.
type Server struct {
	rt *container.Runtime
}

var _ RuntimeServer = (*Server)(nil)

// NewServer returns a Server for rt.
func NewServer(rt *container.Runtime) *Server {
	return &Server{rt: rt}
}

func (s *Server) Create(ctx context.Context, req *CreateRequest) (*StateResponse, error) {
	if req.Bundle == "" {
		return nil, rterrors.New(rterrors.ErrInvalidValue, "create", "bundle is required")
	}
	st, err := s.rt.Create(ctx, req.ID, req.Bundle, &container.CreateOptions{
		ConsoleSocket: req.ConsoleSocket,
		PidFile:       req.PidFile,
		NoPivot:       req.NoPivot,
		NoNewKeyring:  req.NoNewKeyring,
	})
	if err != nil {
		return nil, err
	}
	return &StateResponse{State: st}, nil
}

func (s *Server) Start(ctx context.Context, req *IDRequest) (*Empty, error) {
	return &Empty{}, s.rt.Start(ctx, req.ID)
}

func (s *Server) Kill(_ context.Context, req *KillRequest) (*Empty, error) {
	if req.Signal <= 0 || req.Signal > 64 {
		return nil, rterrors.New(rterrors.ErrInvalidValue, "kill", "signal out of range")
	}
	return &Empty{}, s.rt.Kill(req.ID, unix.Signal(req.Signal), req.All)
}

func (s *Server) Delete(ctx context.Context, req *DeleteRequest) (*Empty, error) {
	return &Empty{}, s.rt.Delete(ctx, req.ID, req.Force)
}

func (s *Server) State(_ context.Context, req *IDRequest) (*StateResponse, error) {
	st, err := s.rt.State(req.ID)
	if err != nil {
		return nil, err
	}
	return &StateResponse{State: st}, nil
}

func (s *Server) List(context.Context, *ListRequest) (*ListResponse, error) {
	recs, err := s.rt.List()
	if err != nil {
		return nil, err
	}
	resp := &ListResponse{Containers: make([]ContainerInfo, 0, len(recs))}
	for _, rec := range recs {
		resp.Containers = append(resp.Containers, InfoFromRecord(rec))
	}
	return resp, nil
}
