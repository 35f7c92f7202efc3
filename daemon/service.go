package daemon

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service the daemon registers.
const ServiceName = "ocirt.v1.Runtime"

// RuntimeServer is the server API of the runtime service.
type RuntimeServer interface {
	Create(context.Context, *CreateRequest) (*StateResponse, error)
	Start(context.Context, *IDRequest) (*Empty, error)
	Kill(context.Context, *KillRequest) (*Empty, error)
	Delete(context.Context, *DeleteRequest) (*Empty, error)
	State(context.Context, *IDRequest) (*StateResponse, error)
	List(context.Context, *ListRequest) (*ListResponse, error)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// unary builds the method descriptor of one RPC, decoding into Req and
// routing through the server's interceptor chain.
func unary[Req any, Resp any](name string, call func(RuntimeServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RuntimeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RuntimeServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuntimeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Create", RuntimeServer.Create),
		unary("Start", RuntimeServer.Start),
		unary("Kill", RuntimeServer.Kill),
		unary("Delete", RuntimeServer.Delete),
		unary("State", RuntimeServer.State),
		unary("List", RuntimeServer.List),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ocirt/daemon",
}

// RegisterRuntimeServer registers srv on s.
func RegisterRuntimeServer(s grpc.ServiceRegistrar, srv RuntimeServer) {
	s.RegisterService(&serviceDesc, srv)
}
