package daemon

import (
	"context"
	"errors"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	rterrors "ocirt/errors"
)

// kindTrailer carries the ErrorKind of a failed call, so clients rebuild
// the same kind the runtime reported.
const kindTrailer = "ocirt-error-kind"

func codeForKind(k rterrors.ErrorKind) codes.Code {
	switch k {
	case rterrors.ErrNotFound:
		return codes.NotFound
	case rterrors.ErrDuplicateID:
		return codes.AlreadyExists
	case rterrors.ErrInvalidTransition:
		return codes.FailedPrecondition
	case rterrors.ErrMalformedConfig, rterrors.ErrInvalidValue, rterrors.ErrNulByte:
		return codes.InvalidArgument
	case rterrors.ErrUnsupported:
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}

func kindForCode(c codes.Code) rterrors.ErrorKind {
	switch c {
	case codes.NotFound:
		return rterrors.ErrNotFound
	case codes.AlreadyExists:
		return rterrors.ErrDuplicateID
	case codes.FailedPrecondition:
		return rterrors.ErrInvalidTransition
	case codes.InvalidArgument:
		return rterrors.ErrInvalidValue
	case codes.Unimplemented:
		return rterrors.ErrUnsupported
	default:
		return rterrors.ErrInternal
	}
}

// toStatus converts a runtime error to a gRPC status error and records its
// kind in the trailer.
func toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	kind, ok := rterrors.GetKind(err)
	if !ok {
		kind = rterrors.ErrInternal
	}
	_ = grpc.SetTrailer(ctx, metadata.Pairs(kindTrailer, strconv.Itoa(int(kind))))
	return status.Error(codeForKind(kind), err.Error())
}

// fromStatus converts a call error back to a runtime error. The kind comes
// from the trailer when the server sent one, else from the status code.
func fromStatus(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.Unavailable:
		return rterrors.WrapWithDetail(err, rterrors.ErrInternal, "daemon", "unavailable")
	}
	kind := kindForCode(st.Code())
	if v := trailer.Get(kindTrailer); len(v) > 0 {
		if n, err := strconv.Atoi(v[0]); err == nil {
			kind = rterrors.ErrorKind(n)
		}
	}
	return &rterrors.ContainerError{Kind: kind, Detail: st.Message()}
}
