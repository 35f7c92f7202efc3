package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"ocirt/logging"
)

// requestIDHeader is echoed back to the client and attached to every log
// line of the request.
const requestIDHeader = "x-request-id"

type interceptor struct {
	logger  *slog.Logger
	limiter *rate.Limiter
	metrics *Metrics
}

// requestID takes the caller's id when it sent one.
func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(requestIDHeader); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return uuid.NewString()
}

func (i *interceptor) unary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	id := requestID(ctx)
	_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, id))

	logger := logging.WithOperation(i.logger, info.FullMethod).With("request_id", id)
	ctx = logging.ContextWithLogger(ctx, logger)

	var resp any
	var err error
	if info.FullMethod == fullMethod("Create") && i.limiter != nil && !i.limiter.Allow() {
		if i.metrics != nil {
			i.metrics.RateLimited.Inc()
		}
		err = status.Error(codes.ResourceExhausted, "create rate limit exceeded")
	} else {
		logging.DebugContext(ctx, "request")
		resp, err = handler(ctx, req)
		err = toStatus(ctx, err)
	}

	code := status.Code(err)
	elapsed := time.Since(start)
	if i.metrics != nil {
		i.metrics.Requests.WithLabelValues(info.FullMethod, code.String()).Inc()
		i.metrics.RequestDuration.WithLabelValues(info.FullMethod).Observe(elapsed.Seconds())
	}
	switch {
	case err == nil:
		logging.InfoContext(ctx, "request", "duration", elapsed)
	case code == codes.Internal || code == codes.Unknown:
		logging.ErrorContext(ctx, "request failed", "code", code.String(), "duration", elapsed, "error", err)
	default:
		logging.WarnContext(ctx, "request failed", "code", code.String(), "duration", elapsed, "error", err)
	}
	return resp, err
}
