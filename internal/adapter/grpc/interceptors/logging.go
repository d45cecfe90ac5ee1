package interceptors

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// UnaryLoggingInterceptor logs every call. Health probes are only logged
// when they fail; rejected credentials are a warning, anything else that
// fails is an error.
func UnaryLoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		if err == nil && strings.HasPrefix(info.FullMethod, healthPrefix) {
			return resp, nil
		}

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.String("code", code.String()),
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			fields = append(fields, zap.String("peer", p.Addr.String()))
		}

		switch code {
		case codes.OK:
			log.Debug("gRPC call", fields...)
		case codes.Unauthenticated, codes.PermissionDenied:
			log.Warn("gRPC call rejected", fields...)
		default:
			log.Error("gRPC call failed", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}
