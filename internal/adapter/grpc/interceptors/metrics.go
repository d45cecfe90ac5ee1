package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
)

// UnaryMetricsInterceptor counts calls by method and status code and
// observes their latency.
func UnaryMetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		telemetry.GRPCLatency.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		telemetry.GRPCRequests.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return resp, err
	}
}
