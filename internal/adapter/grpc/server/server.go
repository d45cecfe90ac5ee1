package server

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/seu-repo/voice-gateway/internal/adapter/grpc/interceptors"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

// ServiceName is the name reported by the gRPC health service alongside the
// overall ("") status.
const ServiceName = "voice.Gateway"

// GRPCServer is the internal probe endpoint. It mirrors the HTTP readiness
// result through the standard grpc.health.v1 service.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	log    *zap.Logger
}

func NewGRPCServer(auth ports.AuthService, log *zap.Logger) *GRPCServer {
	log = log.With(zap.String("component", "grpc"))
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptors.UnaryLoggingInterceptor(log),
			interceptors.UnaryMetricsInterceptor(),
			interceptors.UnaryAuthInterceptor(auth),
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	// Enable reflection for debugging (e.g. grpcurl)
	reflection.Register(s)

	g := &GRPCServer{
		server: s,
		health: hs,
		log:    log,
	}
	g.SetServing(false)
	return g
}

// SetServing flips both the overall and the gateway service status.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// MirrorReadiness polls ready every interval until ctx is done, then
// reports NOT_SERVING.
func (s *GRPCServer) MirrorReadiness(ctx context.Context, ready func(ctx context.Context) bool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ready(ctx)
	s.SetServing(last)
	for {
		select {
		case <-ctx.Done():
			s.SetServing(false)
			return
		case <-ticker.C:
			now := ready(ctx)
			if now != last {
				s.log.Info("Readiness changed", zap.Bool("ready", now))
				last = now
			}
			s.SetServing(now)
		}
	}
}

func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

func (s *GRPCServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
