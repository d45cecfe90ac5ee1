package server

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/seu-repo/voice-gateway/internal/mocks"
)

func dial(t *testing.T, s *GRPCServer) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestHealthMirrorsReadiness(t *testing.T) {
	s := NewGRPCServer(&mocks.MockAuthService{}, zap.NewNop())
	client := dial(t, s)

	var ready atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.MirrorReadiness(ctx, func(context.Context) bool { return ready.Load() }, 10*time.Millisecond)

	waitFor := func(want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
			if err == nil && resp.Status == want {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("health never reported %s", want)
	}

	waitFor(healthpb.HealthCheckResponse_NOT_SERVING)
	ready.Store(true)
	waitFor(healthpb.HealthCheckResponse_SERVING)
	ready.Store(false)
	waitFor(healthpb.HealthCheckResponse_NOT_SERVING)
}
