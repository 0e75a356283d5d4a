package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthChecker queries the standard gRPC health service.
type healthChecker struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
}

func newHealthChecker(addr string, opts ...grpc.DialOption) (*healthChecker, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client for %s: %w", addr, err)
	}
	return &healthChecker{conn: conn, client: healthpb.NewHealthClient(conn)}, nil
}

// Serving reports whether the overall server health is SERVING.
func (h *healthChecker) Serving(ctx context.Context) bool {
	resp, err := h.client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (h *healthChecker) Close() error {
	return h.conn.Close()
}
