package grpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"rollcall/attendance/internal/attendance"
)

// NewServer builds the internal gRPC server with the admin and health services registered.
func NewServer(serviceToken string, svc *attendance.Service) (*grpc.Server, *health.Server, error) {
	interceptor, err := NewServiceAuthUnaryInterceptor(serviceToken)
	if err != nil {
		return nil, nil, err
	}
	server := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	RegisterAdminService(server, NewAdminServer(svc))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(AdminServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer, nil
}
