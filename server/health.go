package server

import (
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name the node reports under, next to the
// empty name that stands for the whole server.
const HealthService = "distkv.Node"

type healthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
}

func newHealthServer() *healthServer {
	var hs = health.NewServer()
	var grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	var s = &healthServer{grpcServer: grpcServer, health: hs}
	s.setServing(false)
	return s
}

func (s *healthServer) serve(ln net.Listener) error {
	if err := s.grpcServer.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *healthServer) setServing(serving bool) {
	var status = healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(HealthService, status)
}

func (s *healthServer) stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
