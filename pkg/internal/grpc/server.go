package grpc

import (
	"net"

	"github.com/spf13/viper"
	"google.golang.org/grpc"
	healthcheck "google.golang.org/grpc/health"
	health "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name the health service reports the meeting API under.
const ServiceName = "hypernet.meeting"

type Server struct {
	srv    *grpc.Server
	health *healthcheck.Server
}

func NewGrpc() *Server {
	server := &Server{
		srv:    grpc.NewServer(),
		health: healthcheck.NewServer(),
	}

	health.RegisterHealthServer(server.srv, server.health)
	reflection.Register(server.srv)

	server.SetServing(false)

	return server
}

// SetServing flips the reported status of the meeting API.
func (v *Server) SetServing(serving bool) {
	status := health.HealthCheckResponse_NOT_SERVING
	if serving {
		status = health.HealthCheckResponse_SERVING
	}
	v.health.SetServingStatus("", status)
	v.health.SetServingStatus(ServiceName, status)
}

func (v *Server) Listen() error {
	listener, err := net.Listen("tcp", viper.GetString("grpc_bind"))
	if err != nil {
		return err
	}

	return v.srv.Serve(listener)
}

func (v *Server) Stop() {
	v.health.Shutdown()
	v.srv.GracefulStop()
}
