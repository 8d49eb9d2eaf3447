package handler

import (
	"context"
	"log"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const pingTimeout = 2 * time.Second

// Pinger checks a backing store, e.g. *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server implements grpc.health.v1.Health for readiness probes.
// The overall status ("") and each name in services report NOT_SERVING when any pinger fails.
type Server struct {
	healthpb.UnimplementedHealthServer

	pingers  map[string]Pinger
	services map[string]struct{}
}

// NewServer returns a health server. pingers maps a label used in logs (e.g. "security_db") to a
// store; nil pingers are skipped. services lists the gRPC service names the server answers for.
func NewServer(pingers map[string]Pinger, services ...string) *Server {
	s := &Server{pingers: make(map[string]Pinger, len(pingers)), services: map[string]struct{}{"": {}}}
	for name, p := range pingers {
		if p != nil {
			s.pingers[name] = p
		}
	}
	for _, svc := range services {
		s.services[svc] = struct{}{}
	}
	return s
}

// Check pings every store. A ping failure is reported as NOT_SERVING, never as an RPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if _, ok := s.services[req.GetService()]; !ok {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	for name, p := range s.pingers {
		if err := p.PingContext(ctx); err != nil {
			log.Printf("health: %s ping failed: %v", name, err)
			return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
		}
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
