// Package healthsrv exposes the standard gRPC health service, reporting the
// scanner session as serving once it is configured.
package healthsrv

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/os32c/internal/monitoring"
	"github.com/banshee-data/os32c/internal/session"
)

// ScannerService is the service name health checks should ask about. The
// empty name reports the process as a whole.
const ScannerService = "os32c.Scanner"

// Server wraps a gRPC server carrying only the health service.
type Server struct {
	addr     string
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewServer creates a health server that will listen on addr. The scanner
// starts out not serving.
func NewServer(addr string) *Server {
	hs := health.NewServer()
	hs.SetServingStatus(ScannerService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &Server{addr: addr, server: srv, health: hs}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on an existing listener in the background.
func (s *Server) Serve(lis net.Listener) {
	s.listener = lis
	s.running.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("[gRPC] health server listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("[gRPC] health server error: %v", err)
		}
	}()
}

// SetSessionState maps a session state onto the scanner service status.
// Configured and streaming sessions are serving.
func (s *Server) SetSessionState(st session.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st == session.StateConfigured || st == session.StateStreaming {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ScannerService, status)
}

// Stop marks every service as not serving and stops the server.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Logf("[gRPC] health server stopped")
}
