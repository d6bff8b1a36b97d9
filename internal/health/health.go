// Package health reports the registered remote controls over the
// grpc.health.v1 protocol and a plain HTTP /healthz endpoint.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/kennygrant/sanitize"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/rc-manager/internal/mux"
	"github.com/ydb-platform/rc-manager/internal/rc"
)

// Registry is the part of rc.Registry the health server reads.
type Registry interface {
	mux.Source[rc.Event]
	Infos() []rc.Info
}

// ServiceName is the grpc health service of the receiver at lircPath.
func ServiceName(lircPath string) string {
	return "rc-" + sanitize.BaseName(filepath.Base(lircPath))
}

type Server struct {
	registry Registry
	health   *grpchealth.Server
}

func NewServer(registry Registry) *Server {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &Server{
		registry: registry,
		health:   hs,
	}
}

// Watch keeps per-device statuses in line with the registry until the
// returned func is called.
func (s *Server) Watch() mux.CancelFunc {
	return s.registry.Subscribe(mux.SinkFunc(s.apply))
}

func (s *Server) apply(ev rc.Event) error {
	switch ev := ev.(type) {
	case rc.Init:
		for _, info := range ev.Infos {
			s.setStatus(info.LircPath, healthpb.HealthCheckResponse_SERVING)
		}
	case rc.Added:
		s.setStatus(ev.LircPath, healthpb.HealthCheckResponse_SERVING)
	case rc.Removed:
		s.setStatus(ev.LircPath, healthpb.HealthCheckResponse_NOT_SERVING)
	default:
		return fmt.Errorf("unexpected registry event %T", ev)
	}
	return nil
}

func (s *Server) setStatus(lircPath string, status healthpb.HealthCheckResponse_ServingStatus) {
	service := ServiceName(lircPath)
	klog.V(2).Infof("health service %q is %s", service, status)
	s.health.SetServingStatus(service, status)
}

// Serve exposes the health service on a unix socket until ctx is done.
func (s *Server) Serve(ctx context.Context, wg *sync.WaitGroup, socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		klog.Errorf("failed to remove socket file %q: %v", socketPath, err)
		return fmt.Errorf("failed to remove socket file %s: %w", socketPath, err)
	}

	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, s.health)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		klog.Errorf("failed to listen on socket %q: %v", socketPath, err)
		return fmt.Errorf("failed to listen on socket %s: %w", socketPath, err)
	}

	go server.Serve(listener)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer listener.Close()
		defer server.Stop()
		klog.Infof("Serving grpc health on socket %q", socketPath)
		<-ctx.Done()
		s.health.Shutdown()
	}()

	return nil
}

// Healthz answers 200 and lists one registered receiver per line.
func (s *Server) Healthz(resp http.ResponseWriter, req *http.Request) {
	infos := s.registry.Infos()
	resp.Header().Set("Content-Type", "text/plain; charset=utf-8")
	resp.WriteHeader(http.StatusOK)
	for _, info := range infos {
		fmt.Fprintf(resp, "%s event=%s frontends=%v\n", info.LircPath, info.EventPath, info.Frontends)
	}
}
