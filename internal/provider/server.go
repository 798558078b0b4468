package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// PasswordFunc returns the password for resource. Returning an error or the
// zero Secret makes the fetch fail without revealing why.
type PasswordFunc func(ctx context.Context, resource string) (Secret, error)

// Server is a reference password provider. It serves the password-vending
// interface plus the gRPC health and reflection services used for capability
// negotiation.
type Server struct {
	password PasswordFunc
	grpc     *grpc.Server
	health   *health.Server
}

// NewServer returns a Server answering fetches with fn.
func NewServer(fn PasswordFunc, opts ...grpc.ServerOption) *Server {
	s := &Server{
		password: fn,
		grpc:     grpc.NewServer(opts...),
		health:   health.NewServer(),
	}
	s.grpc.RegisterService(&PasswordServiceDesc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// FetchPassword implements PasswordServer.
func (s *Server) FetchPassword(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	var resource string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(ResourceMetadataKey); len(v) > 0 {
			resource = v[0]
		}
	}
	secret, err := s.password(ctx, resource)
	if err == nil && !secret.Valid() {
		err = errors.New("no password for resource")
	}
	if err != nil {
		slog.Info("refusing password fetch", "locator", resource, "error", err)
		return nil, status.Error(codes.PermissionDenied, "password unavailable")
	}
	slog.Debug("served password fetch", "locator", resource)
	return wrapperspb.String(secret.Reveal()), nil
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving password service: %w", err)
	}
	return nil
}

// Stop marks the service as not serving and stops gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// Listen opens a listener for a manifest endpoint. A stale unix socket file
// is removed first.
func Listen(endpoint string) (net.Listener, error) {
	switch {
	case strings.HasPrefix(endpoint, "unix:"):
		path := strings.TrimPrefix(strings.TrimPrefix(endpoint, "unix:"), "//")
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
		}
		lis, err := net.Listen("unix", path)
		if err != nil {
			return nil, fmt.Errorf("listening on %s: %w", path, err)
		}
		if err := os.Chmod(path, 0o600); err != nil {
			_ = lis.Close()
			return nil, fmt.Errorf("restricting socket %s: %w", path, err)
		}
		return lis, nil
	case strings.HasPrefix(endpoint, "npipe://"):
		return listenPipe(strings.TrimPrefix(endpoint, "npipe://"))
	default:
		lis, err := net.Listen("tcp", endpoint)
		if err != nil {
			return nil, fmt.Errorf("listening on %s: %w", endpoint, err)
		}
		return lis, nil
	}
}
