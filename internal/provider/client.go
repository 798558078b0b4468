package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/credentials/local"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Default timeouts for the channel.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultFetchTimeout   = 10 * time.Second
)

// Channel discovers password services and opens connections to them. The
// zero value uses the default timeouts.
type Channel struct {
	ConnectTimeout time.Duration
	FetchTimeout   time.Duration

	// DialOptions are applied after the endpoint's own options and may
	// override them.
	DialOptions []grpc.DialOption
}

// Discover returns the password service for the resource at locator.
func (c *Channel) Discover(_ context.Context, locator string) (Service, error) {
	services, err := ServicesFor(locator)
	if err != nil {
		return Service{}, fmt.Errorf("%w: %w", ErrNoService, err)
	}
	return Match(services)
}

// Connect opens a connection to svc bound to resource and verifies that the
// remote end serves the password-vending interface.
//
// Providers advertise the interface through the gRPC health service, which
// must report ServiceName as SERVING. A provider without the health service
// is accepted if the gRPC server reflection service lists ServiceName. A
// provider with neither is ErrProtocolUnsupported.
func (c *Channel) Connect(ctx context.Context, svc Service, resource string) (*Conn, error) {
	target, opts, err := dialTarget(svc.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	opts = append(opts, c.DialOptions...)

	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating client for %s: %w", ErrConnection, svc.Endpoint, err)
	}

	hctx, cancel := context.WithTimeout(ctx, orDefault(c.ConnectTimeout, DefaultConnectTimeout))
	defer cancel()
	resp, err := healthpb.NewHealthClient(cc).Check(hctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	switch {
	case status.Code(err) == codes.Unimplemented:
		slog.Debug("provider has no health service, asking reflection", "service", svc.Name)
		err = listedByReflection(hctx, cc)
	case err == nil && resp.GetStatus() != healthpb.HealthCheckResponse_SERVING:
		err = status.Errorf(codes.NotFound, "%s is %s", ServiceName, resp.GetStatus())
	}
	if err != nil {
		closeConn(cc, svc.Endpoint)
		return nil, classifyConnectError(svc.Endpoint, err)
	}

	slog.Debug("connected to password service", "service", svc.Name, "provider", svc.Provider)
	return &Conn{
		cc:       cc,
		resource: resource,
		timeout:  orDefault(c.FetchTimeout, DefaultFetchTimeout),
	}, nil
}

// DiscoverAndFetch runs discovery, connection and one fetch for locator,
// closing the connection afterwards.
func (c *Channel) DiscoverAndFetch(ctx context.Context, locator string) (Secret, error) {
	svc, err := c.Discover(ctx, locator)
	if err != nil {
		return Secret{}, err
	}
	conn, err := c.Connect(ctx, svc, locator)
	if err != nil {
		return Secret{}, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Warn("closing password connection", "service", svc.Name, "error", err)
		}
	}()
	return conn.FetchPassword(ctx)
}

// Conn is a live connection to one password service, scoped to one
// resource. It serves a single fetch and is not reused.
type Conn struct {
	cc       *grpc.ClientConn
	resource string
	timeout  time.Duration
}

// FetchPassword performs the single password fetch. A remote error is
// reported as ErrNoPassword. An empty answer is a valid empty password.
func (c *Conn) FetchPassword(ctx context.Context) (Secret, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, ResourceMetadataKey, c.resource)

	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, FetchPasswordMethod, &emptypb.Empty{}, out); err != nil {
		return Secret{}, fmt.Errorf("%w: %s", ErrNoPassword, status.Code(err))
	}
	return NewSecret(out.GetValue()), nil
}

// Close tears down the connection.
func (c *Conn) Close() error {
	return c.cc.Close()
}

// listedByReflection reports whether the server reflection service lists
// ServiceName. A server without reflection fails with Unimplemented.
func listedByReflection(ctx context.Context, cc grpc.ClientConnInterface) error {
	stream, err := reflectionpb.NewServerReflectionClient(cc).ServerReflectionInfo(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = stream.CloseSend() }()

	req := &reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{ListServices: "*"},
	}
	if err := stream.Send(req); err != nil {
		return err
	}
	resp, err := stream.Recv()
	if err != nil {
		return err
	}
	for _, s := range resp.GetListServicesResponse().GetService() {
		if s.GetName() == ServiceName {
			return nil
		}
	}
	return status.Errorf(codes.NotFound, "%s not listed by reflection", ServiceName)
}

func classifyConnectError(endpoint string, err error) error {
	switch status.Code(err) {
	case codes.NotFound, codes.Unimplemented:
		return fmt.Errorf("%w: %s: %v", ErrProtocolUnsupported, endpoint, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrConnection, endpoint, err)
	}
}

// dialTarget maps a manifest endpoint to a gRPC target and the options
// needed to reach it. unix:// endpoints are dialed with a peer credential
// check, npipe:// endpoints through a named pipe, anything else over TCP.
// Credentials only permit local transports.
func dialTarget(endpoint string) (string, []grpc.DialOption, error) {
	switch {
	case strings.HasPrefix(endpoint, "unix://"), strings.HasPrefix(endpoint, "unix:"):
		path := strings.TrimPrefix(strings.TrimPrefix(endpoint, "unix:"), "//")
		if path == "" {
			return "", nil, fmt.Errorf("empty unix socket path in %q", endpoint)
		}
		return "passthrough:///" + path, []grpc.DialOption{
			grpc.WithTransportCredentials(local.NewCredentials()),
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return dialUnix(ctx, path)
			}),
		}, nil
	case strings.HasPrefix(endpoint, "npipe://"):
		path := strings.TrimPrefix(endpoint, "npipe://")
		return "passthrough:///" + path, []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return dialPipe(ctx, path)
			}),
		}, nil
	case endpoint == "":
		return "", nil, errors.New("service has no endpoint")
	default:
		return "passthrough:///" + endpoint, []grpc.DialOption{
			grpc.WithTransportCredentials(local.NewCredentials()),
		}, nil
	}
}

func dialUnix(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	if err := checkPeer(conn); err != nil {
		slog.Warn("rejecting password service peer", "socket", path, "error", err)
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func closeConn(cc *grpc.ClientConn, endpoint string) {
	if err := cc.Close(); err != nil {
		slog.Warn("closing provider connection", "endpoint", endpoint, "error", err)
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
