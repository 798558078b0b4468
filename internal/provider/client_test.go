package provider

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/test/bufconn"
)

// startBufServer serves srv over an in-memory listener and returns a
// Channel that dials it.
func startBufServer(t *testing.T, serve func(net.Listener), stop func()) *Channel {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go serve(lis)
	t.Cleanup(stop)
	return &Channel{
		ConnectTimeout: 2 * time.Second,
		FetchTimeout:   2 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	}
}

// startReference serves the reference Server with fn over bufconn.
func startReference(t *testing.T, fn PasswordFunc) *Channel {
	t.Helper()
	srv := NewServer(fn)
	return startBufServer(t, func(lis net.Listener) { _ = srv.Serve(lis) }, srv.Stop)
}

// startRaw serves a bare grpc.Server configured by register over bufconn.
func startRaw(t *testing.T, register func(*grpc.Server)) *Channel {
	t.Helper()
	srv := grpc.NewServer()
	register(srv)
	return startBufServer(t, func(lis net.Listener) { _ = srv.Serve(lis) }, srv.Stop)
}

var bufService = Service{Name: "password", Interface: ServiceName, Endpoint: "bufnet"}

func TestConn_FetchPassword(t *testing.T) {
	// WHY: The happy path carries the bound resource to the provider and the
	// password back, wrapped in a Secret.
	t.Parallel()
	var gotResource string
	ch := startReference(t, func(_ context.Context, resource string) (Secret, error) {
		gotResource = resource
		return NewSecret("s3cret"), nil
	})

	conn, err := ch.Connect(context.Background(), bufService, "/docs/id.p12")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	secret, err := conn.FetchPassword(context.Background())
	if err != nil {
		t.Fatalf("FetchPassword: %v", err)
	}
	if secret.Reveal() != "s3cret" {
		t.Errorf("password mismatch")
	}
	if gotResource != "/docs/id.p12" {
		t.Errorf("provider saw resource %q", gotResource)
	}
}

func TestConn_FetchPassword_Empty(t *testing.T) {
	// WHY: Containers exported without a password decrypt with "", so an
	// empty answer is a real password and must come back as a valid Secret.
	t.Parallel()
	ch := startReference(t, func(context.Context, string) (Secret, error) { return NewSecret(""), nil })
	conn, err := ch.Connect(context.Background(), bufService, "r")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	secret, err := conn.FetchPassword(context.Background())
	if err != nil {
		t.Fatalf("FetchPassword: %v", err)
	}
	if !secret.Valid() || secret.Reveal() != "" {
		t.Error("want a valid empty password")
	}
}

func TestConn_FetchPasswordFailures(t *testing.T) {
	// WHY: A remote error is PasswordUnavailable and a provider with no
	// password at all must refuse rather than vend one.
	t.Parallel()
	tests := []struct {
		name string
		fn   PasswordFunc
	}{
		{"remote error", func(context.Context, string) (Secret, error) { return Secret{}, errors.New("locked") }},
		{"zero secret", func(context.Context, string) (Secret, error) { return Secret{}, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ch := startReference(t, tt.fn)
			conn, err := ch.Connect(context.Background(), bufService, "r")
			if err != nil {
				t.Fatalf("Connect: %v", err)
			}
			defer conn.Close()
			if _, err := conn.FetchPassword(context.Background()); !errors.Is(err, ErrNoPassword) {
				t.Errorf("err = %v, want ErrNoPassword", err)
			}
		})
	}
}

func TestConnect_ProtocolUnsupported(t *testing.T) {
	// WHY: Capability negotiation is explicit; an endpoint that does not
	// advertise the password interface must fail as ProtocolUnsupported
	// before any fetch is attempted.
	t.Parallel()
	tests := []struct {
		name     string
		register func(*grpc.Server)
	}{
		{"health without password service", func(s *grpc.Server) {
			healthpb.RegisterHealthServer(s, health.NewServer())
		}},
		{"password service not serving", func(s *grpc.Server) {
			h := health.NewServer()
			h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			healthpb.RegisterHealthServer(s, h)
		}},
		{"no health service", func(s *grpc.Server) {}},
		{"password service without health or reflection", func(s *grpc.Server) {
			s.RegisterService(&PasswordServiceDesc, &Server{})
		}},
		{"reflection without password service", func(s *grpc.Server) {
			reflection.Register(s)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ch := startRaw(t, tt.register)
			_, err := ch.Connect(context.Background(), bufService, "r")
			if !errors.Is(err, ErrProtocolUnsupported) {
				t.Errorf("err = %v, want ErrProtocolUnsupported", err)
			}
		})
	}
}

func TestConnect_ReflectionFallback(t *testing.T) {
	// WHY: Providers built without the health service still advertise the
	// password interface through server reflection; Connect must accept
	// them and the fetch must work.
	t.Parallel()
	fn := func(context.Context, string) (Secret, error) { return NewSecret("reflected"), nil }
	ch := startRaw(t, func(s *grpc.Server) {
		s.RegisterService(&PasswordServiceDesc, &Server{password: fn})
		reflection.Register(s)
	})

	conn, err := ch.Connect(context.Background(), bufService, "r")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	secret, err := conn.FetchPassword(context.Background())
	if err != nil {
		t.Fatalf("FetchPassword: %v", err)
	}
	if secret.Reveal() != "reflected" {
		t.Error("password mismatch")
	}
}

func TestConnect_TransportFailure(t *testing.T) {
	// WHY: Nothing listening is a connection error, distinct from a peer
	// that answers but lacks the interface.
	t.Parallel()
	ch := &Channel{ConnectTimeout: time.Second}
	svc := Service{Name: "password", Interface: ServiceName, Endpoint: "unix://" + filepath.Join(t.TempDir(), "absent.sock")}
	if _, err := ch.Connect(context.Background(), svc, "r"); !errors.Is(err, ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}

	svc.Endpoint = ""
	if _, err := ch.Connect(context.Background(), svc, "r"); !errors.Is(err, ErrConnection) {
		t.Errorf("empty endpoint err = %v, want ErrConnection", err)
	}
}

func TestDiscoverAndFetch_UnixSocket(t *testing.T) {
	// WHY: End to end over a real unix socket: manifest discovery, peer
	// credential check, health negotiation and the fetch itself.
	t.Parallel()
	// Short directory: unix socket paths are length limited.
	dir, err := os.MkdirTemp("", "ks")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	endpoint := "unix://" + filepath.Join(dir, "p.sock")
	lis, err := Listen(endpoint)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	srv := NewServer(func(context.Context, string) (Secret, error) { return NewSecret("over-unix"), nil })
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	if err := WriteManifest(dir, Manifest{
		Provider: "Test",
		Services: []Service{{Name: "password", Interface: ServiceName, Endpoint: "unix:p.sock"}},
	}); err != nil {
		t.Fatal(err)
	}

	ch := &Channel{ConnectTimeout: 2 * time.Second, FetchTimeout: 2 * time.Second}
	secret, err := ch.DiscoverAndFetch(context.Background(), filepath.Join(dir, "bundle.zip"))
	if err != nil {
		t.Fatalf("DiscoverAndFetch: %v", err)
	}
	if secret.Reveal() != "over-unix" {
		t.Error("password mismatch")
	}
}

func TestDiscover_NoService(t *testing.T) {
	t.Parallel()
	ch := &Channel{}
	if _, err := ch.Discover(context.Background(), filepath.Join(t.TempDir(), "a.p12")); !errors.Is(err, ErrNoService) {
		t.Errorf("err = %v, want ErrNoService", err)
	}
}
