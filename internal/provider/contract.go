package provider

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the password-vending interface a provider must expose. It
// is both the gRPC service name and the interface name in the manifest.
const ServiceName = "keyshare.v1.KeySharingPassword"

// FetchPasswordMethod is the full method name of the single operation.
const FetchPasswordMethod = "/" + ServiceName + "/FetchPassword"

// ResourceMetadataKey carries the resource a connection is bound to.
const ResourceMetadataKey = "keyshare-resource"

var (
	// ErrNoService means the provider exposes no password service for the
	// resource.
	ErrNoService = errors.New("no password service for resource")

	// ErrConnection means the transport to the provider failed.
	ErrConnection = errors.New("provider connection failed")

	// ErrProtocolUnsupported means the remote end does not implement the
	// password-vending interface.
	ErrProtocolUnsupported = errors.New("provider does not implement " + ServiceName)

	// ErrNoPassword means the fetch returned an error or no password. An
	// empty password is still a password.
	ErrNoPassword = errors.New("provider returned no password")
)

// PasswordServer is the server side of the password-vending interface.
type PasswordServer interface {
	FetchPassword(ctx context.Context, in *emptypb.Empty) (*wrapperspb.StringValue, error)
}

func fetchPasswordHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PasswordServer).FetchPassword(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FetchPasswordMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PasswordServer).FetchPassword(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// PasswordServiceDesc describes the password-vending service for
// grpc.Server.RegisterService.
var PasswordServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PasswordServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FetchPassword", Handler: fetchPasswordHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "keyshare/v1/password.proto",
}
