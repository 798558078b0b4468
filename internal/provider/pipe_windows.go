package provider

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

// dialPipe connects to a Windows named pipe such as \\.\pipe\keyshare.
func dialPipe(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}

// listenPipe listens on a Windows named pipe restricted to the current user.
func listenPipe(path string) (net.Listener, error) {
	return winio.ListenPipe(path, &winio.PipeConfig{
		// Owner-only DACL.
		SecurityDescriptor: "D:P(A;;GA;;;OW)",
	})
}
