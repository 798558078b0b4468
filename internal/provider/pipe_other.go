//go:build !windows

package provider

import (
	"context"
	"errors"
	"net"
)

func dialPipe(context.Context, string) (net.Conn, error) {
	return nil, errors.New("named pipes are only supported on Windows")
}

func listenPipe(string) (net.Listener, error) {
	return nil, errors.New("named pipes are only supported on Windows")
}
