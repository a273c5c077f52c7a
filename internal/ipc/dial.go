// Package ipc provides the gRPC client of the search daemon's local socket.
package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Default timeouts for different operation types
const (
	// DialTimeout is the maximum time to wait for initial connection
	DialTimeout = 250 * time.Millisecond

	// DefaultCallTimeout bounds unary calls when no timeout is configured
	DefaultCallTimeout = 5 * time.Second

	// SpawnTimeout is how long to wait for a spawned daemon's socket
	SpawnTimeout = 3 * time.Second
)

// SocketExists checks if a socket file exists at path
func SocketExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Dial connects to the daemon socket with the specified timeout.
func Dial(socketPath string, timeout time.Duration) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return DialContext(ctx, socketPath)
}

// DialContext connects to the daemon socket and blocks until the
// connection is up or ctx is done.
func DialContext(ctx context.Context, socketPath string) (*grpc.ClientConn, error) {
	if !SocketExists(socketPath) {
		return nil, fmt.Errorf("socket not found: %s", socketPath)
	}

	// The dialer receives the target address, but we use socketPath directly
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}

	//nolint:staticcheck // Using deprecated DialContext for blocking connection behavior
	conn, err := grpc.DialContext(
		ctx,
		"passthrough:///"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return conn, nil
}

// QuickDial attempts a fast connection to the daemon.
func QuickDial(socketPath string) (*grpc.ClientConn, error) {
	return Dial(socketPath, DialTimeout)
}
