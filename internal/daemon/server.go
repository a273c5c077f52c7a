// Package daemon serves the search broker on a local unix socket and runs
// the daemon lifecycle around it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/rpc"
	"github.com/phosh-mobile/searchd/internal/search"
)

// Version is set at build time
var Version = "dev"

// DefaultSubscriberBuffer is the number of events queued per Subscribe
// stream before the subscriber is dropped.
const DefaultSubscriberBuffer = 256

// Broker is the broker surface served on the socket.
type Broker interface {
	Query(text string) bool
	GetSources() []search.Source
	GetLastResults() map[string][]*search.ResultMeta
	ActivateResult(sourceID, resultID string, timestamp uint32)
	LaunchSource(sourceID string, timestamp uint32)
	Subscribe(l broker.Listener) (unsubscribe func())
	Status() broker.Status
}

// Server is the gRPC server of the local socket API.
type Server struct {
	rpc.UnimplementedSearchServiceServer

	broker           Broker
	socketPath       string
	subscriberBuffer int
	logger           *slog.Logger

	mu         sync.Mutex
	grpcServer *grpc.Server
	listener   net.Listener

	startTime    time.Time
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	// Metrics
	requests    atomic.Int64
	subscribers atomic.Int32
}

// ServerConfig contains configuration options for the socket server.
type ServerConfig struct {
	// Broker serves the requests (required)
	Broker Broker

	// SocketPath is the unix socket to listen on (required)
	SocketPath string

	// SubscriberBuffer bounds the events queued per Subscribe stream.
	// Default: 256
	SubscriberBuffer int

	// Logger is the structured logger (optional, uses default if nil)
	Logger *slog.Logger
}

// NewServer creates a socket server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	buffer := cfg.SubscriberBuffer
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	return &Server{
		broker:           cfg.Broker,
		socketPath:       cfg.SocketPath,
		subscriberBuffer: buffer,
		logger:           logger,
		startTime:        time.Now(),
		shutdownChan:     make(chan struct{}),
	}, nil
}

// Start listens on the socket and serves until ctx is cancelled or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if err := EnsureSecureDirectory(filepath.Dir(s.socketPath)); err != nil {
		return fmt.Errorf("failed to prepare socket directory: %w", err)
	}

	// Clean up stale socket
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove stale socket", "path", s.socketPath, "error", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set socket permissions (readable/writable by owner only)
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	grpcServer := grpc.NewServer()
	rpc.RegisterSearchServiceServer(grpcServer, s)

	s.mu.Lock()
	s.listener = listener
	s.grpcServer = grpcServer
	s.mu.Unlock()

	s.logger.Info("socket server listening", "socket", s.socketPath, "pid", os.Getpid())

	errChan := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		} else {
			errChan <- nil
		}
	}()

	select {
	case <-ctx.Done():
		s.Shutdown()
		<-errChan
		return nil
	case <-s.shutdownChan:
		// Shutdown may have run before the grpc server existed.
		grpcServer.GracefulStop()
		<-errChan
		return nil
	case err := <-errChan:
		s.Shutdown()
		return err
	}
}

// Shutdown stops the server and removes the socket. It is safe to call
// more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("socket server shutting down")

		// Ends open Subscribe streams so GracefulStop can return.
		close(s.shutdownChan)

		s.mu.Lock()
		grpcServer, listener := s.grpcServer, s.listener
		s.mu.Unlock()

		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if listener != nil {
			listener.Close()
		}

		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove socket", "path", s.socketPath, "error", err)
		}
	})
}

// SocketPath returns the socket the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Uptime returns the time since the server was created.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Subscribers returns the number of open Subscribe streams.
func (s *Server) Subscribers() int {
	return int(s.subscribers.Load())
}

// RequestsServed returns the number of unary requests handled.
func (s *Server) RequestsServed() int64 {
	return s.requests.Load()
}
