package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/rpc"
	"github.com/phosh-mobile/searchd/internal/search"
)

// Options configures NewClient.
type Options struct {
	// SocketPath is the daemon socket (required)
	SocketPath string

	// CallTimeout bounds each unary call (default DefaultCallTimeout)
	CallTimeout time.Duration

	// AutoStart spawns the daemon when nothing answers on the socket
	AutoStart bool

	Logger *slog.Logger
}

// Client wraps the gRPC client with convenience methods and proper timeouts.
type Client struct {
	conn    *grpc.ClientConn
	client  rpc.SearchServiceClient
	timeout time.Duration
	logger  *slog.Logger
}

// Status is the daemon state reported by GetStatus.
type Status struct {
	Version        string
	Uptime         time.Duration
	Query          string
	Terms          []string
	QueryID        string
	Subsearch      bool
	Outstanding    int
	Providers      int
	ReadyProviders int
	Subscribers    int
	Requests       int64
	// ProviderReady maps each provider id to its readiness.
	ProviderReady map[string]bool
}

// NewClient connects to the daemon, spawning it first if opts.AutoStart
// is set.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if opts.AutoStart {
		if err := EnsureDaemon(ctx, opts.SocketPath, SpawnTimeout); err != nil {
			return nil, fmt.Errorf("failed to start daemon: %w", err)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	conn, err := DialContext(dialCtx, opts.SocketPath)
	if err != nil {
		return nil, err
	}

	c := NewClientWithConn(conn, opts.CallTimeout, opts.Logger)
	c.conn = conn
	return c, nil
}

// NewClientWithConn creates a client on an existing connection. Close
// leaves cc open unless it came from NewClient.
func NewClientWithConn(cc grpc.ClientConnInterface, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:  rpc.NewSearchServiceClient(cc),
		timeout: timeout,
		logger:  logger,
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Query sends text and reports whether the daemon started a new search.
func (c *Client) Query(ctx context.Context, text string) (bool, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	resp, err := c.client.Query(ctx, wrapperspb.String(text))
	if err != nil {
		return false, fmt.Errorf("Query: %w", err)
	}
	return resp.GetValue(), nil
}

// GetSources returns the source tuples in display order.
func (c *Client) GetSources(ctx context.Context) ([]search.SourceTuple, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	resp, err := c.client.GetSources(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("GetSources: %w", err)
	}
	return rpc.SourcesFromList(resp)
}

// GetLastResults returns the cached results per source. Malformed entries
// are logged and dropped.
func (c *Client) GetLastResults(ctx context.Context) (map[string][]*search.ResultMeta, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	resp, err := c.client.GetLastResults(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("GetLastResults: %w", err)
	}
	last, err := rpc.LastResultsFromStruct(resp)
	if err != nil {
		c.logger.Warn("dropping malformed result metas", "error", err)
	}
	return last, nil
}

// ActivateResult asks the daemon to activate a result.
func (c *Client) ActivateResult(ctx context.Context, sourceID, resultID string, timestamp uint32) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	req := rpc.ActivateRequest{SourceID: sourceID, ResultID: resultID, Timestamp: timestamp}
	if _, err := c.client.ActivateResult(ctx, req.ToStruct()); err != nil {
		return fmt.Errorf("ActivateResult: %w", err)
	}
	return nil
}

// LaunchSource asks the daemon to launch a provider's own search.
func (c *Client) LaunchSource(ctx context.Context, sourceID string, timestamp uint32) error {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	req := rpc.ActivateRequest{SourceID: sourceID, Timestamp: timestamp}
	if _, err := c.client.LaunchSource(ctx, req.ToStruct()); err != nil {
		return fmt.Errorf("LaunchSource: %w", err)
	}
	return nil
}

// GetStatus returns the daemon's current state.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	ctx, cancel := c.callCtx(ctx)
	defer cancel()

	resp, err := c.client.GetStatus(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("GetStatus: %w", err)
	}
	return statusFromStruct(resp), nil
}

func statusFromStruct(s *structpb.Struct) *Status {
	f := s.GetFields()
	var terms []string
	for _, v := range f["terms"].GetListValue().GetValues() {
		terms = append(terms, v.GetStringValue())
	}
	var ready map[string]bool
	if fields := f["provider_ready"].GetStructValue().GetFields(); len(fields) > 0 {
		ready = make(map[string]bool, len(fields))
		for id, v := range fields {
			ready[id] = v.GetBoolValue()
		}
	}
	return &Status{
		Version:        f["version"].GetStringValue(),
		Uptime:         time.Duration(f["uptime_seconds"].GetNumberValue()) * time.Second,
		Query:          f["query"].GetStringValue(),
		Terms:          terms,
		QueryID:        f["query_id"].GetStringValue(),
		Subsearch:      f["subsearch"].GetBoolValue(),
		Outstanding:    int(f["outstanding"].GetNumberValue()),
		Providers:      int(f["providers"].GetNumberValue()),
		ReadyProviders: int(f["ready_providers"].GetNumberValue()),
		Subscribers:    int(f["subscribers"].GetNumberValue()),
		Requests:       int64(f["requests"].GetNumberValue()),
		ProviderReady:  ready,
	}
}

// Events streams broker events until ctx is done or the daemon closes the
// stream. The channel is closed at the end.
func (c *Client) Events(ctx context.Context) (<-chan broker.Event, error) {
	stream, err := c.client.Subscribe(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fmt.Errorf("Subscribe: %w", err)
	}
	// The daemon sends headers once it is subscribed to the broker.
	if _, err := stream.Header(); err != nil {
		return nil, fmt.Errorf("Subscribe: %w", err)
	}

	out := make(chan broker.Event, 64)
	go func() {
		defer close(out)
		for {
			msg, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
					c.logger.Warn("event stream ended", "error", err)
				}
				return
			}
			ev, err := rpc.EventFromStruct(msg)
			if err != nil {
				c.logger.Warn("malformed event", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
