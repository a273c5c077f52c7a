package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/logging"
	"github.com/phosh-mobile/searchd/internal/rpc"
	"github.com/phosh-mobile/searchd/internal/search"
)

// mockServer implements the SearchService for testing
type mockServer struct {
	rpc.UnimplementedSearchServiceServer

	mu        sync.Mutex
	queries   []string
	activated []rpc.ActivateRequest
	launched  []rpc.ActivateRequest
	events    []broker.Event
}

func (m *mockServer) Query(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, req.GetValue())
	return wrapperspb.Bool(true), nil
}

func (m *mockServer) GetSources(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return rpc.SourcesToList([]search.SourceTuple{
		{ID: "/org/gnome/Settings/SearchProvider", AppID: "org.gnome.Settings.desktop", Position: 0},
	}), nil
}

func (m *mockServer) GetLastResults(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	s := rpc.LastResultsToStruct(map[string][]*search.ResultMeta{
		"/A": {search.NewResultMeta("1", "One")},
	}, nil)
	// One malformed entry is dropped by the client.
	bad := structpb.NewStructValue(&structpb.Struct{})
	s.Fields["/A"].GetListValue().Values = append(s.Fields["/A"].GetListValue().Values, bad)
	return s, nil
}

func (m *mockServer) ActivateResult(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	r, err := rpc.ParseActivateRequest(req)
	if err == nil && r.SourceID == "" {
		err = errors.New("empty source id")
	}
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activated = append(m.activated, r)
	return &emptypb.Empty{}, nil
}

func (m *mockServer) LaunchSource(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	r, err := rpc.ParseActivateRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launched = append(m.launched, r)
	return &emptypb.Empty{}, nil
}

func (m *mockServer) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return rpc.StatusToStruct(broker.Status{
		Query:          "foo",
		Terms:          []string{"foo"},
		Providers:      3,
		ReadyProviders: 2,
		ProviderReady:  map[string]bool{"/A": true, "/B": true, "/C": false},
	}, "1.2.3", 90, 4, 1), nil
}

func (m *mockServer) Subscribe(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}
	for _, ev := range m.events {
		msg, err := rpc.EventToStruct(ev, nil)
		if err != nil {
			return err
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func startMockServer(t *testing.T, mock *mockServer) string {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "searchd-ipc-test-*")
	require.NoError(t, err)
	sockPath := filepath.Join(tmpDir, "test.sock")

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create listener: %v", err)
	}

	server := grpc.NewServer()
	rpc.RegisterSearchServiceServer(server, mock)
	go func() { _ = server.Serve(listener) }()

	t.Cleanup(func() {
		server.Stop()
		listener.Close()
		os.RemoveAll(tmpDir)
	})
	return sockPath
}

func newTestClient(t *testing.T, mock *mockServer) *Client {
	t.Helper()

	client, err := NewClient(context.Background(), Options{
		SocketPath: startMockServer(t, mock),
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientWithMockServer(t *testing.T) {
	mock := &mockServer{}
	client := newTestClient(t, mock)
	ctx := context.Background()

	searching, err := client.Query(ctx, "foo")
	require.NoError(t, err)
	assert.True(t, searching)

	sources, err := client.GetSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []search.SourceTuple{
		{ID: "/org/gnome/Settings/SearchProvider", AppID: "org.gnome.Settings.desktop", Position: 0},
	}, sources)

	last, err := client.GetLastResults(ctx)
	require.NoError(t, err)
	require.Len(t, last["/A"], 1)
	assert.Equal(t, "One", last["/A"][0].Title())

	require.NoError(t, client.ActivateResult(ctx, "/A", "1", 42))
	require.NoError(t, client.LaunchSource(ctx, "/A", 43))

	st, err := client.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Status{
		Version:        "1.2.3",
		Uptime:         90 * time.Second,
		Query:          "foo",
		Terms:          []string{"foo"},
		Providers:      3,
		ReadyProviders: 2,
		Subscribers:    1,
		Requests:       4,
		ProviderReady:  map[string]bool{"/A": true, "/B": true, "/C": false},
	}, st)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Equal(t, []string{"foo"}, mock.queries)
	assert.Equal(t, []rpc.ActivateRequest{{SourceID: "/A", ResultID: "1", Timestamp: 42}}, mock.activated)
	assert.Equal(t, []rpc.ActivateRequest{{SourceID: "/A", Timestamp: 43}}, mock.launched)
}

func TestClientEvents(t *testing.T) {
	mock := &mockServer{events: []broker.Event{
		broker.SourceResultsChanged{SourceID: "/A", Results: []*search.ResultMeta{search.NewResultMeta("1", "One")}},
		broker.SourceResultsChanged{SourceID: "/B"},
		broker.QueryFinished{},
	}}
	client := newTestClient(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := client.Events(ctx)
	require.NoError(t, err)

	var got []broker.Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "/A", got[0].(broker.SourceResultsChanged).SourceID)
	assert.Empty(t, got[1].(broker.SourceResultsChanged).Results)
	assert.Equal(t, broker.QueryFinished{}, got[2])
}

func TestClientErrorsAreWrapped(t *testing.T) {
	client := newTestClient(t, &mockServer{})

	err := client.ActivateResult(context.Background(), "", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ActivateResult")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestNewClientNoSocket(t *testing.T) {
	_, err := NewClient(context.Background(), Options{SocketPath: filepath.Join(t.TempDir(), "missing.sock")})
	assert.Error(t, err)

	_, err = NewClient(context.Background(), Options{})
	assert.Error(t, err)
}

func TestNewClientWithConn_Defaults(t *testing.T) {
	c := NewClientWithConn(nil, 0, nil)
	assert.Equal(t, DefaultCallTimeout, c.timeout)
	assert.NotNil(t, c.logger)
	assert.NoError(t, c.Close())
}
