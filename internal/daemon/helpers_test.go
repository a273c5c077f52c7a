package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/logging"
	"github.com/phosh-mobile/searchd/internal/rpc"
	"github.com/phosh-mobile/searchd/internal/search"
)

type activation struct {
	sourceID, resultID string
	timestamp          uint32
}

// fakeBroker records calls and lets tests publish events.
type fakeBroker struct {
	mu        sync.Mutex
	queries   []string
	activated []activation
	launched  []activation
	listeners map[int]broker.Listener
	nextID    int

	sources []search.Source
	last    map[string][]*search.ResultMeta
	status  broker.Status
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{listeners: make(map[int]broker.Listener)}
}

func (b *fakeBroker) Query(text string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, text)
	return text != ""
}

func (b *fakeBroker) GetSources() []search.Source                     { return b.sources }
func (b *fakeBroker) GetLastResults() map[string][]*search.ResultMeta { return b.last }
func (b *fakeBroker) Status() broker.Status                           { return b.status }

func (b *fakeBroker) ActivateResult(sourceID, resultID string, ts uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activated = append(b.activated, activation{sourceID, resultID, ts})
}

func (b *fakeBroker) LaunchSource(sourceID string, ts uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launched = append(b.launched, activation{sourceID: sourceID, timestamp: ts})
}

func (b *fakeBroker) Subscribe(l broker.Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// publish delivers ev to every listener in order, like the broker's
// dispatcher does.
func (b *fakeBroker) publish(ev broker.Event) {
	b.mu.Lock()
	ls := make([]broker.Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		ls = append(ls, l)
	}
	b.mu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// shortSocketPath returns a socket path short enough for sun_path.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "searchd-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "run", "searchd.sock")
}

// startServer runs a Server for b and returns it with a connected client.
func startServer(t *testing.T, b Broker) (*Server, rpc.SearchServiceClient) {
	t.Helper()

	server, err := NewServer(&ServerConfig{
		Broker:           b,
		SocketPath:       shortSocketPath(t),
		SubscriberBuffer: 4,
		Logger:           logging.Discard(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(server.SocketPath())
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient("unix://"+server.SocketPath(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return server, rpc.NewSearchServiceClient(conn)
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
