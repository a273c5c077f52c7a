package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phosh-mobile/searchd/internal/logging"
)

// fakeRemote records calls and blocks query calls until release is closed
// when it is set.
type fakeRemote struct {
	mu        sync.Mutex
	calls     []string
	release   chan struct{}
	ids       []string
	metas     []map[string]dbus.Variant
	activated []string
}

func (r *fakeRemote) record(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

func (r *fakeRemote) wait(ctx context.Context) error {
	if r.release == nil {
		return nil
	}
	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *fakeRemote) GetInitialResultSet(ctx context.Context, terms []string) ([]string, error) {
	r.record("initial")
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.ids, nil
}

func (r *fakeRemote) GetSubsearchResultSet(ctx context.Context, previous, terms []string) ([]string, error) {
	r.record("subsearch")
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return previous, nil
}

func (r *fakeRemote) GetResultMetas(ctx context.Context, ids []string) ([]map[string]dbus.Variant, error) {
	r.record("metas")
	return r.metas, nil
}

func (r *fakeRemote) ActivateResult(ctx context.Context, id string, terms []string, timestamp uint32) error {
	r.record("activate")
	r.mu.Lock()
	r.activated = append(r.activated, id)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *fakeRemote) LaunchSearch(ctx context.Context, terms []string, timestamp uint32) error {
	r.record("launch")
	return ctx.Err()
}

func connectTo(remote Remote) Connector {
	return ConnectorFunc(func(context.Context, Descriptor) (Remote, error) {
		return remote, nil
	})
}

func failingConnector() Connector {
	return ConnectorFunc(func(context.Context, Descriptor) (Remote, error) {
		return nil, errors.New("no such name")
	})
}

func testDescriptor(path string) Descriptor {
	return Descriptor{DesktopID: "a.desktop", BusName: "org.example.A", ObjectPath: path, Version: 2, AutoStart: true}
}

func startedProxy(t *testing.T, parent context.Context, c Connector) *Proxy {
	t.Helper()
	p := NewProxy(parent, testDescriptor("/A"), c, logging.Discard())
	p.Start()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("proxy did not finish connecting")
	}
	return p
}

func TestProxy_ReadyTransition(t *testing.T) {
	remote := &fakeRemote{ids: []string{"1", "2"}}
	p := NewProxy(context.Background(), testDescriptor("/A"), connectTo(remote), logging.Discard())
	assert.Equal(t, StateCreated, p.State())

	_, err := p.GetInitialResultSet(context.Background(), []string{"x"})
	require.ErrorIs(t, err, ErrNotReady)

	readyCh := make(chan string, 1)
	p.OnReady(func(p *Proxy) { readyCh <- p.ID() })
	p.Start()

	select {
	case id := <-readyCh:
		assert.Equal(t, "/A", id)
	case <-time.After(2 * time.Second):
		t.Fatal("ready callback not called")
	}
	assert.True(t, p.Ready())

	ids, err := p.GetInitialResultSet(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	// Registering after the fact runs immediately.
	called := false
	p.OnReady(func(*Proxy) { called = true })
	assert.True(t, called)
}

func TestProxy_FailedStaysFailed(t *testing.T) {
	p := startedProxy(t, context.Background(), failingConnector())
	assert.Equal(t, StateFailed, p.State())

	p.Start()
	assert.Equal(t, StateFailed, p.State())

	_, err := p.GetResultMetas(context.Background(), []string{"1"})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, p.ActivateResult("1", nil, 0), ErrNotReady)
	assert.ErrorIs(t, p.LaunchSearch(nil, 0), ErrNotReady)
}

func TestProxy_GetResultMetasDropsMalformed(t *testing.T) {
	remote := &fakeRemote{metas: []map[string]dbus.Variant{
		{"id": dbus.MakeVariant("1"), "title": dbus.MakeVariant("One")},
		{"id": dbus.MakeVariant("2")},
	}}
	p := startedProxy(t, context.Background(), connectTo(remote))

	metas, err := p.GetResultMetas(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "One", metas[0].Title())
}

func TestProxy_QueryCallEndsWithQueryScope(t *testing.T) {
	remote := &fakeRemote{release: make(chan struct{})}
	p := startedProxy(t, context.Background(), connectTo(remote))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.GetInitialResultSet(ctx, []string{"a"})
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("call not cancelled")
	}

	// The proxy scope itself is untouched.
	require.NoError(t, p.ActivateResult("1", []string{"a"}, 0))
}

func TestProxy_CloseCancelsInFlight(t *testing.T) {
	remote := &fakeRemote{release: make(chan struct{})}
	p := startedProxy(t, context.Background(), connectTo(remote))
	sibling := startedProxy(t, context.Background(), connectTo(&fakeRemote{}))

	errCh := make(chan error, 1)
	go func() {
		_, err := p.GetSubsearchResultSet(context.Background(), []string{"1"}, []string{"a"})
		errCh <- err
	}()

	// Wait until the call has reached the remote.
	require.Eventually(t, func() bool {
		remote.mu.Lock()
		defer remote.mu.Unlock()
		return len(remote.calls) == 1
	}, 2*time.Second, 5*time.Millisecond)

	p.Close()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("call not cancelled by Close")
	}
	assert.Equal(t, StateClosed, p.State())
	assert.True(t, sibling.Ready())
}

func TestProxy_ParentCancelReachesProxy(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	p := startedProxy(t, parent, connectTo(&fakeRemote{}))

	cancel()
	err := p.LaunchSearch([]string{"a"}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProxy_CloseBeforeStart(t *testing.T) {
	p := NewProxy(context.Background(), testDescriptor("/A"), connectTo(&fakeRemote{}), logging.Discard())
	p.Close()
	p.Start()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
	assert.False(t, p.Ready())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "state(42)", State(42).String())
}
