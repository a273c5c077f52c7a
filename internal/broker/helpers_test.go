package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/phosh-mobile/searchd/internal/logging"
	"github.com/phosh-mobile/searchd/internal/provider"
	"github.com/phosh-mobile/searchd/internal/search"
)

// stubProvider is a provider.Provider with call counters. When gate is set,
// id calls block until it is closed; ignoreCtx keeps them blocked through
// cancellation.
type stubProvider struct {
	id        string
	ready     bool
	ids       []string
	idsFor    func(terms []string) []string
	err       error
	gate      chan struct{}
	ignoreCtx bool

	mu             sync.Mutex
	initialCalls   int
	subsearchCalls int
	metaCalls      int
	lastTerms      []string
	lastPrevious   []string
	metaIDs        []string
	activated      []string
	activateTerms  []string
	launched       int
	closed         bool
	entered        chan struct{}
}

func newStub(id string, ready bool, ids ...string) *stubProvider {
	return &stubProvider{id: id, ready: ready, ids: ids, entered: make(chan struct{}, 256)}
}

func (s *stubProvider) ID() string        { return s.id }
func (s *stubProvider) DesktopID() string { return s.id[1:] + ".desktop" }

func (s *stubProvider) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.closed
}

func (s *stubProvider) block(ctx context.Context) error {
	s.entered <- struct{}{}
	if s.gate == nil {
		return nil
	}
	if s.ignoreCtx {
		<-s.gate
		return nil
	}
	select {
	case <-s.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stubProvider) results(terms []string) []string {
	if s.idsFor != nil {
		return s.idsFor(terms)
	}
	return s.ids
}

func (s *stubProvider) GetInitialResultSet(ctx context.Context, terms []string) ([]string, error) {
	s.mu.Lock()
	s.initialCalls++
	s.lastTerms = terms
	s.mu.Unlock()
	if err := s.block(ctx); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.results(terms), nil
}

func (s *stubProvider) GetSubsearchResultSet(ctx context.Context, previous, terms []string) ([]string, error) {
	s.mu.Lock()
	s.subsearchCalls++
	s.lastTerms = terms
	s.lastPrevious = previous
	s.mu.Unlock()
	if err := s.block(ctx); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.results(terms), nil
}

func (s *stubProvider) GetResultMetas(ctx context.Context, ids []string) ([]*search.ResultMeta, error) {
	s.mu.Lock()
	s.metaCalls++
	s.metaIDs = ids
	s.mu.Unlock()
	metas := make([]*search.ResultMeta, len(ids))
	for i, id := range ids {
		metas[i] = search.NewResultMeta(id, "Title "+id)
	}
	return metas, nil
}

func (s *stubProvider) ActivateResult(id string, terms []string, timestamp uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated = append(s.activated, id)
	s.activateTerms = terms
	return nil
}

func (s *stubProvider) LaunchSearch(terms []string, timestamp uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launched++
	return nil
}

func (s *stubProvider) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *stubProvider) counts() (initial, subsearch, metas int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialCalls, s.subsearchCalls, s.metaCalls
}

func (s *stubProvider) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("provider %s was not called", s.id)
	}
}

var errStub = errors.New("stub failure")

func snapshotOf(providers ...*stubProvider) *provider.Snapshot {
	snap := &provider.Snapshot{Providers: provider.NewRegistry()}
	for i, p := range providers {
		snap.Providers.Register(p)
		snap.Sources = append(snap.Sources, search.Source{
			ID:       p.id,
			App:      search.AppInfo{ID: p.DesktopID(), Name: p.id},
			Position: uint32(i),
		})
	}
	return snap
}

// fakeClock replaces time.AfterFunc so tests fire the debounce by hand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *fakeClock) afterFunc(_ time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs every armed timer and returns how many ran.
func (c *fakeClock) fire() int {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()

	n := 0
	for _, t := range timers {
		t.mu.Lock()
		run := !t.stopped
		t.stopped = true
		t.mu.Unlock()
		if run {
			t.f()
			n++
		}
	}
	return n
}

func newTestBroker(t *testing.T, cfg Config) (*Broker, *fakeClock) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	b := New(cfg)
	clock := &fakeClock{}
	b.afterFunc = clock.afterFunc
	t.Cleanup(b.Close)
	return b, clock
}

type recorder struct {
	ch chan Event
}

func record(t *testing.T, b *Broker) *recorder {
	t.Helper()
	r := &recorder{ch: make(chan Event, 256)}
	unsubscribe := b.Subscribe(func(ev Event) { r.ch <- ev })
	t.Cleanup(unsubscribe)
	return r
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (r *recorder) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %#v", ev)
	case <-time.After(wait):
	}
}

func metaIDs(metas []*search.ResultMeta) []string {
	ids := make([]string, len(metas))
	for i, m := range metas {
		ids[i] = m.ID()
	}
	return ids
}
