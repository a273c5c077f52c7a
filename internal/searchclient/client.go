// Package searchclient is the UI-facing client of the search service. It
// mirrors the broker surface over a transport Backend and delivers the
// service's events to a Handler.
package searchclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/search"
)

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("search client closed")

// Backend is a transport to the search service: D-Bus or the local socket.
type Backend interface {
	Query(ctx context.Context, text string) (bool, error)
	GetSources(ctx context.Context) ([]search.SourceTuple, error)
	GetLastResults(ctx context.Context) (map[string][]*search.ResultMeta, error)
	ActivateResult(ctx context.Context, sourceID, resultID string, timestamp uint32) error
	LaunchSource(ctx context.Context, sourceID string, timestamp uint32) error
	Events(ctx context.Context) (<-chan broker.Event, error)
	Close() error
}

// Handler receives the service's events. Calls are serialized.
type Handler interface {
	SourceResultsChanged(sourceID string, results []*search.ResultMeta)
	QueryFinished()
}

// HandlerFuncs adapts functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	OnResults  func(sourceID string, results []*search.ResultMeta)
	OnFinished func()
}

func (h HandlerFuncs) SourceResultsChanged(sourceID string, results []*search.ResultMeta) {
	if h.OnResults != nil {
		h.OnResults(sourceID, results)
	}
}

func (h HandlerFuncs) QueryFinished() {
	if h.OnFinished != nil {
		h.OnFinished()
	}
}

// Config configures a Client.
type Config struct {
	// Backend is the transport (required). Close closes it.
	Backend Backend

	// Handler receives events (optional)
	Handler Handler

	// Apps resolves app ids of sources (optional)
	Apps search.AppResolver

	Logger *slog.Logger
}

// pendingQuery is a Query call whose QueryFinished has not arrived yet.
type pendingQuery struct {
	terms     []string
	searching bool
	failed    bool
	resolved  chan struct{}
}

// Client is a search service client.
type Client struct {
	backend Backend
	handler Handler
	apps    search.AppResolver
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	pending   []*pendingQuery
	positions map[string]uint32
	closed    bool
}

// New subscribes to the service's events and returns a client. Events
// arriving after New returns are delivered to cfg.Handler.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Handler == nil {
		cfg.Handler = HandlerFuncs{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	events, err := cfg.Backend.Events(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	c := &Client{
		backend:   cfg.Backend,
		handler:   cfg.Handler,
		apps:      cfg.Apps,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		positions: make(map[string]uint32),
	}
	go c.pump(events)
	return c, nil
}

// Done is closed when the event stream ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Query sends text to the service. It reports whether a new search was
// started; when it was not, the cached results are replayed to the
// handler once the service finishes the query.
func (c *Client) Query(ctx context.Context, text string) (bool, error) {
	p := &pendingQuery{terms: search.SplitTerms(text), resolved: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	c.pending = append(c.pending, p)
	c.mu.Unlock()

	searching, err := c.backend.Query(ctx, text)

	c.mu.Lock()
	p.searching = searching
	if err != nil {
		p.failed = true
		c.dropPendingLocked(p)
	}
	c.mu.Unlock()
	close(p.resolved)

	return searching, err
}

func (c *Client) dropPendingLocked(p *pendingQuery) {
	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// GetSources returns the service's sources in display order with their
// apps resolved locally.
func (c *Client) GetSources(ctx context.Context) ([]search.Source, error) {
	tuples, err := c.backend.GetSources(ctx)
	if err != nil {
		return nil, err
	}

	sources := make([]search.Source, 0, len(tuples))
	positions := make(map[string]uint32, len(tuples))
	for _, t := range tuples {
		src, err := search.DeserializeSource(t, c.apps)
		if err != nil {
			c.logger.Warn("skipping invalid source", "error", err)
			continue
		}
		sources = append(sources, src)
		positions[src.ID] = src.Position
	}

	c.mu.Lock()
	c.positions = positions
	c.mu.Unlock()
	return sources, nil
}

// GetLastResults returns the service's cached results per source.
func (c *Client) GetLastResults(ctx context.Context) (map[string][]*search.ResultMeta, error) {
	return c.backend.GetLastResults(ctx)
}

// ActivateResult asks the service to activate a result.
func (c *Client) ActivateResult(ctx context.Context, sourceID, resultID string, timestamp uint32) error {
	return c.backend.ActivateResult(ctx, sourceID, resultID, timestamp)
}

// LaunchSource asks the service to open a provider's own search.
func (c *Client) LaunchSource(ctx context.Context, sourceID string, timestamp uint32) error {
	return c.backend.LaunchSource(ctx, sourceID, timestamp)
}

// Close stops event delivery and closes the backend.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	<-c.done
	return c.backend.Close()
}

func (c *Client) pump(events <-chan broker.Event) {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case broker.SourceResultsChanged:
				c.handler.SourceResultsChanged(ev.SourceID, ev.Results)
			case broker.QueryFinished:
				c.finished()
			}
		}
	}
}

// finished handles QueryFinished. It is matched with the oldest pending
// Query call of this client; a QueryFinished with nothing pending belongs
// to another client's query and is forwarded as is.
func (c *Client) finished() {
	c.mu.Lock()
	var p *pendingQuery
	if len(c.pending) > 0 {
		p = c.pending[0]
		c.pending = c.pending[1:]
	}
	c.mu.Unlock()

	if p != nil {
		// The finish of a repeated query can overtake the Query reply.
		select {
		case <-p.resolved:
		case <-c.ctx.Done():
			return
		}
		if !p.failed && !p.searching && len(p.terms) > 0 {
			c.replay()
		}
	}
	c.handler.QueryFinished()
}

// replay delivers the service's cached results in source order.
func (c *Client) replay() {
	last, err := c.backend.GetLastResults(c.ctx)
	if err != nil {
		c.logger.Warn("failed to fetch last results", "error", err)
		return
	}

	c.mu.Lock()
	positions := c.positions
	c.mu.Unlock()

	ids := make([]string, 0, len(last))
	for id := range last {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, iok := positions[ids[i]]
		pj, jok := positions[ids[j]]
		if iok != jok {
			return iok
		}
		if iok && pi != pj {
			return pi < pj
		}
		return ids[i] < ids[j]
	})

	for _, id := range ids {
		c.handler.SourceResultsChanged(id, last[id])
	}
}
