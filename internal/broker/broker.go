// Package broker implements the search broker: it fans a query out to the
// ready providers, trims and caches their results and reports them as
// events.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/phosh-mobile/searchd/internal/provider"
	"github.com/phosh-mobile/searchd/internal/search"
)

// Defaults for Config.
const (
	DefaultDebounce           = 150 * time.Millisecond
	DefaultMaxConcurrentCalls = 8
)

// Config configures a Broker.
type Config struct {
	// Debounce delays the fan-out after a query (default 150ms).
	Debounce time.Duration

	// MaxResults is applied per provider and result group (default 5).
	MaxResults int

	// ProviderTimeout bounds each provider's query calls. Zero waits forever.
	ProviderTimeout time.Duration

	// MaxConcurrentCalls caps provider calls in flight (default 8).
	MaxConcurrentCalls int

	Logger *slog.Logger
}

// timer is the part of *time.Timer the broker uses.
type timer interface {
	Stop() bool
}

// cachedResults is what the broker keeps per provider for the last query.
type cachedResults struct {
	ids   []string
	metas []*search.ResultMeta
}

// Status is a point-in-time view of the broker.
type Status struct {
	Query          string
	Terms          []string
	QueryID        string
	IsSubsearch    bool
	Outstanding    int
	Providers      int
	ReadyProviders int
	// ProviderReady maps each provider id to its readiness.
	ProviderReady map[string]bool
}

// Broker owns the providers and the single current query.
type Broker struct {
	cfg       Config
	logger    *slog.Logger
	sem       *semaphore.Weighted
	events    *dispatcher
	afterFunc func(time.Duration, func()) timer

	mu          sync.Mutex
	closed      bool
	snapshot    *provider.Snapshot
	query       string
	terms       []string
	isSubsearch bool
	lastResults map[string]cachedResults
	outstanding int
	generation  uint64
	queryID     string
	started     time.Time
	queryCtx    context.Context
	queryCancel context.CancelFunc
	debounce    timer

	// resultsQuery is the query text whose fan-out filled lastResults.
	resultsQuery string
}

// New creates a broker without providers.
func New(cfg Config) *Broker {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = search.DefaultMaxResults
	}
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		cfg:         cfg,
		logger:      cfg.Logger,
		sem:         semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
		events:      newDispatcher(cfg.Logger),
		afterFunc:   func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) },
		lastResults: make(map[string]cachedResults),
		queryCtx:    ctx,
		queryCancel: cancel,
	}
}

// Subscribe registers l for all future events. The returned function
// removes it.
func (b *Broker) Subscribe(l Listener) (unsubscribe func()) {
	return b.events.subscribe(l)
}

// SetProviders replaces the provider snapshot. The previous snapshot is
// closed. A fan-out still running against it is abandoned and finished.
func (b *Broker) SetProviders(snap *provider.Snapshot) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		snap.Close()
		return
	}
	old := b.snapshot
	b.snapshot = snap

	if b.outstanding > 0 {
		b.logger.Debug("providers replaced during query", "query_id", b.queryID, "outstanding", b.outstanding)
		b.resetScopeLocked()
		b.outstanding = 0
		b.events.publish(QueryFinished{})
	}

	for id := range b.lastResults {
		if snap == nil {
			delete(b.lastResults, id)
			continue
		}
		if _, ok := snap.Providers.Get(id); !ok {
			delete(b.lastResults, id)
		}
	}
	b.mu.Unlock()

	old.Close()
}

// GetSources returns the sources of the current snapshot in display order.
func (b *Broker) GetSources() []search.Source {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil
	}
	out := make([]search.Source, len(b.snapshot.Sources))
	copy(out, b.snapshot.Sources)
	return out
}

// GetLastResults returns the cached result metas per source id.
func (b *Broker) GetLastResults() map[string][]*search.ResultMeta {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]*search.ResultMeta, len(b.lastResults))
	for id, r := range b.lastResults {
		out[id] = append([]*search.ResultMeta(nil), r.metas...)
	}
	return out
}

// Status reports the current query state.
func (b *Broker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{
		Query:       b.query,
		Terms:       append([]string(nil), b.terms...),
		QueryID:     b.queryID,
		IsSubsearch: b.isSubsearch,
		Outstanding: b.outstanding,
	}
	if b.snapshot != nil {
		st.Providers = b.snapshot.Providers.Len()
		st.ReadyProviders = len(b.snapshot.Providers.ListReady())
		st.ProviderReady = b.snapshot.Providers.ListAll()
	}
	return st
}

// Query starts a search for text. It reports whether a new search was
// started; repeating the current terms or clearing them does not start one
// and finishes at once. A query still debouncing or running is finished
// before it is replaced, so every call is answered by one QueryFinished.
// The search is a subsearch only when text extends the query that produced
// the cached results.
func (b *Broker) Query(text string) bool {
	text = strings.TrimSpace(text)
	terms := search.SplitTerms(text)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	if search.TermsEqual(terms, b.terms) {
		b.logger.Debug("repeated query", "query", text)
		b.events.publish(QueryFinished{})
		return false
	}

	if b.debounce != nil || b.outstanding > 0 {
		b.logger.Debug("query replaced", "query", b.query, "outstanding", b.outstanding)
		b.events.publish(QueryFinished{})
	}
	b.resetScopeLocked()
	b.outstanding = 0

	if len(terms) == 0 {
		b.query = ""
		b.resultsQuery = ""
		b.terms = nil
		b.isSubsearch = false
		b.events.publish(QueryFinished{})
		return false
	}

	b.isSubsearch = b.resultsQuery != "" && strings.HasPrefix(text, b.resultsQuery)
	b.query = text
	b.terms = terms

	gen := b.generation
	b.debounce = b.afterFunc(b.cfg.Debounce, func() { b.fanOut(gen) })
	return true
}

// resetScopeLocked abandons the current query scope and pending debounce.
// Results still arriving for it are dropped by the generation check.
func (b *Broker) resetScopeLocked() {
	if b.debounce != nil {
		b.debounce.Stop()
		b.debounce = nil
	}
	b.queryCancel()
	b.generation++
	b.queryCtx, b.queryCancel = context.WithCancel(context.Background())
}

type pendingCall struct {
	p         provider.Provider
	previous  []string
	subsearch bool
}

func (b *Broker) fanOut(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.generation {
		b.mu.Unlock()
		return
	}
	b.debounce = nil
	b.queryID = uuid.NewString()
	b.started = time.Now()

	previous := b.lastResults
	b.lastResults = make(map[string]cachedResults)
	b.resultsQuery = b.query

	var calls []pendingCall
	if b.snapshot != nil {
		for _, p := range b.snapshot.Providers.All() {
			if !p.Ready() {
				b.logger.Warn("search provider not ready, skipping", "provider", p.ID(), "query_id", b.queryID)
				continue
			}
			call := pendingCall{p: p}
			if cached, ok := previous[p.ID()]; ok && b.isSubsearch {
				call.previous = cached.ids
				call.subsearch = true
			}
			calls = append(calls, call)
		}
	}
	b.outstanding = len(calls)

	b.logger.Debug("searching",
		"query_id", b.queryID,
		"terms", b.terms,
		"subsearch", b.isSubsearch,
		"providers", len(calls),
	)

	if len(calls) == 0 {
		b.events.publish(QueryFinished{})
		b.mu.Unlock()
		return
	}

	ctx := b.queryCtx
	terms := append([]string(nil), b.terms...)
	queryID := b.queryID
	b.mu.Unlock()

	for _, call := range calls {
		go b.run(ctx, gen, queryID, call, terms)
	}
}

// run performs one provider's id and metadata calls and reports them.
func (b *Broker) run(ctx context.Context, gen uint64, queryID string, call pendingCall, terms []string) {
	ids, metas, err := b.search(ctx, call, terms)
	b.complete(gen, queryID, call.p.ID(), ids, metas, err)
}

func (b *Broker) search(ctx context.Context, call pendingCall, terms []string) ([]string, []*search.ResultMeta, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer b.sem.Release(1)

	if b.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.ProviderTimeout)
		defer cancel()
	}

	var (
		ids []string
		err error
	)
	if call.subsearch {
		ids, err = call.p.GetSubsearchResultSet(ctx, call.previous, terms)
	} else {
		ids, err = call.p.GetInitialResultSet(ctx, terms)
	}
	if err != nil {
		return nil, nil, err
	}

	ids = search.LimitResults(ids, b.cfg.MaxResults)
	if len(ids) == 0 {
		return ids, nil, nil
	}

	metas, err := call.p.GetResultMetas(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return ids, metas, nil
}

func (b *Broker) complete(gen uint64, queryID, sourceID string, ids []string, metas []*search.ResultMeta, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || gen != b.generation {
		b.logger.Debug("dropping results of superseded query", "provider", sourceID, "query_id", queryID)
		return
	}

	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		b.logger.Log(context.Background(), level, "search provider call failed",
			"provider", sourceID, "query_id", queryID, "error", err)
	} else {
		b.lastResults[sourceID] = cachedResults{ids: ids, metas: metas}
		b.events.publish(SourceResultsChanged{SourceID: sourceID, Results: metas})
	}

	b.outstanding--
	if b.outstanding == 0 {
		b.logger.Debug("query finished", "query_id", queryID, "duration", time.Since(b.started))
		b.events.publish(QueryFinished{})
	}
}

// ActivateResult forwards the activation of resultID to the provider of
// sourceID. Without a current query, or when the provider is unknown or
// not ready, it logs and does nothing.
func (b *Broker) ActivateResult(sourceID, resultID string, timestamp uint32) {
	p, terms, ok := b.target("activate result", sourceID)
	if !ok {
		return
	}
	go func() {
		if err := p.ActivateResult(resultID, terms, timestamp); err != nil {
			b.logger.Warn("failed to activate result", "provider", sourceID, "result", resultID, "error", err)
		}
	}()
}

// LaunchSource asks the provider of sourceID to show its own search for the
// current terms. Skipped like ActivateResult.
func (b *Broker) LaunchSource(sourceID string, timestamp uint32) {
	p, terms, ok := b.target("launch source", sourceID)
	if !ok {
		return
	}
	go func() {
		if err := p.LaunchSearch(terms, timestamp); err != nil {
			b.logger.Warn("failed to launch search", "provider", sourceID, "error", err)
		}
	}()
}

func (b *Broker) target(op, sourceID string) (provider.Provider, []string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, false
	}
	if b.terms == nil {
		b.logger.Warn("no search terms, ignoring request", "op", op, "provider", sourceID)
		return nil, nil, false
	}
	var p provider.Provider
	if b.snapshot != nil {
		p, _ = b.snapshot.Providers.Get(sourceID)
	}
	if p == nil {
		b.logger.Warn("unknown search provider", "op", op, "provider", sourceID)
		return nil, nil, false
	}
	if !p.Ready() {
		b.logger.Warn("search provider not ready", "op", op, "provider", sourceID)
		return nil, nil, false
	}
	return p, append([]string(nil), b.terms...), true
}

// Close cancels the current query, closes the providers and delivers the
// events already emitted before returning.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.debounce != nil {
		b.debounce.Stop()
		b.debounce = nil
	}
	b.queryCancel()
	snap := b.snapshot
	b.snapshot = nil
	b.mu.Unlock()

	snap.Close()
	b.events.close()
}
