package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phosh-mobile/searchd/internal/search"
)

// State is the connection state of a Proxy.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Proxy wraps one provider endpoint. It connects once; a failed proxy stays
// unusable until it is replaced by a reload.
type Proxy struct {
	desc      Descriptor
	connector Connector
	logger    *slog.Logger

	// Scope of every call made through this proxy.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	remote  Remote
	onReady []func(*Proxy)
	done    chan struct{}
}

// NewProxy creates a proxy for d whose scope is derived from parent.
// Cancelling parent cancels this proxy's calls only through its own scope.
func NewProxy(parent context.Context, d Descriptor, connector Connector, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Proxy{
		desc:      d,
		connector: connector,
		logger:    logger.With("provider", d.ObjectPath),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateCreated,
		done:      make(chan struct{}),
	}
}

// ID returns the object path.
func (p *Proxy) ID() string { return p.desc.ObjectPath }

// DesktopID returns the desktop id of the provider's application.
func (p *Proxy) DesktopID() string { return p.desc.DesktopID }

// Descriptor returns the descriptor the proxy was built from.
func (p *Proxy) Descriptor() Descriptor { return p.desc }

// State returns the current state.
func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Ready reports whether the remote handle is usable.
func (p *Proxy) Ready() bool {
	return p.State() == StateReady
}

// OnReady registers fn to run once the proxy becomes ready. If it already
// is, fn runs immediately.
func (p *Proxy) OnReady(fn func(*Proxy)) {
	p.mu.Lock()
	if p.state != StateReady {
		p.onReady = append(p.onReady, fn)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn(p)
}

// Start begins the single connection attempt in the background. Calling it
// more than once has no effect.
func (p *Proxy) Start() {
	p.mu.Lock()
	if p.state != StateCreated {
		p.mu.Unlock()
		return
	}
	p.state = StateConnecting
	p.mu.Unlock()

	go p.connect()
}

// Done is closed once the connection attempt has finished.
func (p *Proxy) Done() <-chan struct{} {
	return p.done
}

func (p *Proxy) connect() {
	defer close(p.done)

	remote, err := p.connector.Connect(p.ctx, p.desc)

	p.mu.Lock()
	if p.state != StateConnecting {
		// Closed while connecting.
		p.mu.Unlock()
		return
	}
	if err != nil {
		p.state = StateFailed
		p.mu.Unlock()
		p.logger.Warn("failed to connect to search provider", "bus_name", p.desc.BusName, "error", err)
		return
	}
	p.state = StateReady
	p.remote = remote
	callbacks := p.onReady
	p.onReady = nil
	p.mu.Unlock()

	p.logger.Debug("search provider ready", "bus_name", p.desc.BusName)
	for _, fn := range callbacks {
		fn(p)
	}
}

// Close cancels the proxy's scope and makes it unusable.
func (p *Proxy) Close() {
	p.mu.Lock()
	neverStarted := p.state == StateCreated
	p.state = StateClosed
	p.remote = nil
	p.onReady = nil
	p.mu.Unlock()
	p.cancel()
	if neverStarted {
		close(p.done)
	}
}

func (p *Proxy) readyRemote() (Remote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateReady {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotReady, p.desc.ObjectPath, p.state)
	}
	return p.remote, nil
}

// scoped returns a context that ends when either ctx or the proxy scope ends.
func (p *Proxy) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// GetInitialResultSet asks the provider for results matching terms.
func (p *Proxy) GetInitialResultSet(ctx context.Context, terms []string) ([]string, error) {
	remote, err := p.readyRemote()
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.scoped(ctx)
	defer cancel()
	return remote.GetInitialResultSet(ctx, terms)
}

// GetSubsearchResultSet asks the provider to refine previous for terms.
func (p *Proxy) GetSubsearchResultSet(ctx context.Context, previous, terms []string) ([]string, error) {
	remote, err := p.readyRemote()
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.scoped(ctx)
	defer cancel()
	return remote.GetSubsearchResultSet(ctx, previous, terms)
}

// GetResultMetas fetches metadata for ids. Malformed entries are logged and
// left out.
func (p *Proxy) GetResultMetas(ctx context.Context, ids []string) ([]*search.ResultMeta, error) {
	remote, err := p.readyRemote()
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.scoped(ctx)
	defer cancel()

	dicts, err := remote.GetResultMetas(ctx, ids)
	if err != nil {
		return nil, err
	}
	metas, err := search.DeserializeResultMetas(dicts)
	if err != nil {
		p.logger.Warn("dropping malformed result metas", "error", err)
	}
	return metas, nil
}

// ActivateResult asks the provider to open result id.
func (p *Proxy) ActivateResult(id string, terms []string, timestamp uint32) error {
	remote, err := p.readyRemote()
	if err != nil {
		return err
	}
	return remote.ActivateResult(p.ctx, id, terms, timestamp)
}

// LaunchSearch asks the provider to show its own search for terms.
func (p *Proxy) LaunchSearch(terms []string, timestamp uint32) error {
	remote, err := p.readyRemote()
	if err != nil {
		return err
	}
	return remote.LaunchSearch(p.ctx, terms, timestamp)
}
