package dbusapi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/search"
)

// ClientBackend talks to the search service over the session bus.
type ClientBackend struct {
	conn   *dbus.Conn
	obj    dbus.BusObject
	owned  bool
	logger *slog.Logger
}

// Dial opens a private session bus connection to the service at busName.
func Dial(busName string, logger *slog.Logger) (*ClientBackend, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	c := NewClientBackend(conn, busName, logger)
	c.owned = true
	return c, nil
}

// NewClientBackend uses an existing connection. Close leaves it open.
func NewClientBackend(conn *dbus.Conn, busName string, logger *slog.Logger) *ClientBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientBackend{
		conn:   conn,
		obj:    conn.Object(busName, ObjectPath),
		logger: logger,
	}
}

func (c *ClientBackend) call(ctx context.Context, method string, ret []interface{}, args ...interface{}) error {
	call := c.obj.CallWithContext(ctx, Interface+"."+method, 0, args...)
	if call.Err != nil {
		return fmt.Errorf("%s: %w", method, call.Err)
	}
	if len(ret) == 0 {
		return nil
	}
	if err := call.Store(ret...); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Query sends text and reports whether the service started a new search.
func (c *ClientBackend) Query(ctx context.Context, text string) (bool, error) {
	var searching bool
	err := c.call(ctx, "Query", []interface{}{&searching}, text)
	return searching, err
}

// GetSources returns the source tuples in display order.
func (c *ClientBackend) GetSources(ctx context.Context) ([]search.SourceTuple, error) {
	var sources []search.SourceTuple
	err := c.call(ctx, "GetSources", []interface{}{&sources})
	return sources, err
}

// GetLastResults returns the cached results per source.
func (c *ClientBackend) GetLastResults(ctx context.Context) (map[string][]*search.ResultMeta, error) {
	var raw map[string][]map[string]dbus.Variant
	if err := c.call(ctx, "GetLastResults", []interface{}{&raw}); err != nil {
		return nil, err
	}
	out := make(map[string][]*search.ResultMeta, len(raw))
	for id, dicts := range raw {
		metas, err := search.DeserializeResultMetas(dicts)
		if err != nil {
			c.logger.Warn("dropping malformed result metas", "source", id, "error", err)
		}
		out[id] = metas
	}
	return out, nil
}

// ActivateResult asks the service to activate a result.
func (c *ClientBackend) ActivateResult(ctx context.Context, sourceID, resultID string, timestamp uint32) error {
	return c.call(ctx, "ActivateResult", nil, sourceID, resultID, timestamp)
}

// LaunchSource asks the service to launch a provider's own search.
func (c *ClientBackend) LaunchSource(ctx context.Context, sourceID string, timestamp uint32) error {
	return c.call(ctx, "LaunchSource", nil, sourceID, timestamp)
}

// Events streams the service's signals until ctx is done.
func (c *ClientBackend) Events(ctx context.Context) (<-chan broker.Event, error) {
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchInterface(Interface),
	}
	if err := c.conn.AddMatchSignal(match...); err != nil {
		return nil, fmt.Errorf("failed to subscribe to signals: %w", err)
	}

	signals := make(chan *dbus.Signal, 64)
	c.conn.Signal(signals)

	out := make(chan broker.Event, 64)
	go func() {
		defer close(out)
		defer func() {
			c.conn.RemoveSignal(signals)
			_ = c.conn.RemoveMatchSignal(match...)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				ev, ok := c.decodeSignal(sig)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (c *ClientBackend) decodeSignal(sig *dbus.Signal) (broker.Event, bool) {
	if sig.Path != ObjectPath {
		return nil, false
	}
	switch sig.Name {
	case Interface + "." + SignalQueryFinished:
		return broker.QueryFinished{}, true
	case Interface + "." + SignalSourceResultsChanged:
		ev, err := decodeSourceResultsChanged(sig.Body)
		if err != nil {
			c.logger.Warn("malformed signal", "signal", sig.Name, "error", err)
			return nil, false
		}
		return ev, true
	default:
		return nil, false
	}
}

func decodeSourceResultsChanged(body []interface{}) (broker.SourceResultsChanged, error) {
	if len(body) != 2 {
		return broker.SourceResultsChanged{}, fmt.Errorf("expected 2 arguments, got %d", len(body))
	}
	sourceID, ok := body[0].(string)
	if !ok {
		return broker.SourceResultsChanged{}, fmt.Errorf("source id has type %T", body[0])
	}
	dicts, ok := body[1].([]map[string]dbus.Variant)
	if !ok {
		return broker.SourceResultsChanged{}, fmt.Errorf("results have type %T", body[1])
	}
	// Malformed entries are dropped; the rest are still shown.
	metas, _ := search.DeserializeResultMetas(dicts)
	return broker.SourceResultsChanged{SourceID: sourceID, Results: metas}, nil
}

// Close closes the connection if Dial opened it.
func (c *ClientBackend) Close() error {
	if c.owned {
		return c.conn.Close()
	}
	return nil
}
