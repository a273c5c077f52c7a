// Package provider discovers search providers and wraps their D-Bus
// endpoints for the broker.
package provider

import (
	"context"
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/phosh-mobile/searchd/internal/search"
)

// ErrNotReady is returned by calls on a provider that has not connected.
var ErrNotReady = errors.New("search provider not ready")

// Provider is the broker's view of one search provider.
type Provider interface {
	// ID returns the provider's object path, which is also its source id.
	ID() string

	// DesktopID returns the desktop id of the application behind the provider.
	DesktopID() string

	// Ready reports whether calls can be issued.
	Ready() bool

	GetInitialResultSet(ctx context.Context, terms []string) ([]string, error)
	GetSubsearchResultSet(ctx context.Context, previous, terms []string) ([]string, error)
	GetResultMetas(ctx context.Context, ids []string) ([]*search.ResultMeta, error)

	// ActivateResult and LaunchSearch are bound to the provider's own
	// lifetime, not to any query.
	ActivateResult(id string, terms []string, timestamp uint32) error
	LaunchSearch(terms []string, timestamp uint32) error

	// Close cancels every call still in flight.
	Close()
}

// Remote is the provider-side interface, version 2.
type Remote interface {
	GetInitialResultSet(ctx context.Context, terms []string) ([]string, error)
	GetSubsearchResultSet(ctx context.Context, previous, terms []string) ([]string, error)
	GetResultMetas(ctx context.Context, ids []string) ([]map[string]dbus.Variant, error)
	ActivateResult(ctx context.Context, id string, terms []string, timestamp uint32) error
	LaunchSearch(ctx context.Context, terms []string, timestamp uint32) error
}

// Connector creates the remote handle of a provider. Connecting must not
// activate the provider process.
type Connector interface {
	Connect(ctx context.Context, d Descriptor) (Remote, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, d Descriptor) (Remote, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, d Descriptor) (Remote, error) {
	return f(ctx, d)
}
