package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// RemoteInterface is the D-Bus interface search providers implement.
const RemoteInterface = "org.gnome.Shell.SearchProvider2"

// DBusConnector builds remotes on a session bus connection.
type DBusConnector struct {
	Conn *dbus.Conn
}

// Connect returns a remote for d. No message is sent, so the provider is
// not activated.
func (c *DBusConnector) Connect(_ context.Context, d Descriptor) (Remote, error) {
	if c.Conn == nil || !c.Conn.Connected() {
		return nil, errors.New("session bus not connected")
	}
	path := dbus.ObjectPath(d.ObjectPath)
	if !path.IsValid() {
		return nil, fmt.Errorf("invalid object path %q", d.ObjectPath)
	}
	return &dbusRemote{
		obj:   c.Conn.Object(d.BusName, path),
		flags: callFlags(d),
	}, nil
}

// callFlags keeps lazily started providers from being activated by a call.
func callFlags(d Descriptor) dbus.Flags {
	if d.AutoStart {
		return 0
	}
	return dbus.FlagNoAutoStart
}

type dbusRemote struct {
	obj   dbus.BusObject
	flags dbus.Flags
}

func (r *dbusRemote) call(ctx context.Context, method string, ret any, args ...any) error {
	call := r.obj.CallWithContext(ctx, RemoteInterface+"."+method, r.flags, args...)
	if call.Err != nil {
		return fmt.Errorf("%s: %w", method, call.Err)
	}
	if ret == nil {
		return nil
	}
	if err := call.Store(ret); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (r *dbusRemote) GetInitialResultSet(ctx context.Context, terms []string) ([]string, error) {
	var ids []string
	err := r.call(ctx, "GetInitialResultSet", &ids, nonNil(terms))
	return ids, err
}

func (r *dbusRemote) GetSubsearchResultSet(ctx context.Context, previous, terms []string) ([]string, error) {
	var ids []string
	err := r.call(ctx, "GetSubsearchResultSet", &ids, nonNil(previous), nonNil(terms))
	return ids, err
}

func (r *dbusRemote) GetResultMetas(ctx context.Context, ids []string) ([]map[string]dbus.Variant, error) {
	var metas []map[string]dbus.Variant
	err := r.call(ctx, "GetResultMetas", &metas, nonNil(ids))
	return metas, err
}

func (r *dbusRemote) ActivateResult(ctx context.Context, id string, terms []string, timestamp uint32) error {
	return r.call(ctx, "ActivateResult", nil, id, nonNil(terms), timestamp)
}

func (r *dbusRemote) LaunchSearch(ctx context.Context, terms []string, timestamp uint32) error {
	return r.call(ctx, "LaunchSearch", nil, nonNil(terms), timestamp)
}

// nonNil makes sure an empty list is still marshalled with signature "as".
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
