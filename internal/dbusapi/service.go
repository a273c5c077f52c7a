// Package dbusapi exposes the broker on the session bus and provides the
// matching client transport.
package dbusapi

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/phosh-mobile/searchd/internal/broker"
	"github.com/phosh-mobile/searchd/internal/search"
)

// Interface and object path of the search service.
const (
	Interface  = "mobi.phosh.Shell.Search"
	ObjectPath = dbus.ObjectPath("/mobi/phosh/Shell/Search")
)

// Signal names.
const (
	SignalSourceResultsChanged = "SourceResultsChanged"
	SignalQueryFinished        = "QueryFinished"
)

// ErrNameTaken is returned when another process owns the bus name.
var ErrNameTaken = errors.New("bus name already owned")

// Broker is the broker surface exported on the bus.
type Broker interface {
	Query(text string) bool
	GetSources() []search.Source
	GetLastResults() map[string][]*search.ResultMeta
	ActivateResult(sourceID, resultID string, timestamp uint32)
	LaunchSource(sourceID string, timestamp uint32)
	Subscribe(l broker.Listener) (unsubscribe func())
}

// Conn is the part of *dbus.Conn the service needs.
type Conn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
}

// Service exports a broker on a bus connection.
type Service struct {
	conn    Conn
	broker  Broker
	busName string
	logger  *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
}

// NewService creates a service; nothing is exported until Start.
func NewService(conn Conn, b Broker, busName string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		conn:    conn,
		broker:  b,
		busName: busName,
		logger:  logger,
	}
}

// Start exports the object, forwards broker events as signals and takes
// the bus name.
func (s *Service) Start() error {
	obj := &busObject{svc: s}
	if err := s.conn.Export(obj, ObjectPath, Interface); err != nil {
		return fmt.Errorf("failed to export search interface: %w", err)
	}
	if err := s.conn.Export(introspectXML, ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspection data: %w", err)
	}

	s.mu.Lock()
	s.unsubscribe = s.broker.Subscribe(s.emit)
	s.mu.Unlock()

	reply, err := s.conn.RequestName(s.busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		s.Stop()
		return fmt.Errorf("failed to request bus name %s: %w", s.busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner && reply != dbus.RequestNameReplyAlreadyOwner {
		s.Stop()
		return fmt.Errorf("%w: %s", ErrNameTaken, s.busName)
	}

	s.logger.Info("search service exported", "bus_name", s.busName, "object_path", ObjectPath)
	return nil
}

// Stop unexports the object and releases the bus name.
func (s *Service) Stop() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe == nil {
		return
	}
	unsubscribe()

	_ = s.conn.Export(nil, ObjectPath, Interface)
	_ = s.conn.Export(nil, ObjectPath, "org.freedesktop.DBus.Introspectable")
	if _, err := s.conn.ReleaseName(s.busName); err != nil {
		s.logger.Debug("failed to release bus name", "bus_name", s.busName, "error", err)
	}
}

func (s *Service) emit(ev broker.Event) {
	var err error
	switch ev := ev.(type) {
	case broker.SourceResultsChanged:
		err = s.conn.Emit(ObjectPath, Interface+"."+SignalSourceResultsChanged,
			ev.SourceID, search.SerializeResultMetas(ev.Results, s.logger))
	case broker.QueryFinished:
		err = s.conn.Emit(ObjectPath, Interface+"."+SignalQueryFinished)
	}
	if err != nil {
		s.logger.Warn("failed to emit signal", "error", err)
	}
}

// busObject carries exactly the exported D-Bus methods. None of them ever
// returns an error to the caller.
type busObject struct {
	svc *Service
}

func (o *busObject) Query(text string) (bool, *dbus.Error) {
	return o.svc.broker.Query(text), nil
}

func (o *busObject) GetSources() ([]search.SourceTuple, *dbus.Error) {
	sources := o.svc.broker.GetSources()
	out := make([]search.SourceTuple, len(sources))
	for i, src := range sources {
		out[i] = src.Serialize()
	}
	return out, nil
}

func (o *busObject) GetLastResults() (map[string][]map[string]dbus.Variant, *dbus.Error) {
	last := o.svc.broker.GetLastResults()
	out := make(map[string][]map[string]dbus.Variant, len(last))
	for id, metas := range last {
		out[id] = search.SerializeResultMetas(metas, o.svc.logger)
	}
	return out, nil
}

func (o *busObject) ActivateResult(sourceID, resultID string, timestamp uint32) *dbus.Error {
	o.svc.broker.ActivateResult(sourceID, resultID, timestamp)
	return nil
}

func (o *busObject) LaunchSource(sourceID string, timestamp uint32) *dbus.Error {
	o.svc.broker.LaunchSource(sourceID, timestamp)
	return nil
}
