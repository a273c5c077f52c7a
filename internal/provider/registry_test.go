package provider

import (
	"context"
	"testing"

	"github.com/phosh-mobile/searchd/internal/search"
)

// MockProvider is a minimal Provider for registry tests.
type MockProvider struct {
	id     string
	ready  bool
	closed bool
}

func (m *MockProvider) ID() string        { return m.id }
func (m *MockProvider) DesktopID() string { return m.id + ".desktop" }
func (m *MockProvider) Ready() bool       { return m.ready && !m.closed }

func (m *MockProvider) GetInitialResultSet(context.Context, []string) ([]string, error) {
	return nil, nil
}

func (m *MockProvider) GetSubsearchResultSet(context.Context, []string, []string) ([]string, error) {
	return nil, nil
}

func (m *MockProvider) GetResultMetas(context.Context, []string) ([]*search.ResultMeta, error) {
	return nil, nil
}

func (m *MockProvider) ActivateResult(string, []string, uint32) error { return nil }
func (m *MockProvider) LaunchSearch([]string, uint32) error           { return nil }
func (m *MockProvider) Close()                                        { m.closed = true }

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.providers == nil {
		t.Error("NewRegistry() created registry with nil providers map")
	}
	if r.Len() != 0 {
		t.Errorf("NewRegistry() Len = %d, want 0", r.Len())
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	r.Register(&MockProvider{id: "/B", ready: true})
	r.Register(&MockProvider{id: "/A", ready: false})

	p, ok := r.Get("/B")
	if !ok {
		t.Fatal("Register() did not add provider")
	}
	if p.ID() != "/B" {
		t.Errorf("Get() returned %q, want /B", p.ID())
	}

	all := r.All()
	if len(all) != 2 || all[0].ID() != "/B" || all[1].ID() != "/A" {
		t.Errorf("All() did not keep registration order: %v", all)
	}
}

func TestRegistry_RegisterReplaceKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Register(&MockProvider{id: "/A"})
	r.Register(&MockProvider{id: "/B"})
	r.Register(&MockProvider{id: "/A", ready: true})

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("All() len = %d, want 2", len(all))
	}
	if all[0].ID() != "/A" || !all[0].Ready() {
		t.Error("replacement did not take the original slot")
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("/none"); ok {
		t.Error("Get() should return false for a missing provider")
	}

	var nilRegistry *Registry
	if _, ok := nilRegistry.Get("/none"); ok {
		t.Error("Get() on nil registry should return false")
	}
	if nilRegistry.Len() != 0 || nilRegistry.All() != nil {
		t.Error("nil registry should be empty")
	}
}

func TestRegistry_ListReadyAndAll(t *testing.T) {
	r := NewRegistry()
	r.Register(&MockProvider{id: "/C", ready: true})
	r.Register(&MockProvider{id: "/A", ready: true})
	r.Register(&MockProvider{id: "/B", ready: false})

	ready := r.ListReady()
	if len(ready) != 2 || ready[0] != "/A" || ready[1] != "/C" {
		t.Errorf("ListReady() = %v, want [/A /C]", ready)
	}

	status := r.ListAll()
	if len(status) != 3 {
		t.Errorf("ListAll() returned %d entries, want 3", len(status))
	}
	if status["/B"] {
		t.Error("ListAll() /B should be not ready")
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a := &MockProvider{id: "/A", ready: true}
	b := &MockProvider{id: "/B", ready: true}
	r.Register(a)
	r.Register(b)

	r.CloseAll()
	if !a.closed || !b.closed {
		t.Error("CloseAll() did not close every provider")
	}
}
