package provider

import (
	"sort"
	"sync"
)

// Registry holds the providers of one snapshot in display order.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds p. A provider with the same id replaces the earlier one but
// keeps its position.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
}

// Get returns a provider by id.
func (r *Registry) Get(id string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// All returns the providers in registration order.
func (r *Registry) All() []Provider {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// Len returns the number of providers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ListReady returns the ids of ready providers, sorted.
func (r *Registry) ListReady() []string {
	var ready []string
	for _, p := range r.All() {
		if p.Ready() {
			ready = append(ready, p.ID())
		}
	}
	sort.Strings(ready)
	return ready
}

// ListAll returns every provider id with its readiness.
func (r *Registry) ListAll() map[string]bool {
	status := make(map[string]bool)
	for _, p := range r.All() {
		status[p.ID()] = p.Ready()
	}
	return status
}

// CloseAll closes every provider.
func (r *Registry) CloseAll() {
	for _, p := range r.All() {
		p.Close()
	}
}
