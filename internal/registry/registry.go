// Package registry holds the configured panel fleet: the validated server
// definitions plus one live adapter per server. It is the only place
// adapters are constructed, so everything above it can be tested with
// fakes.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/edvin/keyfleet/internal/config"
	"github.com/edvin/keyfleet/internal/model"
	"github.com/edvin/keyfleet/internal/panel"
)

var ErrUnknownServer = errors.New("unknown server")

// Factory builds an adapter for one server definition. Production wires
// panel.NewXUI; tests inject fakes.
type Factory func(model.PanelServer) panel.Adapter

type entry struct {
	server  model.PanelServer
	adapter panel.Adapter
}

type Registry struct {
	path    string
	factory Factory

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// New loads the fleet definition from path and builds adapters for every
// server. A broken definition fails construction outright.
func New(path string, factory Factory) (*Registry, error) {
	r := &Registry{path: path, factory: factory}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the fleet definition and swaps the server set
// atomically. Adapters are rebuilt, dropping any cached panel sessions;
// runtime active/inactive overrides are discarded in favor of the file.
func (r *Registry) Reload() error {
	servers, err := config.LoadServers(r.path)
	if err != nil {
		return fmt.Errorf("reload servers: %w", err)
	}

	entries := make(map[string]*entry, len(servers))
	order := make([]string, 0, len(servers))
	for _, s := range servers {
		entries[s.Name] = &entry{server: s, adapter: r.factory(s)}
		order = append(order, s.Name)
	}
	sort.Strings(order)

	r.mu.Lock()
	r.entries = entries
	r.order = order
	r.mu.Unlock()
	return nil
}

// All returns every configured server, active or not, in name order.
func (r *Registry) All() []model.PanelServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PanelServer, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].server)
	}
	return out
}

// Active returns the servers currently taking new keys, in name order.
func (r *Registry) Active() []model.PanelServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PanelServer, 0, len(r.order))
	for _, name := range r.order {
		if r.entries[name].server.IsActive {
			out = append(out, r.entries[name].server)
		}
	}
	return out
}

// ActiveAdapters returns one adapter per active server, in name order.
func (r *Registry) ActiveAdapters() []panel.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]panel.Adapter, 0, len(r.order))
	for _, name := range r.order {
		if r.entries[name].server.IsActive {
			out = append(out, r.entries[name].adapter)
		}
	}
	return out
}

// Get returns the server definition by name, active or not.
func (r *Registry) Get(name string) (model.PanelServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return model.PanelServer{}, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return e.server, nil
}

// Adapter returns the live adapter by name. Inactive servers still
// resolve: deletes and reconciliation must reach drained servers.
func (r *Registry) Adapter(name string) (panel.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return e.adapter, nil
}

// SetActive flips a server in or out of the placement set at runtime.
// The override lives in memory only and is lost on Reload.
func (r *Registry) SetActive(name string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	e.server.IsActive = active
	return nil
}
