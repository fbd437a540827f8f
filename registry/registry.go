// Package registry lets a daemon publish where its socket lives and lets
// clients find it, instead of every consumer compiling in the same path.
package registry

import (
	"os"
	"slices"
	"strings"
	"sync"
)

// Endpoint describes one daemon socket.
type Endpoint struct {
	Path      string `json:"path"`       // unix socket path
	Host      string `json:"host"`       // machine the socket lives on
	ByteOrder string `json:"byte_order"` // wire byte order the daemon speaks
	Version   string `json:"version"`
}

type Registry interface {
	Register(service string, ep Endpoint, ttl int64) error
	Deregister(service string, path string) error
	Discover(service string) ([]Endpoint, error)
	Watch(service string) <-chan []Endpoint
}

// Local keeps the endpoints reachable from this machine. Unix sockets do not
// cross hosts; an endpoint without a Host is assumed local.
func Local(eps []Endpoint) []Endpoint {
	host, _ := os.Hostname()
	local := make([]Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep.Host == "" || ep.Host == host {
			local = append(local, ep)
		}
	}
	return local
}

// MemoryRegistry is an in-process Registry for tests and single-binary setups.
// TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string][]Endpoint
	watchers map[string][]chan []Endpoint
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string][]Endpoint),
		watchers: make(map[string][]chan []Endpoint),
	}
}

func (m *MemoryRegistry) Register(service string, ep Endpoint, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	eps := slices.DeleteFunc(m.services[service], func(e Endpoint) bool { return e.Path == ep.Path })
	m.services[service] = append(eps, ep)
	m.notify(service)
	return nil
}

func (m *MemoryRegistry) Deregister(service string, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services[service] = slices.DeleteFunc(m.services[service], func(e Endpoint) bool { return e.Path == path })
	m.notify(service)
	return nil
}

func (m *MemoryRegistry) Discover(service string) ([]Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(service), nil
}

// Watch emits the endpoint list after every change. Only the latest list is
// kept for a slow reader.
func (m *MemoryRegistry) Watch(service string) <-chan []Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan []Endpoint, 1)
	m.watchers[service] = append(m.watchers[service], ch)
	return ch
}

func (m *MemoryRegistry) snapshot(service string) []Endpoint {
	eps := slices.Clone(m.services[service])
	slices.SortFunc(eps, func(a, b Endpoint) int { return strings.Compare(a.Path, b.Path) })
	return eps
}

// notify must be called with mu held.
func (m *MemoryRegistry) notify(service string) {
	eps := m.snapshot(service)
	for _, ch := range m.watchers[service] {
		select {
		case <-ch:
		default:
		}
		ch <- eps
	}
}
