package registry

import (
	"context"
	"sync"
)

// MemoryRegistry is a process-local Registry for static router lists and tests.
// TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	realms   map[string][]Endpoint
	watchers map[string][]chan []Endpoint
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		realms:   make(map[string][]Endpoint),
		watchers: make(map[string][]chan []Endpoint),
	}
}

func (m *MemoryRegistry) Register(ctx context.Context, realm string, endpoint Endpoint, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	eps := m.realms[realm]
	for i, ep := range eps {
		if ep.Addr == endpoint.Addr {
			eps[i] = endpoint
			m.notifyLocked(realm)
			return nil
		}
	}
	m.realms[realm] = append(eps, endpoint)
	m.notifyLocked(realm)
	return nil
}

func (m *MemoryRegistry) Deregister(ctx context.Context, realm string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	eps := m.realms[realm]
	for i, ep := range eps {
		if ep.Addr == addr {
			m.realms[realm] = append(eps[:i:i], eps[i+1:]...)
			m.notifyLocked(realm)
			break
		}
	}
	return nil
}

func (m *MemoryRegistry) Discover(ctx context.Context, realm string) ([]Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Endpoint(nil), m.realms[realm]...), nil
}

// Watch emits the full endpoint list after every change until ctx is done.
// A slow reader only ever sees the latest list.
func (m *MemoryRegistry) Watch(ctx context.Context, realm string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)
	m.mu.Lock()
	m.watchers[realm] = append(m.watchers[realm], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		ws := m.watchers[realm]
		for i, w := range ws {
			if w == ch {
				m.watchers[realm] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (m *MemoryRegistry) notifyLocked(realm string) {
	snapshot := append([]Endpoint(nil), m.realms[realm]...)
	for _, ch := range m.watchers[realm] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
