package netport

import (
	"fmt"
	"sync"
)

// Pool manages allocation of host ports for app instances.
// Thread-safe for concurrent starts.
type Pool struct {
	mu   sync.RWMutex
	pool map[int]string // port -> instance id
}

// NewPool creates a pool spanning [startPort, endPort].
func NewPool(startPort, endPort int) (*Pool, error) {
	if startPort <= 0 || endPort > 65535 || startPort >= endPort {
		return nil, fmt.Errorf("invalid port pool range: start=%d, end=%d", startPort, endPort)
	}

	p := &Pool{
		pool: make(map[int]string),
	}

	for port := startPort; port <= endPort; port++ {
		p.pool[port] = ""
	}

	return p, nil
}

// Allocate assigns a free port to an instance.
func (p *Pool) Allocate(instanceID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for port, id := range p.pool {
		if len(id) == 0 {
			p.pool[port] = instanceID
			return port, nil
		}
	}

	return 0, ErrPoolExhausted
}

// Claim marks a specific port as held by an instance, used when adopting
// instances that survived a daemon restart.
func (p *Pool) Claim(port int, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.pool[port]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPortNotInPool, port)
	}
	if len(id) > 0 && id != instanceID {
		return fmt.Errorf("%w: port %d held by %s", ErrPortNotOwned, port, id)
	}

	p.pool[port] = instanceID
	return nil
}

// Release returns a port back to the pool.
// Fails if the port is currently held by a different instance.
func (p *Pool) Release(port int, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.pool[port]
	if !ok {
		return fmt.Errorf("%w: %d", ErrPortNotInPool, port)
	}

	if len(id) > 0 && id != instanceID {
		return fmt.Errorf("%w: port %d held by %s, not %s", ErrPortNotOwned, port, id, instanceID)
	}

	p.pool[port] = ""
	return nil
}

// IsAllocated checks if a port is currently allocated.
func (p *Pool) IsAllocated(port int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.pool[port]
	return ok && len(id) > 0
}
