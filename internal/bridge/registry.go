package bridge

import "sync"

// registry is the bridge's exclusively-owned set of live connections.
// Admission counts are mutated under the same lock as membership so two
// concurrent attempts from one key cannot both slip under the cap.
type registry struct {
	mu     sync.Mutex
	conns  map[string]*Connection
	perKey map[string]int
	cap    int
}

func newRegistry(perKeyCap int) *registry {
	return &registry{
		conns:  make(map[string]*Connection),
		perKey: make(map[string]int),
		cap:    perKeyCap,
	}
}

// add admits the connection unless its key is at the cap.
func (r *registry) add(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.perKey[c.APIKeyID] >= r.cap {
		return false
	}
	r.conns[c.ID] = c
	r.perKey[c.APIKeyID]++
	return true
}

func (r *registry) remove(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connectionID]
	if !ok {
		return
	}
	delete(r.conns, connectionID)
	if r.perKey[c.APIKeyID]--; r.perKey[c.APIKeyID] <= 0 {
		delete(r.perKey, c.APIKeyID)
	}
}

func (r *registry) countForKey(apiKeyID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perKey[apiKeyID]
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// snapshot returns the live connections for fan-out without holding the
// lock during sends.
func (r *registry) snapshot() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
