package coord

import "sync"

// Guard is a set of entity ids with a mutation in flight.
// Callers acquire before the mutating call and release with defer.
type Guard struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{ids: make(map[string]struct{})}
}

// TryAcquire inserts id and returns true, or returns false without
// touching the set when id is already held.
func (g *Guard) TryAcquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.ids[id]; ok {
		return false
	}
	g.ids[id] = struct{}{}
	return true
}

// Release removes id. Releasing an id that is not held is a no-op.
func (g *Guard) Release(id string) {
	g.mu.Lock()
	delete(g.ids, id)
	g.mu.Unlock()
}

// Held reports whether id is currently acquired.
func (g *Guard) Held(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.ids[id]
	return ok
}

// Len returns the number of ids held.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}
