package cache

import "sync"

// Guard ties the lifetime of a PersistentCache to a scope: releasing the guard performs exactly one flush of a
// snapshot of the live state, no matter how many times or from how many paths Release is called. A Guard must not be
// copied after first use.
type Guard struct {
	once     sync.Once
	cache    *PersistentCache
	snapshot func() *Document
}

// NewGuard creates a Guard over the provided cache. The snapshot function is invoked once, at release time, to
// capture the document to be flushed.
func NewGuard(cache *PersistentCache, snapshot func() *Document) *Guard {
	return &Guard{
		cache:    cache,
		snapshot: snapshot,
	}
}

// Release flushes the cache exactly once. Subsequent calls are no-ops.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.cache.Flush(g.snapshot())
	})
}
