package state

import (
	"sync"

	"github.com/crytic/forkcache/logging"
	"github.com/crytic/forkcache/state/cache"
	"github.com/ethereum/go-ethereum/common"
)

// Store is the forked state facade handed to the execution engine: an in-memory database, the meta identifying the
// data it holds, and an optional persistent disk cache. All accessors are lock-scoped; critical sections are short and
// never held across network fetches.
type Store struct {
	// lock guards db and meta. This lock is independent of the fork handle's lock and the two are never held
	// simultaneously within one operation.
	lock sync.RWMutex

	// meta identifies the execution environment and pinned block the stored data belongs to.
	meta cache.Meta

	// db holds the in-memory forked state.
	db *MemDB

	// disk describes the persistent cache backing this store, which may be transient.
	disk *cache.PersistentCache

	// guard is the single party permitted to flush the persistent cache on scope exit.
	guard *cache.Guard

	// logger describes the logger used to record cache load/flush outcomes.
	logger *logging.Logger
}

// NewStore creates a Store for the given meta, attempting to load a persisted cache from cachePath. The persisted
// data is used only if it loads cleanly and either its meta matches the requested meta or skipMetaCheck is set; on
// acceptance the requested hosts are unioned into the stored host set. Any other outcome falls back to a fresh, empty
// state keyed by the requested meta, since data whose identity cannot be confirmed must never be served. Load failures are
// handled here and never surfaced. An empty cachePath yields a transient store.
func NewStore(meta cache.Meta, cachePath string, skipMetaCheck bool, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.GlobalLogger.NewSubLogger("module", "state")
	}
	if meta.Hosts == nil {
		meta.Hosts = cache.NewHostSet()
	}

	store := &Store{
		meta:   meta,
		db:     NewMemDB(),
		disk:   cache.NewPersistentCache(cachePath, logger),
		logger: logger,
	}

	if cachePath != "" {
		doc, err := store.disk.Load()
		switch {
		case err != nil:
			store.logger.Debug("starting with empty fork state", err)
		case !skipMetaCheck && !doc.Meta.Equal(meta):
			store.logger.Warn("fork cache meta mismatch, starting with empty fork state")
		default:
			store.db = newMemDBFromDocument(doc)
			store.meta = doc.Meta
			if store.meta.Hosts == nil {
				store.meta.Hosts = cache.NewHostSet()
			}
			store.meta.Hosts.Union(meta.Hosts)
			store.logger.Debug("loaded fork state from ", cachePath)
		}
	}

	store.guard = cache.NewGuard(store.disk, store.snapshot)
	return store
}

var _ Database = (*Store)(nil)

// ReadAccount returns the stored info for the given address, or false if the address is not present.
func (s *Store) ReadAccount(addr common.Address) (*cache.AccountInfo, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.db.ReadAccount(addr)
}

// WriteAccount stores info fetched from the remote endpoint for the given address.
func (s *Store) WriteAccount(addr common.Address, info cache.AccountInfo) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.db.WriteAccount(addr, info)
}

// ReadStorage returns the stored value of the given slot, or false if no non-zero value is present.
func (s *Store) ReadStorage(addr common.Address, slot common.Hash) (common.Hash, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.db.ReadStorage(addr, slot)
}

// WriteStorage stores a slot value fetched from the remote endpoint.
func (s *Store) WriteStorage(addr common.Address, slot common.Hash, value common.Hash) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.db.WriteStorage(addr, slot, value)
}

// ReadBlockHash returns the stored hash for the given block number, or false if it is not present.
func (s *Store) ReadBlockHash(number uint64) (common.Hash, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.db.ReadBlockHash(number)
}

// WriteBlockHash stores the hash for the given block number.
func (s *Store) WriteBlockHash(number uint64, hash common.Hash) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.db.WriteBlockHash(number, hash)
}

// Commit applies a post-execution state diff.
func (s *Store) Commit(diff StateDiff) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.db.Commit(diff)
}

// Clear empties the in-memory state. The persistent cache handle and meta are untouched.
func (s *Store) Clear() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.db.Clear()
}

// Meta returns a copy of the meta identifying the stored data.
func (s *Store) Meta() cache.Meta {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.meta
}

// SetBlockEnv replaces the block environment portion of the meta. Callers must have already cleared any state pinned
// to the previous block.
func (s *Store) SetBlockEnv(env cache.BlockEnv) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.meta.BlockEnv = env
}

// AddHost records an endpoint host as a source of the stored data.
func (s *Store) AddHost(host string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.meta.Hosts.Add(host)
}

// PersistentCache returns the disk cache backing this store.
func (s *Store) PersistentCache() *cache.PersistentCache {
	return s.disk
}

// Guard returns the flush guard for this store's persistent cache. The guard is the sole party permitted to trigger
// the scope-exit flush.
func (s *Store) Guard() *cache.Guard {
	return s.guard
}

// Flush writes the current state to the persistent cache immediately. Failures are recorded and swallowed.
func (s *Store) Flush() {
	s.disk.Flush(s.snapshot())
}

// snapshot deep-copies the current state and meta into a cache document.
func (s *Store) snapshot() *cache.Document {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.db.dump(s.meta)
}
