package state

import (
	"github.com/crytic/forkcache/state/cache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
)

// Database defines the capability set the execution engine needs from forked state: sparse reads of accounts, storage
// and block hashes, plus committing a post-transaction diff. Only MemDB implements it in this module, but the seam is
// kept so an alternative backing store can be swapped in.
type Database interface {
	// ReadAccount returns the cached info for the given address, or false if the address has never been stored.
	ReadAccount(addr common.Address) (*cache.AccountInfo, bool)

	// ReadStorage returns the cached value of the given slot, or false if no non-zero value is stored for it.
	ReadStorage(addr common.Address, slot common.Hash) (common.Hash, bool)

	// ReadBlockHash returns the cached hash for the given block number, or false if it has never been stored.
	ReadBlockHash(number uint64) (common.Hash, bool)

	// Commit applies a post-execution state diff.
	Commit(diff StateDiff)

	// Clear empties the database. Used when the pinned block changes, since state at a different historical point
	// shares no validity with previously cached state.
	Clear()
}

var _ Database = (*MemDB)(nil)

// MemDB is the in-memory forked state: three sparse maps over accounts, per-address storage and block hashes. Storage
// maps hold only non-zero slots; an address with no remaining non-zero slots has no storage entry at all. MemDB
// performs no locking of its own; the owning Store guards access.
type MemDB struct {
	accounts    map[common.Address]cache.AccountInfo
	storage     map[common.Address]map[common.Hash]common.Hash
	blockHashes map[uint64]common.Hash
}

// NewMemDB creates an empty MemDB.
func NewMemDB() *MemDB {
	return &MemDB{
		accounts:    make(map[common.Address]cache.AccountInfo),
		storage:     make(map[common.Address]map[common.Hash]common.Hash),
		blockHashes: make(map[uint64]common.Hash),
	}
}

// newMemDBFromDocument creates a MemDB populated from a loaded cache document.
func newMemDBFromDocument(doc *cache.Document) *MemDB {
	db := NewMemDB()
	for addr, info := range doc.Accounts {
		db.accounts[addr] = info
	}
	for addr, slots := range doc.Storage {
		if len(slots) == 0 {
			continue
		}
		db.storage[addr] = maps.Clone(slots)
	}
	for number, hash := range doc.BlockHashes {
		db.blockHashes[uint64(number)] = hash
	}
	return db
}

// ReadAccount returns a copy of the stored info for the given address, or false if the address is not present.
func (db *MemDB) ReadAccount(addr common.Address) (*cache.AccountInfo, bool) {
	info, ok := db.accounts[addr]
	if !ok {
		return nil, false
	}
	return &info, true
}

// WriteAccount stores info for the given address. Accounts fetched from the remote endpoint enter the database
// through this path; their code hash is resolved the same way committed accounts are.
func (db *MemDB) WriteAccount(addr common.Address, info cache.AccountInfo) {
	if info.Balance == nil {
		info.Balance = uint256.NewInt(0)
	}
	if info.CodeHash == (common.Hash{}) {
		info.CodeHash = resolveCodeHash(info.Code)
	}
	db.accounts[addr] = info
}

// ReadStorage returns the stored value of the given slot, or false if no non-zero value is present.
func (db *MemDB) ReadStorage(addr common.Address, slot common.Hash) (common.Hash, bool) {
	slots, ok := db.storage[addr]
	if !ok {
		return common.Hash{}, false
	}
	value, ok := slots[slot]
	return value, ok
}

// WriteStorage stores a slot value for the given address. Writing the zero value removes the slot; if that leaves the
// address with no slots, its storage entry is removed entirely.
func (db *MemDB) WriteStorage(addr common.Address, slot common.Hash, value common.Hash) {
	if value == (common.Hash{}) {
		if slots, ok := db.storage[addr]; ok {
			delete(slots, slot)
			if len(slots) == 0 {
				delete(db.storage, addr)
			}
		}
		return
	}

	slots, ok := db.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		db.storage[addr] = slots
	}
	slots[slot] = value
}

// ReadBlockHash returns the stored hash for the given block number, or false if it is not present.
func (db *MemDB) ReadBlockHash(number uint64) (common.Hash, bool) {
	hash, ok := db.blockHashes[number]
	return hash, ok
}

// WriteBlockHash stores the hash for the given block number.
func (db *MemDB) WriteBlockHash(number uint64, hash common.Hash) {
	db.blockHashes[number] = hash
}

// Commit applies a post-execution state diff. Untouched accounts are skipped. Destroyed accounts lose both their
// account entry and their entire storage. Otherwise account info is upserted with a resolved code hash, created
// accounts have any pre-existing storage cleared, and per-slot writes are merged with zero-value writes removing the
// slot.
func (db *MemDB) Commit(diff StateDiff) {
	for addr, accountDiff := range diff {
		if accountDiff == nil || !accountDiff.Touched {
			continue
		}

		if accountDiff.Destroyed {
			delete(db.accounts, addr)
			delete(db.storage, addr)
			continue
		}

		balance := accountDiff.Balance
		if balance == nil {
			balance = uint256.NewInt(0)
		}
		db.accounts[addr] = cache.AccountInfo{
			Balance:  balance,
			Nonce:    accountDiff.Nonce,
			Code:     accountDiff.Code,
			CodeHash: resolveCodeHash(accountDiff.Code),
		}

		// A reused address must not leak slots from its previous occupant.
		if accountDiff.Created {
			delete(db.storage, addr)
		}

		if len(accountDiff.Storage) > 0 {
			slots, ok := db.storage[addr]
			if !ok {
				slots = make(map[common.Hash]common.Hash)
			}
			for slot, value := range accountDiff.Storage {
				if value == (common.Hash{}) {
					delete(slots, slot)
				} else {
					slots[slot] = value
				}
			}
			if len(slots) == 0 {
				delete(db.storage, addr)
			} else {
				db.storage[addr] = slots
			}
		}
	}
}

// Clear empties all three maps.
func (db *MemDB) Clear() {
	db.accounts = make(map[common.Address]cache.AccountInfo)
	db.storage = make(map[common.Address]map[common.Hash]common.Hash)
	db.blockHashes = make(map[uint64]common.Hash)
}

// dump deep-copies the database into a cache document carrying the provided meta.
func (db *MemDB) dump(meta cache.Meta) *cache.Document {
	doc := cache.NewDocument(meta)
	for addr, info := range db.accounts {
		copied := info
		if info.Balance != nil {
			copied.Balance = info.Balance.Clone()
		}
		doc.Accounts[addr] = copied
	}
	for addr, slots := range db.storage {
		doc.Storage[addr] = maps.Clone(slots)
	}
	for number, hash := range db.blockHashes {
		doc.BlockHashes[hexutil.Uint64(number)] = hash
	}
	return doc
}

// resolveCodeHash computes the hash of non-empty code, or returns the well-known empty-code sentinel.
func resolveCodeHash(code []byte) common.Hash {
	if len(code) > 0 {
		return crypto.Keccak256Hash(code)
	}
	return types.EmptyCodeHash
}
