package cache

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/crytic/forkcache/logging"
	"github.com/crytic/forkcache/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// AccountInfo describes the cached state of a single account.
type AccountInfo struct {
	Balance  *uint256.Int  `json:"balance"`
	Nonce    uint64        `json:"nonce"`
	Code     hexutil.Bytes `json:"code,omitempty"`
	CodeHash common.Hash   `json:"code_hash"`
}

// Document is the single JSON document a cache persists to disk: the meta identifying the data, plus the three sparse
// state maps. Storage maps contain only non-zero slots.
type Document struct {
	Meta        Meta                                           `json:"meta"`
	Accounts    map[common.Address]AccountInfo                 `json:"accounts"`
	Storage     map[common.Address]map[common.Hash]common.Hash `json:"storage"`
	BlockHashes map[hexutil.Uint64]common.Hash                 `json:"block_hashes"`
}

// NewDocument returns an empty Document carrying the provided meta.
func NewDocument(meta Meta) *Document {
	return &Document{
		Meta:        meta,
		Accounts:    make(map[common.Address]AccountInfo),
		Storage:     make(map[common.Address]map[common.Hash]common.Hash),
		BlockHashes: make(map[hexutil.Uint64]common.Hash),
	}
}

// PersistentCache reads and writes a Document at a fixed path on disk. A cache constructed with an empty path is
// transient: loads fail and flushes are no-ops.
type PersistentCache struct {
	// path describes the location of the cache file on disk, or the empty string for a transient cache.
	path string

	// logger describes the logger used to record flush failures, which are swallowed rather than surfaced.
	logger *logging.Logger
}

// NewPersistentCache creates a PersistentCache over the given file path. An empty path yields a transient cache.
func NewPersistentCache(path string, logger *logging.Logger) *PersistentCache {
	if logger == nil {
		logger = logging.GlobalLogger.NewSubLogger("module", "cache")
	}
	return &PersistentCache{
		path:   path,
		logger: logger,
	}
}

// Path returns the on-disk location of the cache file, or the empty string for a transient cache.
func (p *PersistentCache) Path() string {
	return p.path
}

// Load reads and parses the cache document from disk. Any I/O or parse failure is returned as an explicit error,
// leaving the caller to decide whether to fall back to an empty state.
func (p *PersistentCache) Load() (*Document, error) {
	if p.path == "" {
		return nil, errors.New("cannot load a transient cache")
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read cache file '%s'", p.path)
	}

	var doc Document
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "could not parse cache file '%s'", p.path)
	}

	// Older files may omit empty maps entirely.
	if doc.Accounts == nil {
		doc.Accounts = make(map[common.Address]AccountInfo)
	}
	if doc.Storage == nil {
		doc.Storage = make(map[common.Address]map[common.Hash]common.Hash)
	}
	if doc.BlockHashes == nil {
		doc.BlockHashes = make(map[hexutil.Uint64]common.Hash)
	}
	return &doc, nil
}

// Flush serializes the provided document and writes it to disk, creating any missing parent directories. Persistence
// is an optimization: failures are logged and swallowed, never surfaced to the caller. Flushing a transient cache is a
// no-op.
func (p *PersistentCache) Flush(doc *Document) {
	if p.path == "" || doc == nil {
		return
	}

	if dir := filepath.Dir(p.path); dir != "" {
		if err := utils.MakeDirectory(dir); err != nil {
			p.logger.Error("could not create cache directory", err)
			return
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		p.logger.Error("could not serialize cache document", err)
		return
	}

	if err = os.WriteFile(p.path, data, 0644); err != nil {
		p.logger.Error("could not write cache file", err)
		return
	}
	p.logger.Debug("flushed fork cache to ", p.path)
}
