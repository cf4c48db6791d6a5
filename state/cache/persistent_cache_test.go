package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
)

// fixtureDocument builds a document with 1 account, 1 address holding 8 storage slots, and 5 block hashes.
func fixtureDocument() *Document {
	doc := NewDocument(Meta{
		CfgEnv:   CfgEnv{ChainID: 1, DisableEIP3607: true},
		BlockEnv: BlockEnv{Number: 19_000_000, Timestamp: 1_700_000_000, GasLimit: 30_000_000},
		Hosts:    NewHostSet("mainnet.example.com"),
	})

	addr := common.Address{0x11}
	doc.Accounts[addr] = AccountInfo{
		Balance:  uint256.NewInt(1_000_000),
		Nonce:    7,
		Code:     hexutil.Bytes{0x60, 0x00},
		CodeHash: common.Hash{0xaa},
	}

	slots := make(map[common.Hash]common.Hash)
	for i := byte(1); i <= 8; i++ {
		slots[common.Hash{i}] = common.Hash{0xf0, i}
	}
	doc.Storage[addr] = slots

	for i := uint64(0); i < 5; i++ {
		doc.BlockHashes[hexutil.Uint64(19_000_000-i)] = common.Hash{byte(i + 1)}
	}
	return doc
}

// TestPersistentCacheRoundTrip ensures a flushed document loads back with identical account, storage and block-hash
// content.
func TestPersistentCacheRoundTrip(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "forkcache-*")
	assert.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "nested", "cache.json")
	pc := NewPersistentCache(path, nil)

	original := fixtureDocument()
	pc.Flush(original)

	loaded, err := pc.Load()
	assert.NoError(t, err)
	assert.Len(t, loaded.Accounts, 1)
	assert.Len(t, loaded.Storage, 1)
	assert.Len(t, loaded.Storage[common.Address{0x11}], 8)
	assert.Len(t, loaded.BlockHashes, 5)
	assert.True(t, loaded.Meta.Equal(original.Meta))

	account := loaded.Accounts[common.Address{0x11}]
	assert.Equal(t, uint64(7), account.Nonce)
	assert.Equal(t, uint256.NewInt(1_000_000), account.Balance)
	assert.Equal(t, hexutil.Bytes{0x60, 0x00}, account.Code)
}

// TestPersistentCacheLoadFailures ensures I/O and parse failures surface as explicit errors rather than empty
// documents; the fallback decision belongs to the caller.
func TestPersistentCacheLoadFailures(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "forkcache-*")
	assert.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	// Missing file.
	pc := NewPersistentCache(filepath.Join(tmpDir, "missing.json"), nil)
	_, err = pc.Load()
	assert.Error(t, err)

	// Corrupt file.
	corruptPath := filepath.Join(tmpDir, "corrupt.json")
	assert.NoError(t, os.WriteFile(corruptPath, []byte("{not json"), 0644))
	pc = NewPersistentCache(corruptPath, nil)
	_, err = pc.Load()
	assert.Error(t, err)

	// Transient cache.
	pc = NewPersistentCache("", nil)
	_, err = pc.Load()
	assert.Error(t, err)
}

// TestTransientCacheFlushIsNoOp ensures flushing a path-less cache writes nothing and does not fail.
func TestTransientCacheFlushIsNoOp(t *testing.T) {
	pc := NewPersistentCache("", nil)
	pc.Flush(fixtureDocument())
}

// TestGuardFlushesExactlyOnce ensures releasing a guard from multiple paths performs a single flush.
func TestGuardFlushesExactlyOnce(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "forkcache-*")
	assert.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "cache.json")
	pc := NewPersistentCache(path, nil)

	snapshots := 0
	guard := NewGuard(pc, func() *Document {
		snapshots++
		return fixtureDocument()
	})

	guard.Release()
	guard.Release()
	guard.Release()
	assert.Equal(t, 1, snapshots)

	_, err = pc.Load()
	assert.NoError(t, err)
}
