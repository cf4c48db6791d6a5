package rpc

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

// TestBlockTransactionsSniffsShape ensures the transaction list decodes both wire shapes: a list of hashes and a
// list of full transaction objects.
func TestBlockTransactionsSniffsShape(t *testing.T) {
	var hashesOnly BlockTransactions
	err := json.Unmarshal([]byte(`["0x0100000000000000000000000000000000000000000000000000000000000000"]`), &hashesOnly)
	assert.NoError(t, err)
	assert.False(t, hashesOnly.IsFull())
	assert.Equal(t, 1, hashesOnly.Len())
	assert.Equal(t, common.Hash{0x01}, hashesOnly.Hashes[0])

	var full BlockTransactions
	err = json.Unmarshal([]byte(`[{"hash": "0x0200000000000000000000000000000000000000000000000000000000000000", "input": "0x"}]`), &full)
	assert.NoError(t, err)
	assert.True(t, full.IsFull())
	assert.Equal(t, 1, full.Len())
	assert.Equal(t, common.Hash{0x02}, full.Full[0].Hash)
}

// TestBlockTransactionsTxHashes ensures hash extraction works for both shapes.
func TestBlockTransactionsTxHashes(t *testing.T) {
	hashesOnly := BlockTransactions{Hashes: []common.Hash{{0x01}, {0x02}}}
	assert.Equal(t, []common.Hash{{0x01}, {0x02}}, hashesOnly.TxHashes())

	full := BlockTransactions{Full: []*Transaction{{Hash: common.Hash{0x03}}}}
	assert.Equal(t, []common.Hash{{0x03}}, full.TxHashes())

	// An empty list marshals as [] regardless of shape.
	encoded, err := json.Marshal(BlockTransactions{})
	assert.NoError(t, err)
	assert.JSONEq(t, `[]`, string(encoded))
}
