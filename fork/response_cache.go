package fork

import (
	"encoding/json"

	"github.com/crytic/forkcache/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// codeKey identifies a cached code lookup.
type codeKey struct {
	addr   common.Address
	number uint64
}

// requestKey identifies a cached call or gas-estimate result: the serialized request body plus the concrete block
// number it was executed against.
type requestKey struct {
	request string
	number  uint64
}

// debugTraceKey identifies a cached debug-dialect trace: the transaction hash plus the serialized trace options.
type debugTraceKey struct {
	hash common.Hash
	opts string
}

// makeRequestKey derives a requestKey from a request body's canonical JSON form and a concrete block number.
func makeRequestKey(request rpc.CallRequest, number uint64) (requestKey, error) {
	serialized, err := json.Marshal(request)
	if err != nil {
		return requestKey{}, errors.Wrap(err, "could not serialize call request")
	}
	return requestKey{request: string(serialized), number: number}, nil
}

// responseCache holds RPC-shaped responses keyed by their natural request parameters. Entries are never evicted
// individually; the cache is only wholesale-cleared when the pinned block changes, since data describing immutable
// history never goes stale. The cache performs no locking of its own; the owning Fork guards access.
type responseCache struct {
	// blocks maps block hash to a block whose transactions are bare hashes.
	blocks map[common.Hash]*rpc.Block

	// blockHashes maps block number to block hash, so by-number lookups reuse the by-hash cache.
	blockHashes map[uint64]common.Hash

	transactions  map[common.Hash]*rpc.Transaction
	receipts      map[common.Hash]*types.Receipt
	blockReceipts map[uint64][]*types.Receipt

	traces      map[common.Hash][]rpc.TraceEntry
	debugTraces map[debugTraceKey]json.RawMessage
	blockTraces map[uint64][]rpc.TraceEntry

	// uncles maps block hash to the complete ordered uncle list of that block.
	uncles map[common.Hash][]*rpc.Block

	// logs maps a filter object's canonical JSON form to the logs it matched.
	logs map[string][]types.Log

	gasEstimates map[requestKey]uint64
	callResults  map[requestKey]hexutil.Bytes

	code map[codeKey]hexutil.Bytes
}

// newResponseCache creates an empty responseCache.
func newResponseCache() *responseCache {
	cache := &responseCache{}
	cache.clear()
	return cache
}

// clear wholesale-empties every map. Called on reset; the old entries belong to a different pinned block.
func (c *responseCache) clear() {
	c.blocks = make(map[common.Hash]*rpc.Block)
	c.blockHashes = make(map[uint64]common.Hash)
	c.transactions = make(map[common.Hash]*rpc.Transaction)
	c.receipts = make(map[common.Hash]*types.Receipt)
	c.blockReceipts = make(map[uint64][]*types.Receipt)
	c.traces = make(map[common.Hash][]rpc.TraceEntry)
	c.debugTraces = make(map[debugTraceKey]json.RawMessage)
	c.blockTraces = make(map[uint64][]rpc.TraceEntry)
	c.uncles = make(map[common.Hash][]*rpc.Block)
	c.logs = make(map[string][]types.Log)
	c.gasEstimates = make(map[requestKey]uint64)
	c.callResults = make(map[requestKey]hexutil.Bytes)
	c.code = make(map[codeKey]hexutil.Bytes)
}
