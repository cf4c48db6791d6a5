package fork

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"github.com/crytic/forkcache/logging"
	"github.com/crytic/forkcache/rpc"
	"github.com/crytic/forkcache/state"
	"github.com/crytic/forkcache/state/cache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

/*
Fork serves RPC-shaped queries against a pinned historical block through a read-through response cache, and exposes
the low-level state store the execution engine reads during interpretation. Each operation derives a cache key from
its natural parameters: a hit returns with zero network access (cached history never expires), a miss awaits the
provider, fills the cache on success, and propagates transport errors unchanged.

A single mutex guards the config and response cache together; it is never held across a provider call, and it is never
held simultaneously with the state store's lock. Concurrent misses on the same key may both fetch and both write; the
results for a fixed historical key are identical, so the race is accepted rather than de-duplicated.
*/
type Fork struct {
	// lock guards config and cache. Critical sections are short: acquire, read, release, optionally perform I/O,
	// then re-acquire to write.
	lock sync.Mutex

	// config describes the fork-wide identity and provider handle. Owned exclusively by this Fork.
	config *Config

	// cache holds RPC-shaped responses for the current pinned block.
	cache *responseCache

	// store holds the low-level forked state accessed directly by the execution engine.
	store *state.Store

	// logger describes the logger fork operations report to.
	logger *logging.Logger
}

// NewFork creates a Fork over the provided config and state store. The pinned block identity is established by the
// first call to Reset.
func NewFork(config *Config, store *state.Store, logger *logging.Logger) *Fork {
	if logger == nil {
		logger = logging.GlobalLogger.NewSubLogger("module", "fork")
	}
	return &Fork{
		config: config,
		cache:  newResponseCache(),
		store:  store,
		logger: logger,
	}
}

// Store returns the state store the execution engine reads during interpretation.
func (f *Fork) Store() *state.Store {
	return f.store
}

// BlockNumber returns the pinned historical block number.
func (f *Fork) BlockNumber() uint64 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.config.BlockNumber
}

// BlockHash returns the pinned historical block hash.
func (f *Fork) BlockHash() common.Hash {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.config.BlockHash
}

// ChainID returns the chain id of the forked endpoint, or the configured override.
func (f *Fork) ChainID() uint64 {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.config.ChainID
}

// provider returns the currently active provider without holding the lock across the subsequent call.
func (f *Fork) provider() rpc.Provider {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.config.Provider
}

// Reset repoints the fork: the state store is cleared first, then (if a url is provided) the provider is rebuilt and
// the chain id re-resolved, the new pinned block is resolved (a missing block yields ErrBlockNotFound), the config's
// five block-identity fields are updated atomically, and finally the response cache is wholesale-cleared. The state
// store mutation always completes before the config and response cache mutations, so no concurrent reader observes a
// new pinned block alongside stale cache entries.
func (f *Fork) Reset(ctx context.Context, newURL string, blockNumber ethrpc.BlockNumber) error {
	f.store.Clear()

	f.lock.Lock()
	if newURL != "" && newURL != f.config.EthRPCURL {
		if err := f.config.updateURL(newURL); err != nil {
			f.lock.Unlock()
			return err
		}
	}
	provider := f.config.Provider
	override := f.config.OverrideChainID
	endpoint := f.config.EthRPCURL
	f.lock.Unlock()

	var chainID uint64
	if override != nil {
		chainID = *override
	} else {
		var err error
		if chainID, err = provider.ChainID(ctx); err != nil {
			return err
		}
	}

	block, err := provider.BlockByNumber(ctx, blockNumber, false)
	if err != nil {
		return err
	}
	if block == nil {
		return errors.WithMessagef(ErrBlockNotFound, "block %v", blockNumber)
	}

	baseFee := optionalUint256(block.BaseFeePerGas)
	totalDifficulty := optionalUint256(block.TotalDifficulty)

	f.store.SetBlockEnv(cache.BlockEnv{
		Number:     hexutil.Uint64(block.NumberU64()),
		Coinbase:   block.Miner,
		Timestamp:  block.Timestamp,
		GasLimit:   block.GasLimit,
		BaseFee:    block.BaseFeePerGas,
		Difficulty: block.Difficulty,
		Prevrandao: block.MixHash,
	})
	if parsed, parseErr := url.Parse(endpoint); parseErr == nil && parsed.Host != "" {
		f.store.AddHost(parsed.Host)
	}

	f.lock.Lock()
	f.config.ChainID = chainID
	f.config.updateBlock(block.NumberU64(), block.Hash, uint64(block.Timestamp), baseFee, totalDifficulty)
	f.cache.clear()
	f.lock.Unlock()

	f.logger.Info("fork reset to block ", block.NumberU64(), " at ", endpoint)
	return nil
}

// BlockByHash returns the block with the given hash with transactions as bare hashes, or nil if no such block exists.
func (f *Fork) BlockByHash(ctx context.Context, hash common.Hash) (*rpc.Block, error) {
	f.lock.Lock()
	cached, ok := f.cache.blocks[hash]
	provider := f.config.Provider
	f.lock.Unlock()
	if ok {
		return cached, nil
	}

	block, err := provider.BlockByHash(ctx, hash, false)
	if err != nil || block == nil {
		return nil, err
	}
	f.cacheBlock(block)
	return block, nil
}

// BlockByHashFull returns the block with the given hash with full transaction bodies, or nil if no such block exists.
// A cached hash-only block is converted by substituting cached transaction bodies, fetching only the missing ones.
func (f *Fork) BlockByHashFull(ctx context.Context, hash common.Hash) (*rpc.Block, error) {
	f.lock.Lock()
	cached, ok := f.cache.blocks[hash]
	provider := f.config.Provider
	f.lock.Unlock()
	if ok {
		return f.convertToFullBlock(ctx, cached)
	}

	block, err := provider.BlockByHash(ctx, hash, true)
	if err != nil || block == nil {
		return nil, err
	}
	f.cacheFullBlock(block)
	return block, nil
}

// BlockByNumber returns the block at the given number with transactions as bare hashes, or nil if no such block
// exists. The number is first resolved to a hash so the by-hash cache is reused rather than storing the block twice.
func (f *Fork) BlockByNumber(ctx context.Context, number uint64) (*rpc.Block, error) {
	f.lock.Lock()
	var cached *rpc.Block
	if hash, ok := f.cache.blockHashes[number]; ok {
		cached = f.cache.blocks[hash]
	}
	provider := f.config.Provider
	f.lock.Unlock()
	if cached != nil {
		return cached, nil
	}

	block, err := provider.BlockByNumber(ctx, ethrpc.BlockNumber(number), false)
	if err != nil || block == nil {
		return nil, err
	}
	f.cacheBlock(block)
	return block, nil
}

// BlockByNumberFull returns the block at the given number with full transaction bodies, or nil if no such block
// exists.
func (f *Fork) BlockByNumberFull(ctx context.Context, number uint64) (*rpc.Block, error) {
	f.lock.Lock()
	var cached *rpc.Block
	if hash, ok := f.cache.blockHashes[number]; ok {
		cached = f.cache.blocks[hash]
	}
	provider := f.config.Provider
	f.lock.Unlock()
	if cached != nil {
		return f.convertToFullBlock(ctx, cached)
	}

	block, err := provider.BlockByNumber(ctx, ethrpc.BlockNumber(number), true)
	if err != nil || block == nil {
		return nil, err
	}
	f.cacheFullBlock(block)
	return block, nil
}

// TransactionByHash returns the transaction with the given hash, or nil if no such transaction exists.
func (f *Fork) TransactionByHash(ctx context.Context, hash common.Hash) (*rpc.Transaction, error) {
	f.lock.Lock()
	cached, ok := f.cache.transactions[hash]
	provider := f.config.Provider
	f.lock.Unlock()
	if ok {
		return cached, nil
	}

	tx, err := provider.TransactionByHash(ctx, hash)
	if err != nil || tx == nil {
		return nil, err
	}
	f.lock.Lock()
	f.cache.transactions[hash] = tx
	f.lock.Unlock()
	return tx, nil
}

// TransactionByBlockHashAndIndex composes the block and transaction caches: the block's transaction hash at the given
// index is resolved through TransactionByHash. No separate cache backs this operation. A missing block yields
// ErrBlockNotFound; an out-of-range index yields nil.
func (f *Fork) TransactionByBlockHashAndIndex(ctx context.Context, blockHash common.Hash, index uint64) (*rpc.Transaction, error) {
	block, err := f.BlockByHash(ctx, blockHash)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, errors.WithMessagef(ErrBlockNotFound, "block %s", blockHash)
	}
	return f.transactionAtIndex(ctx, block, index)
}

// TransactionByBlockNumberAndIndex behaves as TransactionByBlockHashAndIndex for a block number.
func (f *Fork) TransactionByBlockNumberAndIndex(ctx context.Context, number uint64, index uint64) (*rpc.Transaction, error) {
	block, err := f.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, errors.WithMessagef(ErrBlockNotFound, "block %d", number)
	}
	return f.transactionAtIndex(ctx, block, index)
}

// transactionAtIndex resolves a block's transaction at the given index through the transaction cache.
func (f *Fork) transactionAtIndex(ctx context.Context, block *rpc.Block, index uint64) (*rpc.Transaction, error) {
	hashes := block.Transactions.TxHashes()
	if index >= uint64(len(hashes)) {
		return nil, nil
	}
	return f.TransactionByHash(ctx, hashes[index])
}

// TransactionReceipt returns the receipt of the transaction with the given hash, or nil if no such receipt exists.
func (f *Fork) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.lock.Lock()
	cached, ok := f.cache.receipts[hash]
	provider := f.config.Provider
	f.lock.Unlock()
	if ok {
		return cached, nil
	}

	receipt, err := provider.TransactionReceipt(ctx, hash)
	if err != nil || receipt == nil {
		return nil, err
	}
	f.lock.Lock()
	f.cache.receipts[hash] = receipt
	f.lock.Unlock()
	return receipt, nil
}

// BlockReceipts returns all receipts of the block at the given number.
func (f *Fork) BlockReceipts(ctx context.Context, number uint64) ([]*types.Receipt, error) {
	f.lock.Lock()
	cached, ok := f.cache.blockReceipts[number]
	provider := f.config.Provider
	f.lock.Unlock()
	if ok {
		return cached, nil
	}

	receipts, err := provider.BlockReceipts(ctx, number)
	if err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.cache.blockReceipts[number] = receipts
	f.lock.Unlock()
	return receipts, nil
}

// UncleByBlockHashAndIndex returns an uncle of the block with the given hash. The entire ordered uncle list is
// fetched and cached on first access, since uncles cannot be enumerated remotely without their parent block. An
// out-of-range index yields nil.
func (f *Fork) UncleByBlockHashAndIndex(ctx context.Context, blockHash common.Hash, index uint64) (*rpc.Block, error) {
	f.lock.Lock()
	uncles, ok := f.cache.uncles[blockHash]
	provider := f.config.Provider
	f.lock.Unlock()

	if !ok {
		block, err := f.BlockByHash(ctx, blockHash)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, errors.WithMessagef(ErrBlockNotFound, "block %s", blockHash)
		}

		uncles = make([]*rpc.Block, 0, len(block.Uncles))
		for i := range block.Uncles {
			uncle, err := provider.UncleByBlockHashAndIndex(ctx, blockHash, uint64(i))
			if err != nil {
				return nil, err
			}
			if uncle == nil {
				break
			}
			uncles = append(uncles, uncle)
		}
		f.lock.Lock()
		f.cache.uncles[blockHash] = uncles
		f.lock.Unlock()
	}

	if index >= uint64(len(uncles)) {
		return nil, nil
	}
	return uncles[index], nil
}

// UncleCountByBlockHash returns the number of uncles of the block with the given hash. A missing block yields
// ErrBlockNotFound.
func (f *Fork) UncleCountByBlockHash(ctx context.Context, blockHash common.Hash) (uint64, error) {
	block, err := f.BlockByHash(ctx, blockHash)
	if err != nil {
		return 0, err
	}
	if block == nil {
		return 0, errors.WithMessagef(ErrBlockNotFound, "block %s", blockHash)
	}
	return uint64(len(block.Uncles)), nil
}

// Logs returns all logs matching the given filter. Results are cached by the filter object itself.
func (f *Fork) Logs(ctx context.Context, filter rpc.LogFilter) ([]types.Log, error) {
	serialized, err := json.Marshal(filter)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize log filter")
	}
	key := string(serialized)

	f.lock.Lock()
	cached, ok := f.cache.logs[key]
	provider := f.config.Provider
	f.lock.Unlock()
	if ok {
		return cached, nil
	}

	logs, err := provider.FilterLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.cache.logs[key] = logs
	f.lock.Unlock()
	return logs, nil
}

// GetCode returns the code of the given address at the given block number.
func (f *Fork) GetCode(ctx context.Context, addr common.Address, number uint64) (hexutil.Bytes, error) {
	key := codeKey{addr: addr, number: number}
	f.lock.Lock()
	cached, ok := f.cache.code[key]
	provider := f.config.Provider
	f.lock.Unlock()
	if ok {
		return cached, nil
	}

	code, err := provider.CodeAt(ctx, addr, number)
	if err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.cache.code[key] = code
	f.lock.Unlock()
	return code, nil
}

// GetBalance returns the balance of the given address at the given block number. Balances are served by the state
// layer when touched by execution; this path is uncached.
func (f *Fork) GetBalance(ctx context.Context, addr common.Address, number uint64) (*hexutil.Big, error) {
	return f.provider().BalanceAt(ctx, addr, number)
}

// GetNonce returns the nonce of the given address at the given block number. Uncached, as GetBalance.
func (f *Fork) GetNonce(ctx context.Context, addr common.Address, number uint64) (uint64, error) {
	return f.provider().NonceAt(ctx, addr, number)
}

// StorageAt returns the value of the given storage slot at the given block number. Uncached, as GetBalance.
func (f *Fork) StorageAt(ctx context.Context, addr common.Address, slot common.Hash, number uint64) (common.Hash, error) {
	return f.provider().StorageAt(ctx, addr, slot, number)
}

// Call executes a read-only call. The result is cached only when the target block is a concrete number; "latest" and
// "pending" are non-deterministic with respect to fixed historical state and bypass the cache entirely.
func (f *Fork) Call(ctx context.Context, request rpc.CallRequest, block ethrpc.BlockNumber) (hexutil.Bytes, error) {
	cacheable := block >= 0
	var key requestKey
	if cacheable {
		var err error
		if key, err = makeRequestKey(request, uint64(block)); err != nil {
			return nil, err
		}
		f.lock.Lock()
		cached, ok := f.cache.callResults[key]
		f.lock.Unlock()
		if ok {
			return cached, nil
		}
	}

	result, err := f.provider().Call(ctx, request, block)
	if err != nil {
		return nil, err
	}
	if cacheable {
		f.lock.Lock()
		f.cache.callResults[key] = result
		f.lock.Unlock()
	}
	return result, nil
}

// EstimateGas estimates the gas used by the given request, with the same caching rule as Call.
func (f *Fork) EstimateGas(ctx context.Context, request rpc.CallRequest, block ethrpc.BlockNumber) (uint64, error) {
	cacheable := block >= 0
	var key requestKey
	if cacheable {
		var err error
		if key, err = makeRequestKey(request, uint64(block)); err != nil {
			return 0, err
		}
		f.lock.Lock()
		cached, ok := f.cache.gasEstimates[key]
		f.lock.Unlock()
		if ok {
			return cached, nil
		}
	}

	gas, err := f.provider().EstimateGas(ctx, request, block)
	if err != nil {
		return 0, err
	}
	if cacheable {
		f.lock.Lock()
		f.cache.gasEstimates[key] = gas
		f.lock.Unlock()
	}
	return gas, nil
}

// CreateAccessList builds an access list for the given request. Uncached.
func (f *Fork) CreateAccessList(ctx context.Context, request rpc.CallRequest, block ethrpc.BlockNumber) (*rpc.AccessListResult, error) {
	return f.provider().CreateAccessList(ctx, request, block)
}

// TraceTransaction returns the legacy-dialect trace of the transaction with the given hash.
func (f *Fork) TraceTransaction(ctx context.Context, hash common.Hash) ([]rpc.TraceEntry, error) {
	f.lock.Lock()
	cached, ok := f.cache.traces[hash]
	provider := f.config.Provider
	f.lock.Unlock()
	if ok {
		return cached, nil
	}

	trace, err := provider.TraceTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.cache.traces[hash] = trace
	f.lock.Unlock()
	return trace, nil
}

// DebugTraceTransaction returns the debug-dialect trace of the transaction with the given hash, keyed by the trace
// options alongside the hash since different options produce different results.
func (f *Fork) DebugTraceTransaction(ctx context.Context, hash common.Hash, opts rpc.TraceOptions) (json.RawMessage, error) {
	serialized, err := json.Marshal(opts)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize trace options")
	}
	key := debugTraceKey{hash: hash, opts: string(serialized)}

	f.lock.Lock()
	cached, ok := f.cache.debugTraces[key]
	provider := f.config.Provider
	f.lock.Unlock()
	if ok {
		return cached, nil
	}

	trace, err := provider.DebugTraceTransaction(ctx, hash, opts)
	if err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.cache.debugTraces[key] = trace
	f.lock.Unlock()
	return trace, nil
}

// TraceBlock returns legacy-dialect traces of every transaction in the block at the given number.
func (f *Fork) TraceBlock(ctx context.Context, number uint64) ([]rpc.TraceEntry, error) {
	f.lock.Lock()
	cached, ok := f.cache.blockTraces[number]
	provider := f.config.Provider
	f.lock.Unlock()
	if ok {
		return cached, nil
	}

	traces, err := provider.TraceBlock(ctx, number)
	if err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.cache.blockTraces[number] = traces
	f.lock.Unlock()
	return traces, nil
}

// FeeHistory returns base fee and reward history ending at the given block. Uncached.
func (f *Fork) FeeHistory(ctx context.Context, blockCount uint64, newestBlock ethrpc.BlockNumber, rewardPercentiles []float64) (*rpc.FeeHistory, error) {
	return f.provider().FeeHistory(ctx, blockCount, newestBlock, rewardPercentiles)
}

// GetProof returns a Merkle proof of the given account and storage keys at the given block number. Uncached.
func (f *Fork) GetProof(ctx context.Context, addr common.Address, keys []common.Hash, number uint64) (*rpc.AccountProof, error) {
	return f.provider().GetProof(ctx, addr, keys, number)
}

// cacheBlock stores a hash-only block under both its hash and its number.
func (f *Fork) cacheBlock(block *rpc.Block) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.cache.blocks[block.Hash] = block
	f.cache.blockHashes[block.NumberU64()] = block.Hash
}

// cacheFullBlock stores a full block as a hash-only block plus the individual transaction bodies, so each is cached
// exactly once.
func (f *Fork) cacheFullBlock(block *rpc.Block) {
	hashOnly := *block
	hashOnly.Transactions = rpc.BlockTransactions{Hashes: block.Transactions.TxHashes()}

	f.lock.Lock()
	defer f.lock.Unlock()
	f.cache.blocks[hashOnly.Hash] = &hashOnly
	f.cache.blockHashes[hashOnly.NumberU64()] = hashOnly.Hash
	for _, tx := range block.Transactions.Full {
		f.cache.transactions[tx.Hash] = tx
	}
}

// convertToFullBlock substitutes a hash-only block's transaction hashes with cached transaction bodies, falling back
// to the network only for bodies that are missing.
func (f *Fork) convertToFullBlock(ctx context.Context, block *rpc.Block) (*rpc.Block, error) {
	if block.Transactions.IsFull() {
		return block, nil
	}

	full := make([]*rpc.Transaction, 0, len(block.Transactions.Hashes))
	for _, hash := range block.Transactions.Hashes {
		tx, err := f.TransactionByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			return nil, errors.Errorf("transaction %s of block %s not found", hash, block.Hash)
		}
		full = append(full, tx)
	}

	converted := *block
	converted.Transactions = rpc.BlockTransactions{Full: full}
	return &converted, nil
}

// optionalUint256 converts an optional hex quantity into an optional uint256.
func optionalUint256(value *hexutil.Big) *uint256.Int {
	if value == nil {
		return nil
	}
	result, _ := uint256.FromBig(value.ToInt())
	return result
}
