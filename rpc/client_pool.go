package rpc

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/crytic/forkcache/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ClientConfig describes the settings a ClientPool is constructed with. The same settings are reused verbatim when a
// fork is repointed at a new endpoint.
type ClientConfig struct {
	// URL describes the remote endpoint to dial.
	URL string `json:"url"`

	// PoolSize describes how many underlying connections requests are spread across.
	PoolSize uint `json:"poolSize"`

	// Timeout bounds each individual request attempt.
	Timeout time.Duration `json:"timeout"`

	// Retries describes how many times a failed request is retried before its error is surfaced.
	Retries uint64 `json:"retries"`

	// Backoff describes the initial delay between retries; subsequent delays grow exponentially.
	Backoff time.Duration `json:"backoff"`

	// ComputeUnitsPerSecond throttles outbound requests when non-zero, for endpoints billed in compute units.
	ComputeUnitsPerSecond uint64 `json:"computeUnitsPerSecond"`

	// PollingInterval describes the interval consumers should poll the provider at.
	PollingInterval time.Duration `json:"pollingInterval"`
}

// DefaultClientConfig returns a ClientConfig populated with default values for the given endpoint.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		URL:                   endpoint,
		PoolSize:              1,
		Timeout:               45 * time.Second,
		Retries:               8,
		Backoff:               800 * time.Millisecond,
		ComputeUnitsPerSecond: 0,
		PollingInterval:       time.Second,
	}
}

var _ Provider = (*ClientPool)(nil)

/*
ClientPool is the concrete Provider: a round-robin pool of JSON-RPC clients with per-request timeouts, exponential
backoff retries, and optional compute-unit throttling. Concurrent requests for the same data are not de-duplicated;
for a pinned historical block both responses are identical, so the duplicate fetch is an accepted race.
*/
type ClientPool struct {
	clients          []*ethrpc.Client
	currentClientIdx int
	clientLock       sync.Mutex

	config  ClientConfig
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewClientPool dials the configured endpoint and returns a ClientPool over it. A malformed or unsupported endpoint
// URL yields an error without any network access.
func NewClientPool(config ClientConfig, logger *logging.Logger) (*ClientPool, error) {
	if logger == nil {
		logger = logging.GlobalLogger.NewSubLogger("module", "rpc")
	}
	if _, err := url.Parse(config.URL); err != nil {
		return nil, errors.Wrapf(err, "invalid endpoint URL '%s'", config.URL)
	}
	if config.PoolSize == 0 {
		config.PoolSize = 1
	}

	pool := &ClientPool{
		clients: make([]*ethrpc.Client, config.PoolSize),
		config:  config,
		logger:  logger,
	}
	if config.ComputeUnitsPerSecond > 0 {
		pool.limiter = rate.NewLimiter(rate.Limit(config.ComputeUnitsPerSecond), int(config.ComputeUnitsPerSecond))
	}

	for i := uint(0); i < config.PoolSize; i++ {
		client, err := ethrpc.Dial(config.URL)
		if err != nil {
			pool.Close()
			return nil, errors.Wrapf(err, "invalid endpoint URL '%s'", config.URL)
		}
		pool.clients[i] = client
	}
	return pool, nil
}

// Config returns the settings this pool was constructed with.
func (c *ClientPool) Config() ClientConfig {
	return c.config
}

// URL returns the endpoint this pool is connected to.
func (c *ClientPool) URL() string {
	return c.config.URL
}

// PollingInterval returns the interval consumers should poll this provider at.
func (c *ClientPool) PollingInterval() time.Duration {
	return c.config.PollingInterval
}

// Close releases all underlying connections.
func (c *ClientPool) Close() {
	c.clientLock.Lock()
	defer c.clientLock.Unlock()
	for _, client := range c.clients {
		if client != nil {
			client.Close()
		}
	}
}

// getClient obtains the next client from the pool in round-robin order.
func (c *ClientPool) getClient() *ethrpc.Client {
	c.clientLock.Lock()
	defer c.clientLock.Unlock()

	client := c.clients[c.currentClientIdx]
	c.currentClientIdx = (c.currentClientIdx + 1) % len(c.clients)
	return client
}

// RawCall issues a request, retrying with exponential backoff up to the configured retry budget. Each attempt is
// bounded by the configured timeout. The last transport error is returned unchanged once the budget is exhausted.
func (c *ClientPool) RawCall(ctx context.Context, result any, method string, args ...any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	client := c.getClient()

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
		return client.CallContext(callCtx, result, method, args...)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.Backoff
	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, c.config.Retries), ctx))
	if err != nil {
		c.logger.Trace("request ", method, " failed", err)
	}
	return err
}

// ChainID resolves the chain id of the remote endpoint.
func (c *ClientPool) ChainID(ctx context.Context) (uint64, error) {
	var result hexutil.Big
	if err := c.RawCall(ctx, &result, "eth_chainId"); err != nil {
		return 0, err
	}
	return result.ToInt().Uint64(), nil
}

// BlockByHash fetches a block by hash. Returns nil if no such block exists.
func (c *ClientPool) BlockByHash(ctx context.Context, hash common.Hash, fullTxs bool) (*Block, error) {
	var block *Block
	if err := c.RawCall(ctx, &block, "eth_getBlockByHash", hash, fullTxs); err != nil {
		return nil, err
	}
	return block, nil
}

// BlockByNumber fetches a block by number or tag. Returns nil if no such block exists.
func (c *ClientPool) BlockByNumber(ctx context.Context, number ethrpc.BlockNumber, fullTxs bool) (*Block, error) {
	var block *Block
	if err := c.RawCall(ctx, &block, "eth_getBlockByNumber", number, fullTxs); err != nil {
		return nil, err
	}
	return block, nil
}

// TransactionByHash fetches a transaction body by hash. Returns nil if no such transaction exists.
func (c *ClientPool) TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var tx *Transaction
	if err := c.RawCall(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	return tx, nil
}

// TransactionReceipt fetches a transaction receipt by hash. Returns nil if no such receipt exists.
func (c *ClientPool) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	if err := c.RawCall(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	return receipt, nil
}

// BlockReceipts fetches all receipts of the block at the given number.
func (c *ClientPool) BlockReceipts(ctx context.Context, number uint64) ([]*types.Receipt, error) {
	var receipts []*types.Receipt
	if err := c.RawCall(ctx, &receipts, "eth_getBlockReceipts", hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	return receipts, nil
}

// CodeAt fetches the code of the given address at the given block number.
func (c *ClientPool) CodeAt(ctx context.Context, addr common.Address, number uint64) (hexutil.Bytes, error) {
	var code hexutil.Bytes
	if err := c.RawCall(ctx, &code, "eth_getCode", addr, hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	return code, nil
}

// BalanceAt fetches the balance of the given address at the given block number.
func (c *ClientPool) BalanceAt(ctx context.Context, addr common.Address, number uint64) (*hexutil.Big, error) {
	var balance hexutil.Big
	if err := c.RawCall(ctx, &balance, "eth_getBalance", addr, hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	return &balance, nil
}

// NonceAt fetches the nonce of the given address at the given block number.
func (c *ClientPool) NonceAt(ctx context.Context, addr common.Address, number uint64) (uint64, error) {
	var nonce hexutil.Uint64
	if err := c.RawCall(ctx, &nonce, "eth_getTransactionCount", addr, hexutil.Uint64(number)); err != nil {
		return 0, err
	}
	return uint64(nonce), nil
}

// StorageAt fetches the value of the given storage slot at the given block number.
func (c *ClientPool) StorageAt(ctx context.Context, addr common.Address, slot common.Hash, number uint64) (common.Hash, error) {
	var value hexutil.Bytes
	if err := c.RawCall(ctx, &value, "eth_getStorageAt", addr, slot, hexutil.Uint64(number)); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(value), nil
}

// FilterLogs fetches all logs matching the given filter.
func (c *ClientPool) FilterLogs(ctx context.Context, filter LogFilter) ([]types.Log, error) {
	var logs []types.Log
	if err := c.RawCall(ctx, &logs, "eth_getLogs", filter); err != nil {
		return nil, err
	}
	return logs, nil
}

// FeeHistory fetches base fee and reward history ending at the given block.
func (c *ClientPool) FeeHistory(ctx context.Context, blockCount uint64, newestBlock ethrpc.BlockNumber, rewardPercentiles []float64) (*FeeHistory, error) {
	var history FeeHistory
	if err := c.RawCall(ctx, &history, "eth_feeHistory", hexutil.Uint64(blockCount), newestBlock, rewardPercentiles); err != nil {
		return nil, err
	}
	return &history, nil
}

// GetProof fetches a Merkle proof of the given account and storage keys at the given block number.
func (c *ClientPool) GetProof(ctx context.Context, addr common.Address, keys []common.Hash, number uint64) (*AccountProof, error) {
	if keys == nil {
		keys = []common.Hash{}
	}
	var proof AccountProof
	if err := c.RawCall(ctx, &proof, "eth_getProof", addr, keys, hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	return &proof, nil
}

// TraceTransaction fetches a legacy-dialect trace of the given transaction.
func (c *ClientPool) TraceTransaction(ctx context.Context, hash common.Hash) ([]TraceEntry, error) {
	var trace []TraceEntry
	if err := c.RawCall(ctx, &trace, "trace_transaction", hash); err != nil {
		return nil, err
	}
	return trace, nil
}

// DebugTraceTransaction fetches a debug-dialect trace of the given transaction with the given options.
func (c *ClientPool) DebugTraceTransaction(ctx context.Context, hash common.Hash, opts TraceOptions) (json.RawMessage, error) {
	var trace json.RawMessage
	if err := c.RawCall(ctx, &trace, "debug_traceTransaction", hash, opts); err != nil {
		return nil, err
	}
	return trace, nil
}

// TraceBlock fetches legacy-dialect traces of every transaction in the block at the given number.
func (c *ClientPool) TraceBlock(ctx context.Context, number uint64) ([]TraceEntry, error) {
	var traces []TraceEntry
	if err := c.RawCall(ctx, &traces, "trace_block", hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	return traces, nil
}

// UncleByBlockHashAndIndex fetches a single uncle block. Returns nil if the index is out of range or the block does
// not exist.
func (c *ClientPool) UncleByBlockHashAndIndex(ctx context.Context, hash common.Hash, index uint64) (*Block, error) {
	var uncle *Block
	if err := c.RawCall(ctx, &uncle, "eth_getUncleByBlockHashAndIndex", hash, hexutil.Uint64(index)); err != nil {
		return nil, err
	}
	return uncle, nil
}

// Call executes a read-only call against the given block.
func (c *ClientPool) Call(ctx context.Context, request CallRequest, block ethrpc.BlockNumber) (hexutil.Bytes, error) {
	var result hexutil.Bytes
	if err := c.RawCall(ctx, &result, "eth_call", request, block); err != nil {
		return nil, err
	}
	return result, nil
}

// EstimateGas estimates the gas used by the given request against the given block.
func (c *ClientPool) EstimateGas(ctx context.Context, request CallRequest, block ethrpc.BlockNumber) (uint64, error) {
	var gas hexutil.Uint64
	if err := c.RawCall(ctx, &gas, "eth_estimateGas", request, block); err != nil {
		return 0, err
	}
	return uint64(gas), nil
}

// CreateAccessList builds an access list for the given request against the given block.
func (c *ClientPool) CreateAccessList(ctx context.Context, request CallRequest, block ethrpc.BlockNumber) (*AccessListResult, error) {
	var result AccessListResult
	if err := c.RawCall(ctx, &result, "eth_createAccessList", request, block); err != nil {
		return nil, err
	}
	return &result, nil
}
