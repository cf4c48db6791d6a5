package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethrpc "github.com/ethereum/go-ethereum/rpc"
)

/*
Provider defines the remote chain endpoint the fork layer reads through. All operations may fail with a transport
error once the provider's own retry budget is exhausted; lookups for data that does not exist at the pinned history
return nil results with a nil error so callers can distinguish a domain miss from a transport fault.
*/
type Provider interface {
	// ChainID resolves the chain id of the remote endpoint.
	ChainID(ctx context.Context) (uint64, error)

	// BlockByHash fetches a block by hash, with transactions as full bodies when fullTxs is set. Returns nil if no
	// such block exists.
	BlockByHash(ctx context.Context, hash common.Hash, fullTxs bool) (*Block, error)

	// BlockByNumber fetches a block by number or tag, with transactions as full bodies when fullTxs is set. Returns
	// nil if no such block exists.
	BlockByNumber(ctx context.Context, number ethrpc.BlockNumber, fullTxs bool) (*Block, error)

	// TransactionByHash fetches a transaction body by hash. Returns nil if no such transaction exists.
	TransactionByHash(ctx context.Context, hash common.Hash) (*Transaction, error)

	// TransactionReceipt fetches a transaction receipt by hash. Returns nil if no such receipt exists.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// BlockReceipts fetches all receipts of the block at the given number.
	BlockReceipts(ctx context.Context, number uint64) ([]*types.Receipt, error)

	// CodeAt fetches the code of the given address at the given block number.
	CodeAt(ctx context.Context, addr common.Address, number uint64) (hexutil.Bytes, error)

	// BalanceAt fetches the balance of the given address at the given block number.
	BalanceAt(ctx context.Context, addr common.Address, number uint64) (*hexutil.Big, error)

	// NonceAt fetches the nonce of the given address at the given block number.
	NonceAt(ctx context.Context, addr common.Address, number uint64) (uint64, error)

	// StorageAt fetches the value of the given storage slot at the given block number.
	StorageAt(ctx context.Context, addr common.Address, slot common.Hash, number uint64) (common.Hash, error)

	// FilterLogs fetches all logs matching the given filter.
	FilterLogs(ctx context.Context, filter LogFilter) ([]types.Log, error)

	// FeeHistory fetches base fee and reward history ending at the given block.
	FeeHistory(ctx context.Context, blockCount uint64, newestBlock ethrpc.BlockNumber, rewardPercentiles []float64) (*FeeHistory, error)

	// GetProof fetches a Merkle proof of the given account and storage keys at the given block number.
	GetProof(ctx context.Context, addr common.Address, keys []common.Hash, number uint64) (*AccountProof, error)

	// TraceTransaction fetches a legacy-dialect trace of the given transaction.
	TraceTransaction(ctx context.Context, hash common.Hash) ([]TraceEntry, error)

	// DebugTraceTransaction fetches a debug-dialect trace of the given transaction with the given options. The
	// result shape depends on the options, so it is returned raw.
	DebugTraceTransaction(ctx context.Context, hash common.Hash, opts TraceOptions) (json.RawMessage, error)

	// TraceBlock fetches legacy-dialect traces of every transaction in the block at the given number.
	TraceBlock(ctx context.Context, number uint64) ([]TraceEntry, error)

	// UncleByBlockHashAndIndex fetches a single uncle block. Returns nil if the index is out of range or the block
	// does not exist.
	UncleByBlockHashAndIndex(ctx context.Context, hash common.Hash, index uint64) (*Block, error)

	// Call executes a read-only call against the given block.
	Call(ctx context.Context, request CallRequest, block ethrpc.BlockNumber) (hexutil.Bytes, error)

	// EstimateGas estimates the gas used by the given request against the given block.
	EstimateGas(ctx context.Context, request CallRequest, block ethrpc.BlockNumber) (uint64, error)

	// CreateAccessList builds an access list for the given request against the given block.
	CreateAccessList(ctx context.Context, request CallRequest, block ethrpc.BlockNumber) (*AccessListResult, error)

	// RawCall issues a request for a method lacking a typed binding.
	RawCall(ctx context.Context, result any, method string, args ...any) error

	// URL returns the endpoint this provider is connected to.
	URL() string

	// PollingInterval returns the interval consumers should poll this provider at.
	PollingInterval() time.Duration

	// Close releases the provider's connections.
	Close()
}
