package fork

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/crytic/forkcache/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethrpc "github.com/ethereum/go-ethereum/rpc"
)

var _ rpc.Provider = (*mockProvider)(nil)

// mockProvider serves canned data while counting every network call, so tests can prove cache hits perform zero
// network access.
type mockProvider struct {
	mu    sync.Mutex
	calls map[string]int

	chainID         uint64
	latestNumber    uint64
	blocks          map[common.Hash]*rpc.Block
	blocksByNumber  map[uint64]*rpc.Block
	transactions    map[common.Hash]*rpc.Transaction
	receipts        map[common.Hash]*types.Receipt
	uncles          map[common.Hash][]*rpc.Block
	logs            []types.Log
	err             error
	pollingInterval time.Duration
}

func newMockProvider(chainID uint64) *mockProvider {
	return &mockProvider{
		calls:           make(map[string]int),
		chainID:         chainID,
		blocks:          make(map[common.Hash]*rpc.Block),
		blocksByNumber:  make(map[uint64]*rpc.Block),
		transactions:    make(map[common.Hash]*rpc.Transaction),
		receipts:        make(map[common.Hash]*types.Receipt),
		uncles:          make(map[common.Hash][]*rpc.Block),
		pollingInterval: time.Second,
	}
}

// addBlock registers a block plus its transaction bodies and uncle blocks with the mock.
func (m *mockProvider) addBlock(number uint64, hash common.Hash, txs []*rpc.Transaction, uncles []*rpc.Block) *rpc.Block {
	hashes := make([]common.Hash, len(txs))
	uncleHashes := make([]common.Hash, len(uncles))
	for i, tx := range txs {
		hashes[i] = tx.Hash
		m.transactions[tx.Hash] = tx
	}
	for i, uncle := range uncles {
		uncleHashes[i] = uncle.Hash
	}

	block := &rpc.Block{
		Number:       (*hexutil.Big)(hexutil.MustDecodeBig(hexutil.EncodeUint64(number))),
		Hash:         hash,
		Timestamp:    hexutil.Uint64(1_700_000_000 + number),
		GasLimit:     30_000_000,
		Difficulty:   (*hexutil.Big)(hexutil.MustDecodeBig("0x1")),
		Transactions: rpc.BlockTransactions{Hashes: hashes},
		Uncles:       uncleHashes,
	}
	m.blocks[hash] = block
	m.blocksByNumber[number] = block
	m.uncles[hash] = uncles
	if number > m.latestNumber {
		m.latestNumber = number
	}
	return block
}

func (m *mockProvider) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
}

// totalCalls sums every network call the mock has served.
func (m *mockProvider) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, count := range m.calls {
		total += count
	}
	return total
}

// fullCopy returns a copy of a block with transaction bodies inlined.
func (m *mockProvider) fullCopy(block *rpc.Block) *rpc.Block {
	full := make([]*rpc.Transaction, 0, len(block.Transactions.Hashes))
	for _, hash := range block.Transactions.Hashes {
		full = append(full, m.transactions[hash])
	}
	copied := *block
	copied.Transactions = rpc.BlockTransactions{Full: full}
	return &copied
}

func (m *mockProvider) ChainID(_ context.Context) (uint64, error) {
	m.record("eth_chainId")
	return m.chainID, m.err
}

func (m *mockProvider) BlockByHash(_ context.Context, hash common.Hash, fullTxs bool) (*rpc.Block, error) {
	m.record("eth_getBlockByHash")
	if m.err != nil {
		return nil, m.err
	}
	block, ok := m.blocks[hash]
	if !ok {
		return nil, nil
	}
	if fullTxs {
		return m.fullCopy(block), nil
	}
	return block, nil
}

func (m *mockProvider) BlockByNumber(_ context.Context, number ethrpc.BlockNumber, fullTxs bool) (*rpc.Block, error) {
	m.record("eth_getBlockByNumber")
	if m.err != nil {
		return nil, m.err
	}
	resolved := uint64(number)
	if number < 0 {
		resolved = m.latestNumber
	}
	block, ok := m.blocksByNumber[resolved]
	if !ok {
		return nil, nil
	}
	if fullTxs {
		return m.fullCopy(block), nil
	}
	return block, nil
}

func (m *mockProvider) TransactionByHash(_ context.Context, hash common.Hash) (*rpc.Transaction, error) {
	m.record("eth_getTransactionByHash")
	if m.err != nil {
		return nil, m.err
	}
	return m.transactions[hash], nil
}

func (m *mockProvider) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	m.record("eth_getTransactionReceipt")
	if m.err != nil {
		return nil, m.err
	}
	return m.receipts[hash], nil
}

func (m *mockProvider) BlockReceipts(_ context.Context, number uint64) ([]*types.Receipt, error) {
	m.record("eth_getBlockReceipts")
	if m.err != nil {
		return nil, m.err
	}
	block, ok := m.blocksByNumber[number]
	if !ok {
		return nil, nil
	}
	receipts := make([]*types.Receipt, 0)
	for _, hash := range block.Transactions.Hashes {
		if receipt, ok := m.receipts[hash]; ok {
			receipts = append(receipts, receipt)
		}
	}
	return receipts, nil
}

func (m *mockProvider) CodeAt(_ context.Context, addr common.Address, _ uint64) (hexutil.Bytes, error) {
	m.record("eth_getCode")
	if m.err != nil {
		return nil, m.err
	}
	return hexutil.Bytes{addr[0]}, nil
}

func (m *mockProvider) BalanceAt(_ context.Context, _ common.Address, _ uint64) (*hexutil.Big, error) {
	m.record("eth_getBalance")
	if m.err != nil {
		return nil, m.err
	}
	return (*hexutil.Big)(hexutil.MustDecodeBig("0x64")), nil
}

func (m *mockProvider) NonceAt(_ context.Context, _ common.Address, _ uint64) (uint64, error) {
	m.record("eth_getTransactionCount")
	return 7, m.err
}

func (m *mockProvider) StorageAt(_ context.Context, _ common.Address, slot common.Hash, _ uint64) (common.Hash, error) {
	m.record("eth_getStorageAt")
	return slot, m.err
}

func (m *mockProvider) FilterLogs(_ context.Context, _ rpc.LogFilter) ([]types.Log, error) {
	m.record("eth_getLogs")
	if m.err != nil {
		return nil, m.err
	}
	return m.logs, nil
}

func (m *mockProvider) FeeHistory(_ context.Context, _ uint64, _ ethrpc.BlockNumber, _ []float64) (*rpc.FeeHistory, error) {
	m.record("eth_feeHistory")
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.FeeHistory{GasUsedRatio: []float64{0.5}}, nil
}

func (m *mockProvider) GetProof(_ context.Context, addr common.Address, _ []common.Hash, _ uint64) (*rpc.AccountProof, error) {
	m.record("eth_getProof")
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.AccountProof{Address: addr}, nil
}

func (m *mockProvider) TraceTransaction(_ context.Context, hash common.Hash) ([]rpc.TraceEntry, error) {
	m.record("trace_transaction")
	if m.err != nil {
		return nil, m.err
	}
	return []rpc.TraceEntry{{TransactionHash: hash, Type: "call"}}, nil
}

func (m *mockProvider) DebugTraceTransaction(_ context.Context, _ common.Hash, _ rpc.TraceOptions) (json.RawMessage, error) {
	m.record("debug_traceTransaction")
	if m.err != nil {
		return nil, m.err
	}
	return json.RawMessage(`{"gas": 21000}`), nil
}

func (m *mockProvider) TraceBlock(_ context.Context, number uint64) ([]rpc.TraceEntry, error) {
	m.record("trace_block")
	if m.err != nil {
		return nil, m.err
	}
	return []rpc.TraceEntry{{BlockNumber: hexutil.Uint64(number)}}, nil
}

func (m *mockProvider) UncleByBlockHashAndIndex(_ context.Context, hash common.Hash, index uint64) (*rpc.Block, error) {
	m.record("eth_getUncleByBlockHashAndIndex")
	if m.err != nil {
		return nil, m.err
	}
	uncles := m.uncles[hash]
	if index >= uint64(len(uncles)) {
		return nil, nil
	}
	return uncles[index], nil
}

func (m *mockProvider) Call(_ context.Context, _ rpc.CallRequest, _ ethrpc.BlockNumber) (hexutil.Bytes, error) {
	m.record("eth_call")
	if m.err != nil {
		return nil, m.err
	}
	return hexutil.Bytes{0x01}, nil
}

func (m *mockProvider) EstimateGas(_ context.Context, _ rpc.CallRequest, _ ethrpc.BlockNumber) (uint64, error) {
	m.record("eth_estimateGas")
	return 21_000, m.err
}

func (m *mockProvider) CreateAccessList(_ context.Context, _ rpc.CallRequest, _ ethrpc.BlockNumber) (*rpc.AccessListResult, error) {
	m.record("eth_createAccessList")
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.AccessListResult{GasUsed: 21_000}, nil
}

func (m *mockProvider) RawCall(_ context.Context, _ any, method string, _ ...any) error {
	m.record(method)
	return m.err
}

func (m *mockProvider) URL() string {
	return "http://mock.example.com"
}

func (m *mockProvider) PollingInterval() time.Duration {
	return m.pollingInterval
}

func (m *mockProvider) Close() {}
