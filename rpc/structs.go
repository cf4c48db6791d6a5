package rpc

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Block describes an RPC-shaped block. Transactions may be present as bare hashes or as full bodies depending on how
// the block was requested.
type Block struct {
	Number           *hexutil.Big      `json:"number"`
	Hash             common.Hash       `json:"hash"`
	ParentHash       common.Hash       `json:"parentHash"`
	Nonce            types.BlockNonce  `json:"nonce"`
	Sha3Uncles       common.Hash       `json:"sha3Uncles"`
	LogsBloom        hexutil.Bytes     `json:"logsBloom"`
	TransactionsRoot common.Hash       `json:"transactionsRoot"`
	StateRoot        common.Hash       `json:"stateRoot"`
	ReceiptsRoot     common.Hash       `json:"receiptsRoot"`
	Miner            common.Address    `json:"miner"`
	Difficulty       *hexutil.Big      `json:"difficulty"`
	TotalDifficulty  *hexutil.Big      `json:"totalDifficulty,omitempty"`
	ExtraData        hexutil.Bytes     `json:"extraData"`
	Size             hexutil.Uint64    `json:"size"`
	GasLimit         hexutil.Uint64    `json:"gasLimit"`
	GasUsed          hexutil.Uint64    `json:"gasUsed"`
	Timestamp        hexutil.Uint64    `json:"timestamp"`
	BaseFeePerGas    *hexutil.Big      `json:"baseFeePerGas,omitempty"`
	MixHash          common.Hash       `json:"mixHash"`
	Transactions     BlockTransactions `json:"transactions"`
	Uncles           []common.Hash     `json:"uncles"`
}

// NumberU64 returns the block number as a uint64. A block with no number reports zero.
func (b *Block) NumberU64() uint64 {
	if b.Number == nil {
		return 0
	}
	return b.Number.ToInt().Uint64()
}

// BlockTransactions holds a block's transactions either as bare hashes or as full bodies. At most one of the two
// forms is populated.
type BlockTransactions struct {
	Hashes []common.Hash
	Full   []*Transaction
}

// IsFull returns true if the transactions are present as full bodies.
func (t BlockTransactions) IsFull() bool {
	return t.Full != nil
}

// Len returns the number of transactions in the block.
func (t BlockTransactions) Len() int {
	if t.IsFull() {
		return len(t.Full)
	}
	return len(t.Hashes)
}

// TxHashes returns the transaction hashes regardless of which form is populated.
func (t BlockTransactions) TxHashes() []common.Hash {
	if !t.IsFull() {
		return t.Hashes
	}
	hashes := make([]common.Hash, len(t.Full))
	for i, tx := range t.Full {
		hashes[i] = tx.Hash
	}
	return hashes
}

// MarshalJSON serializes whichever form is populated, preferring full bodies.
func (t BlockTransactions) MarshalJSON() ([]byte, error) {
	if t.IsFull() {
		return json.Marshal(t.Full)
	}
	if t.Hashes == nil {
		return json.Marshal([]common.Hash{})
	}
	return json.Marshal(t.Hashes)
}

// UnmarshalJSON deserializes either an array of transaction hashes or an array of full transaction objects.
func (t *BlockTransactions) UnmarshalJSON(data []byte) error {
	var hashes []common.Hash
	if err := json.Unmarshal(data, &hashes); err == nil {
		t.Hashes = hashes
		t.Full = nil
		return nil
	}

	var full []*Transaction
	if err := json.Unmarshal(data, &full); err != nil {
		return errors.Wrap(err, "could not parse block transactions")
	}
	t.Full = full
	t.Hashes = nil
	return nil
}

// Transaction describes an RPC-shaped transaction, including the block inclusion fields the execution layer's typed
// transaction objects omit.
type Transaction struct {
	Hash                 common.Hash       `json:"hash"`
	Nonce                hexutil.Uint64    `json:"nonce"`
	BlockHash            *common.Hash      `json:"blockHash"`
	BlockNumber          *hexutil.Big      `json:"blockNumber"`
	TransactionIndex     *hexutil.Uint64   `json:"transactionIndex"`
	From                 common.Address    `json:"from"`
	To                   *common.Address   `json:"to"`
	Value                *hexutil.Big      `json:"value"`
	Gas                  hexutil.Uint64    `json:"gas"`
	GasPrice             *hexutil.Big      `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big      `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big      `json:"maxPriorityFeePerGas,omitempty"`
	Input                hexutil.Bytes     `json:"input"`
	Type                 *hexutil.Uint64   `json:"type,omitempty"`
	ChainID              *hexutil.Big      `json:"chainId,omitempty"`
	AccessList           *types.AccessList `json:"accessList,omitempty"`
	V                    *hexutil.Big      `json:"v,omitempty"`
	R                    *hexutil.Big      `json:"r,omitempty"`
	S                    *hexutil.Big      `json:"s,omitempty"`
}

// CallRequest describes the shared request body of eth_call, eth_estimateGas and eth_createAccessList.
type CallRequest struct {
	From                 *common.Address   `json:"from,omitempty"`
	To                   *common.Address   `json:"to,omitempty"`
	Gas                  *hexutil.Uint64   `json:"gas,omitempty"`
	GasPrice             *hexutil.Big      `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big      `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big      `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big      `json:"value,omitempty"`
	Data                 hexutil.Bytes     `json:"data,omitempty"`
	AccessList           *types.AccessList `json:"accessList,omitempty"`
}

// AccessListResult describes the response of eth_createAccessList.
type AccessListResult struct {
	AccessList *types.AccessList `json:"accessList"`
	Error      string            `json:"error,omitempty"`
	GasUsed    hexutil.Uint64    `json:"gasUsed"`
}

// LogFilter describes an eth_getLogs filter object.
type LogFilter struct {
	BlockHash *common.Hash     `json:"blockHash,omitempty"`
	FromBlock *hexutil.Big     `json:"fromBlock,omitempty"`
	ToBlock   *hexutil.Big     `json:"toBlock,omitempty"`
	Addresses []common.Address `json:"address,omitempty"`
	Topics    [][]common.Hash  `json:"topics,omitempty"`
}

// FeeHistory describes the response of eth_feeHistory.
type FeeHistory struct {
	OldestBlock   *hexutil.Big   `json:"oldestBlock"`
	BaseFeePerGas []*hexutil.Big `json:"baseFeePerGas,omitempty"`
	GasUsedRatio  []float64      `json:"gasUsedRatio"`
	Reward        [][]*hexutil.Big `json:"reward,omitempty"`
}

// AccountProof describes the response of eth_getProof.
type AccountProof struct {
	Address      common.Address  `json:"address"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	Balance      *hexutil.Big    `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	Nonce        hexutil.Uint64  `json:"nonce"`
	StorageHash  common.Hash     `json:"storageHash"`
	StorageProof []StorageProof  `json:"storageProof"`
}

// StorageProof describes a single storage slot proof within an AccountProof.
type StorageProof struct {
	Key   common.Hash     `json:"key"`
	Value *hexutil.Big    `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

// TraceEntry describes one frame of a legacy (parity dialect) transaction trace.
type TraceEntry struct {
	Action              TraceAction    `json:"action"`
	BlockHash           common.Hash    `json:"blockHash"`
	BlockNumber         hexutil.Uint64 `json:"blockNumber"`
	Result              *TraceOutput   `json:"result,omitempty"`
	Error               string         `json:"error,omitempty"`
	Subtraces           uint64         `json:"subtraces"`
	TraceAddress        []uint64       `json:"traceAddress"`
	TransactionHash     common.Hash    `json:"transactionHash"`
	TransactionPosition hexutil.Uint64 `json:"transactionPosition"`
	Type                string         `json:"type"`
}

// TraceAction describes the call/create action of a trace frame.
type TraceAction struct {
	CallType string         `json:"callType,omitempty"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to,omitempty"`
	Gas      hexutil.Uint64 `json:"gas"`
	Input    hexutil.Bytes  `json:"input,omitempty"`
	Init     hexutil.Bytes  `json:"init,omitempty"`
	Value    *hexutil.Big   `json:"value,omitempty"`
}

// TraceOutput describes the result of a successful trace frame.
type TraceOutput struct {
	GasUsed hexutil.Uint64 `json:"gasUsed"`
	Output  hexutil.Bytes  `json:"output,omitempty"`
	Address *common.Address `json:"address,omitempty"`
	Code    hexutil.Bytes  `json:"code,omitempty"`
}

// TraceOptions describes the options of a debug-dialect trace request.
type TraceOptions struct {
	DisableStorage   bool            `json:"disableStorage,omitempty"`
	DisableStack     bool            `json:"disableStack,omitempty"`
	EnableMemory     bool            `json:"enableMemory,omitempty"`
	EnableReturnData bool            `json:"enableReturnData,omitempty"`
	Tracer           string          `json:"tracer,omitempty"`
	TracerConfig     json.RawMessage `json:"tracerConfig,omitempty"`
}
