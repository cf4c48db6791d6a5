package cache

import (
	"encoding/json"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// CfgEnv describes the execution environment configuration a cached state was produced under. Two caches with
// differing CfgEnv values are not interchangeable.
type CfgEnv struct {
	// ChainID describes the chain id execution was configured with.
	ChainID uint64 `json:"chain_id"`

	// LimitContractCodeSize describes the configured contract code size limit, if any.
	LimitContractCodeSize *uint64 `json:"limit_contract_code_size,omitempty"`

	// MemoryLimit describes the configured EVM memory limit.
	MemoryLimit uint64 `json:"memory_limit"`

	// DisableBlockGasLimit indicates block gas limit validation was disabled.
	DisableBlockGasLimit bool `json:"disable_block_gas_limit"`

	// DisableEIP3607 indicates EIP-3607 sender checks were disabled.
	DisableEIP3607 bool `json:"disable_eip3607"`

	// DisableBaseFee indicates base fee validation was disabled.
	DisableBaseFee bool `json:"disable_base_fee"`
}

// BlockEnv describes the pinned block a cached state was produced against.
type BlockEnv struct {
	Number     hexutil.Uint64 `json:"number"`
	Coinbase   common.Address `json:"coinbase"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
	GasLimit   hexutil.Uint64 `json:"gas_limit"`
	BaseFee    *hexutil.Big   `json:"basefee,omitempty"`
	Difficulty *hexutil.Big   `json:"difficulty,omitempty"`
	Prevrandao common.Hash    `json:"prevrandao"`
}

// HostSet describes the set of endpoint hosts that have been used to populate a cache. It deserializes from either a
// JSON array of strings or a single legacy string.
type HostSet map[string]struct{}

// NewHostSet returns a HostSet containing the provided hosts.
func NewHostSet(hosts ...string) HostSet {
	set := make(HostSet, len(hosts))
	for _, host := range hosts {
		set[host] = struct{}{}
	}
	return set
}

// Add inserts a host into the set.
func (h HostSet) Add(host string) {
	h[host] = struct{}{}
}

// Contains returns true if the provided host is in the set.
func (h HostSet) Contains(host string) bool {
	_, ok := h[host]
	return ok
}

// Union inserts every host from the other set into this set.
func (h HostSet) Union(other HostSet) {
	for host := range other {
		h[host] = struct{}{}
	}
}

// MarshalJSON serializes the set as a sorted JSON array of strings.
func (h HostSet) MarshalJSON() ([]byte, error) {
	hosts := make([]string, 0, len(h))
	for host := range h {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return json.Marshal(hosts)
}

// UnmarshalJSON deserializes the set from either an array of strings or a single string, the latter being the format
// written by older cache files.
func (h *HostSet) UnmarshalJSON(data []byte) error {
	var hosts []string
	if err := json.Unmarshal(data, &hosts); err != nil {
		var single string
		if err = json.Unmarshal(data, &single); err != nil {
			return errors.Wrap(err, "could not parse host set")
		}
		hosts = []string{single}
	}
	*h = NewHostSet(hosts...)
	return nil
}

// Meta is the identity fingerprint of a cached state: the execution environment configuration and pinned block it was
// produced under, plus the set of hosts ever used to reach the data. Hosts are excluded from equality so switching
// transport to an equivalent endpoint does not invalidate a cache.
type Meta struct {
	CfgEnv   CfgEnv   `json:"cfg_env"`
	BlockEnv BlockEnv `json:"block_env"`
	Hosts    HostSet  `json:"hosts"`
}

// Equal returns true if the two metas describe the same execution environment and pinned block. Hosts are ignored.
func (m Meta) Equal(other Meta) bool {
	return cfgEnvEqual(m.CfgEnv, other.CfgEnv) && blockEnvEqual(m.BlockEnv, other.BlockEnv)
}

// cfgEnvEqual compares two CfgEnv values field by field.
func cfgEnvEqual(a CfgEnv, b CfgEnv) bool {
	if a.ChainID != b.ChainID || a.MemoryLimit != b.MemoryLimit {
		return false
	}
	if a.DisableBlockGasLimit != b.DisableBlockGasLimit || a.DisableEIP3607 != b.DisableEIP3607 || a.DisableBaseFee != b.DisableBaseFee {
		return false
	}
	return optionalUint64Equal(a.LimitContractCodeSize, b.LimitContractCodeSize)
}

// blockEnvEqual compares two BlockEnv values field by field.
func blockEnvEqual(a BlockEnv, b BlockEnv) bool {
	if a.Number != b.Number || a.Coinbase != b.Coinbase || a.Timestamp != b.Timestamp || a.GasLimit != b.GasLimit {
		return false
	}
	if a.Prevrandao != b.Prevrandao {
		return false
	}
	return optionalBigEqual(a.BaseFee, b.BaseFee) && optionalBigEqual(a.Difficulty, b.Difficulty)
}

func optionalUint64Equal(a *uint64, b *uint64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func optionalBigEqual(a *hexutil.Big, b *hexutil.Big) bool {
	if a == nil || b == nil {
		return a == b
	}
	return (*big.Int)(a).Cmp((*big.Int)(b)) == 0
}

// metaDocument describes the raw on-disk shape of a Meta. The config environment is captured generically so that
// fields absent from older schema versions can be patched in with defaults before typed parsing. The singular "host"
// key is the legacy predecessor of "hosts".
type metaDocument struct {
	CfgEnv   map[string]json.RawMessage `json:"cfg_env"`
	BlockEnv json.RawMessage            `json:"block_env"`
	Host     *string                    `json:"host,omitempty"`
	Hosts    *HostSet                   `json:"hosts,omitempty"`
}

// UnmarshalJSON deserializes a Meta, tolerating older schema versions: boolean config fields missing from the
// document are defaulted (disable_eip3607 to true, disable_block_gas_limit and disable_base_fee to false), and the
// host set may appear under the legacy singular "host" key.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw metaDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "could not parse cache meta")
	}

	if raw.CfgEnv == nil {
		raw.CfgEnv = make(map[string]json.RawMessage)
	}
	patchMissingBool(raw.CfgEnv, "disable_eip3607", true)
	patchMissingBool(raw.CfgEnv, "disable_block_gas_limit", false)
	patchMissingBool(raw.CfgEnv, "disable_base_fee", false)

	patched, err := json.Marshal(raw.CfgEnv)
	if err != nil {
		return errors.Wrap(err, "could not re-serialize patched config environment")
	}
	if err = json.Unmarshal(patched, &m.CfgEnv); err != nil {
		return errors.Wrap(err, "could not parse config environment")
	}

	if len(raw.BlockEnv) > 0 {
		if err = json.Unmarshal(raw.BlockEnv, &m.BlockEnv); err != nil {
			return errors.Wrap(err, "could not parse block environment")
		}
	}

	switch {
	case raw.Hosts != nil:
		m.Hosts = *raw.Hosts
	case raw.Host != nil:
		m.Hosts = NewHostSet(*raw.Host)
	default:
		m.Hosts = NewHostSet()
	}
	return nil
}

// patchMissingBool inserts a default value for a boolean field absent from an older schema version.
func patchMissingBool(fields map[string]json.RawMessage, key string, value bool) {
	if _, ok := fields[key]; ok {
		return
	}
	if value {
		fields[key] = json.RawMessage("true")
	} else {
		fields[key] = json.RawMessage("false")
	}
}
