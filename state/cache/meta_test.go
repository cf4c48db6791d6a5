package cache

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
)

// TestMetaSchemaDefaults ensures boolean config fields missing from older cache files are patched in with their
// documented defaults rather than rejected.
func TestMetaSchemaDefaults(t *testing.T) {
	doc := []byte(`{
		"cfg_env": {"chain_id": 1, "memory_limit": 134217728},
		"block_env": {"number": "0x40", "timestamp": "0x1", "gas_limit": "0x1c9c380"},
		"hosts": ["mainnet.example.com"]
	}`)

	var meta Meta
	err := json.Unmarshal(doc, &meta)
	assert.NoError(t, err)

	// disable_eip3607 defaults true when absent; the other two default false.
	assert.True(t, meta.CfgEnv.DisableEIP3607)
	assert.False(t, meta.CfgEnv.DisableBlockGasLimit)
	assert.False(t, meta.CfgEnv.DisableBaseFee)
	assert.EqualValues(t, 1, meta.CfgEnv.ChainID)
	assert.EqualValues(t, 0x40, meta.BlockEnv.Number)
}

// TestMetaExplicitFieldsNotOverridden ensures present fields survive the default patching.
func TestMetaExplicitFieldsNotOverridden(t *testing.T) {
	doc := []byte(`{
		"cfg_env": {"chain_id": 5, "disable_eip3607": false, "disable_block_gas_limit": true},
		"block_env": {"number": "0x1"},
		"hosts": []
	}`)

	var meta Meta
	err := json.Unmarshal(doc, &meta)
	assert.NoError(t, err)
	assert.False(t, meta.CfgEnv.DisableEIP3607)
	assert.True(t, meta.CfgEnv.DisableBlockGasLimit)
}

// TestMetaLegacySingularHost ensures a document using the singular legacy host key deserializes into a one-element
// host set.
func TestMetaLegacySingularHost(t *testing.T) {
	doc := []byte(`{
		"cfg_env": {"chain_id": 1},
		"block_env": {"number": "0x40"},
		"host": "mainnet.example.com"
	}`)

	var meta Meta
	err := json.Unmarshal(doc, &meta)
	assert.NoError(t, err)
	assert.Len(t, meta.Hosts, 1)
	assert.True(t, meta.Hosts.Contains("mainnet.example.com"))
}

// TestHostSetLegacyString ensures the hosts field itself also accepts a single legacy string.
func TestHostSetLegacyString(t *testing.T) {
	var hosts HostSet
	err := json.Unmarshal([]byte(`"rpc.example.com"`), &hosts)
	assert.NoError(t, err)
	assert.Len(t, hosts, 1)
	assert.True(t, hosts.Contains("rpc.example.com"))

	err = json.Unmarshal([]byte(`["a.example.com", "b.example.com"]`), &hosts)
	assert.NoError(t, err)
	assert.Len(t, hosts, 2)
}

// TestMetaEqualityIgnoresHosts ensures switching transport to an equivalent endpoint does not invalidate a cache,
// while a differing config or block environment does.
func TestMetaEqualityIgnoresHosts(t *testing.T) {
	base := Meta{
		CfgEnv:   CfgEnv{ChainID: 1, DisableEIP3607: true},
		BlockEnv: BlockEnv{Number: 64, Timestamp: 1234, GasLimit: 30_000_000},
		Hosts:    NewHostSet("a.example.com"),
	}

	sameDataOtherHost := base
	sameDataOtherHost.Hosts = NewHostSet("b.example.com")
	assert.True(t, base.Equal(sameDataOtherHost))

	otherChain := base
	otherChain.CfgEnv.ChainID = 5
	assert.False(t, base.Equal(otherChain))

	otherBlock := base
	otherBlock.BlockEnv.Number = 65
	assert.False(t, base.Equal(otherBlock))
}

// TestMetaRoundTrip ensures a marshaled meta deserializes back to an equal value with its hosts intact.
func TestMetaRoundTrip(t *testing.T) {
	limit := uint64(24576)
	baseFee := hexutil.Big(*hexutil.MustDecodeBig("0x3b9aca00"))
	meta := Meta{
		CfgEnv: CfgEnv{
			ChainID:               1,
			LimitContractCodeSize: &limit,
			MemoryLimit:           1 << 27,
			DisableEIP3607:        true,
		},
		BlockEnv: BlockEnv{Number: 64, Timestamp: 1234, GasLimit: 30_000_000, BaseFee: &baseFee},
		Hosts:    NewHostSet("a.example.com", "b.example.com"),
	}

	data, err := json.Marshal(meta)
	assert.NoError(t, err)

	var decoded Meta
	err = json.Unmarshal(data, &decoded)
	assert.NoError(t, err)
	assert.True(t, meta.Equal(decoded))
	assert.Len(t, decoded.Hosts, 2)
}
