package fork

import (
	"github.com/crytic/forkcache/logging"
	"github.com/crytic/forkcache/rpc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Config describes the fork-wide identity: the pinned block, the chain id, and the provider used to reach the remote
// endpoint with its retry/timeout settings. The five block-identity fields (BlockNumber, BlockHash, Timestamp,
// BaseFee, TotalDifficulty) are only ever updated together, by a reset. Config is owned exclusively by a Fork, which
// guards it with its own lock.
type Config struct {
	// EthRPCURL describes the remote endpoint the fork reads through.
	EthRPCURL string

	// BlockNumber describes the pinned historical block number.
	BlockNumber uint64

	// BlockHash describes the pinned historical block hash.
	BlockHash common.Hash

	// ChainID describes the chain id of the remote endpoint.
	ChainID uint64

	// OverrideChainID, if set, takes precedence over the chain id reported by the endpoint.
	OverrideChainID *uint64

	// Timestamp describes the timestamp of the pinned block.
	Timestamp uint64

	// BaseFee describes the base fee of the pinned block, or nil for pre-London history.
	BaseFee *uint256.Int

	// TotalDifficulty describes the total difficulty at the pinned block.
	TotalDifficulty *uint256.Int

	// ClientConfig describes the timeout/retry/backoff settings the provider was built with. They are reused
	// verbatim when the fork is repointed at a new endpoint.
	ClientConfig rpc.ClientConfig

	// Provider describes the live connection to the remote endpoint.
	Provider rpc.Provider

	// logger used when rebuilding the provider.
	logger *logging.Logger
}

// NewConfig dials the given endpoint and returns a Config over it. The pinned block identity is zero until the first
// reset resolves it.
func NewConfig(clientConfig rpc.ClientConfig, logger *logging.Logger) (*Config, error) {
	if logger == nil {
		logger = logging.GlobalLogger.NewSubLogger("module", "fork")
	}
	provider, err := rpc.NewClientPool(clientConfig, logger)
	if err != nil {
		return nil, errors.WithMessage(ErrInvalidURL, clientConfig.URL)
	}
	return &Config{
		EthRPCURL:    clientConfig.URL,
		ClientConfig: clientConfig,
		Provider:     provider,
		logger:       logger,
	}, nil
}

// DefaultConfig dials the given endpoint with default client settings.
func DefaultConfig(endpoint string, logger *logging.Logger) (*Config, error) {
	return NewConfig(rpc.DefaultClientConfig(endpoint), logger)
}

// updateURL rebuilds the provider against a new endpoint, reusing the existing timeout/retry/backoff/compute-unit
// settings and explicitly preserving the prior provider's polling interval. If the new provider cannot be built the
// old provider stays active and ErrInvalidURL is returned.
func (c *Config) updateURL(endpoint string) error {
	clientConfig := c.ClientConfig
	clientConfig.URL = endpoint
	if c.Provider != nil {
		clientConfig.PollingInterval = c.Provider.PollingInterval()
	}

	provider, err := rpc.NewClientPool(clientConfig, c.logger)
	if err != nil {
		return errors.WithMessage(ErrInvalidURL, endpoint)
	}

	old := c.Provider
	c.Provider = provider
	c.EthRPCURL = endpoint
	c.ClientConfig = clientConfig
	if old != nil {
		old.Close()
	}
	return nil
}

// updateBlock replaces all five block-identity fields together. Callers must have already invalidated any data pinned
// to the previous identity.
func (c *Config) updateBlock(number uint64, hash common.Hash, timestamp uint64, baseFee *uint256.Int, totalDifficulty *uint256.Int) {
	c.BlockNumber = number
	c.BlockHash = hash
	c.Timestamp = timestamp
	c.BaseFee = baseFee
	c.TotalDifficulty = totalDifficulty
}
