// Package chainrpc wraps per-chain JSON-RPC endpoints behind the narrow
// health/price oracle surface the control plane needs. The endpoint is never
// trusted blindly: health checks verify the reported chain id against the
// registered one.
package chainrpc

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/pkg/config"
)

// Client is a health/price oracle for one chain.
type Client struct {
	chainID  uint64
	rpcURL   string
	client   *ethclient.Client
	fallback *big.Int
	logger   *zap.Logger
}

// Dial connects to a chain's RPC endpoint.
func Dial(cfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d RPC: %w", cfg.ChainID, err)
	}

	fallback, ok := new(big.Int).SetString(cfg.DefaultGasPriceWei, 10)
	if !ok || fallback.Sign() <= 0 {
		return nil, fmt.Errorf("chain %d: invalid default_gas_price_wei %q", cfg.ChainID, cfg.DefaultGasPriceWei)
	}

	logger.Info("Connected to chain RPC",
		zap.Uint64("chain_id", cfg.ChainID),
		zap.String("rpc_url", cfg.RPCURL))

	return &Client{
		chainID:  cfg.ChainID,
		rpcURL:   cfg.RPCURL,
		client:   client,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// ChainID returns the chain this client serves.
func (c *Client) ChainID() uint64 {
	return c.chainID
}

// CheckHealth probes the endpoint and verifies it serves the expected chain.
// A nil error means the RPC-reachable health predicate holds.
func (c *Client) CheckHealth(ctx context.Context) error {
	id, err := c.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain %d RPC unreachable: %w", c.chainID, err)
	}
	if id.Uint64() != c.chainID {
		return fmt.Errorf("chain id mismatch: endpoint reports %s, expected %d", id, c.chainID)
	}
	return nil
}

// GasPrice returns the endpoint's suggested gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain %d gas price: %w", c.chainID, err)
	}
	return price, nil
}

// GasPriceOrDefault returns the suggested gas price, falling back to the
// configured per-chain default when the oracle is unavailable.
func (c *Client) GasPriceOrDefault(ctx context.Context) *big.Int {
	price, err := c.GasPrice(ctx)
	if err != nil {
		c.logger.Warn("Gas price oracle unavailable, using configured default",
			zap.Uint64("chain_id", c.chainID),
			zap.String("default_wei", c.fallback.String()),
			zap.Error(err))
		return new(big.Int).Set(c.fallback)
	}
	return price
}

// Backend exposes the underlying ethclient for callers that need to submit
// transactions (the vault transfer executor).
func (c *Client) Backend() *ethclient.Client {
	return c.client
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	c.client.Close()
}

// Set holds one client per registered chain.
type Set struct {
	clients map[uint64]*Client
}

// DialAll connects to every configured chain.
func DialAll(chains []config.ChainConfig, logger *zap.Logger) (*Set, error) {
	clients := make(map[uint64]*Client, len(chains))
	for _, cfg := range chains {
		client, err := Dial(cfg, logger)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, err
		}
		clients[cfg.ChainID] = client
	}
	return &Set{clients: clients}, nil
}

// Get returns the client for a chain.
func (s *Set) Get(chainID uint64) (*Client, error) {
	client, ok := s.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("no RPC client for chain %d", chainID)
	}
	return client, nil
}

// GasPrice satisfies the fee engine's price source: suggested price with the
// per-chain configured fallback.
func (s *Set) GasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	client, err := s.Get(chainID)
	if err != nil {
		return nil, err
	}
	return client.GasPriceOrDefault(ctx), nil
}

// CheckHealth probes one chain; used by the ops health endpoint.
func (s *Set) CheckHealth(ctx context.Context, chainID uint64) error {
	client, err := s.Get(chainID)
	if err != nil {
		return err
	}
	return client.CheckHealth(ctx)
}

// ChainIDs returns the registered chain ids in ascending order.
func (s *Set) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close closes all clients.
func (s *Set) Close() {
	for _, c := range s.clients {
		c.Close()
	}
}
