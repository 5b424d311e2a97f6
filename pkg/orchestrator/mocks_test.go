package orchestrator

import (
	"context"
	"math/big"

	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

// MockStore is a mock implementation of Store
type MockStore struct {
	GetChainConfigsFunc func(ctx context.Context) ([]*registry.ChainConfig, error)
	GetPoolFunc         func(ctx context.Context, chainID uint64) (*registry.Pool, error)
	UpdatePoolFunc      func(ctx context.Context, pool *registry.Pool) error
}

func (m *MockStore) GetChainConfigs(ctx context.Context) ([]*registry.ChainConfig, error) {
	if m.GetChainConfigsFunc != nil {
		return m.GetChainConfigsFunc(ctx)
	}
	return nil, nil
}

func (m *MockStore) GetPool(ctx context.Context, chainID uint64) (*registry.Pool, error) {
	if m.GetPoolFunc != nil {
		return m.GetPoolFunc(ctx, chainID)
	}
	return nil, nil
}

func (m *MockStore) UpdatePool(ctx context.Context, pool *registry.Pool) error {
	if m.UpdatePoolFunc != nil {
		return m.UpdatePoolFunc(ctx, pool)
	}
	return nil
}

// MockExecutor is a mock implementation of vault.Executor
type MockExecutor struct {
	TransferFunc func(ctx context.Context, chainID uint64, vaultAddress, gasAccountAddress string, amount *big.Int) (string, error)
}

func (m *MockExecutor) Transfer(ctx context.Context, chainID uint64, vaultAddress, gasAccountAddress string, amount *big.Int) (string, error) {
	if m.TransferFunc != nil {
		return m.TransferFunc(ctx, chainID, vaultAddress, gasAccountAddress, amount)
	}
	return "0xref", nil
}
