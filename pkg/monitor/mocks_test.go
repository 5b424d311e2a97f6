package monitor

import (
	"context"
	"math/big"

	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

// MockStore is a mock implementation of Store
type MockStore struct {
	GetPoolFunc    func(ctx context.Context, chainID uint64) (*registry.Pool, error)
	UpdatePoolFunc func(ctx context.Context, pool *registry.Pool) error
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

// MockRPC is a mock implementation of RPC
type MockRPC struct {
	CheckHealthFunc func(ctx context.Context) error
	GasPriceFunc    func(ctx context.Context) (*big.Int, error)
}

func (m *MockRPC) CheckHealth(ctx context.Context) error {
	if m.CheckHealthFunc != nil {
		return m.CheckHealthFunc(ctx)
	}
	return nil
}

func (m *MockRPC) GasPrice(ctx context.Context) (*big.Int, error) {
	if m.GasPriceFunc != nil {
		return m.GasPriceFunc(ctx)
	}
	return big.NewInt(1_000_000_000), nil
}
