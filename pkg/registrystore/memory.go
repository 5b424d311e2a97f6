package registrystore

import (
	"context"
	"math/big"
	"sync"

	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

// Memory is an in-memory registry store with the same compare-and-swap
// semantics as the postgres implementation. It backs unit tests and local
// development; the concurrency tests in pkg/orchestrator depend on its CAS
// behaviour being faithful.
type Memory struct {
	mu        sync.Mutex
	chains    map[uint64]*registry.ChainConfig
	pools     map[uint64]*registry.Pool
	dapps     map[string]*registry.DApp
	instances map[string]*registry.Instance
	ledger    map[string]*registry.LedgerEntry
	order     []string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		chains:    make(map[uint64]*registry.ChainConfig),
		pools:     make(map[uint64]*registry.Pool),
		dapps:     make(map[string]*registry.DApp),
		instances: make(map[string]*registry.Instance),
		ledger:    make(map[string]*registry.LedgerEntry),
	}
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func copyPool(p *registry.Pool) *registry.Pool {
	cp := *p
	cp.Balance = copyBig(p.Balance)
	cp.MinBalance = copyBig(p.MinBalance)
	cp.TargetBalance = copyBig(p.TargetBalance)
	cp.SpendRate24h = copyBig(p.SpendRate24h)
	if p.LastTopUpAt != nil {
		t := *p.LastTopUpAt
		cp.LastTopUpAt = &t
	}
	if p.LastHealthCheck != nil {
		t := *p.LastHealthCheck
		cp.LastHealthCheck = &t
	}
	return &cp
}

func copyDApp(d *registry.DApp) *registry.DApp {
	cp := *d
	cp.AllowedChains = append([]uint64(nil), d.AllowedChains...)
	return &cp
}

func copyInstance(i *registry.Instance) *registry.Instance {
	cp := *i
	cp.Balance = copyBig(i.Balance)
	cp.Policy.DailyGasCap = copyBig(i.Policy.DailyGasCap)
	cp.Policy.PerUserDailyCap = copyBig(i.Policy.PerUserDailyCap)
	cp.Policy.TokenWhitelist = append([]string(nil), i.Policy.TokenWhitelist...)
	cp.Analytics.TotalSponsored = copyBig(i.Analytics.TotalSponsored)
	return &cp
}

func copyEntry(e *registry.LedgerEntry) *registry.LedgerEntry {
	cp := *e
	cp.Amount = copyBig(e.Amount)
	cp.FinalCost = copyBig(e.FinalCost)
	cp.Revenue = copyBig(e.Revenue)
	cp.Refund = copyBig(e.Refund)
	return &cp
}

func (m *Memory) CreateChain(_ context.Context, cfg *registry.ChainConfig, pool *registry.Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chains[cfg.ChainID]; ok {
		return ErrChainExists
	}
	cp := *cfg
	m.chains[cfg.ChainID] = &cp
	m.pools[pool.ChainID] = copyPool(pool)
	return nil
}

func (m *Memory) GetChainConfig(_ context.Context, chainID uint64) (*registry.ChainConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.chains[chainID]
	if !ok {
		return nil, ErrChainNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *Memory) GetChainConfigs(_ context.Context) ([]*registry.ChainConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	configs := make([]*registry.ChainConfig, 0, len(m.chains))
	for _, cfg := range m.chains {
		cp := *cfg
		configs = append(configs, &cp)
	}
	return configs, nil
}

func (m *Memory) GetPool(_ context.Context, chainID uint64) (*registry.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[chainID]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return copyPool(pool), nil
}

func (m *Memory) UpdatePool(_ context.Context, pool *registry.Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.pools[pool.ChainID]
	if !ok {
		return ErrPoolNotFound
	}
	if current.Version != pool.Version {
		return ErrVersionConflict
	}
	cp := copyPool(pool)
	cp.Version = pool.Version + 1
	m.pools[pool.ChainID] = cp
	pool.Version = cp.Version
	return nil
}

func (m *Memory) CreateDApp(_ context.Context, dapp *registry.DApp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dapps[dapp.DAppID] = copyDApp(dapp)
	return nil
}

func (m *Memory) GetDApp(_ context.Context, dappID string) (*registry.DApp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dapp, ok := m.dapps[dappID]
	if !ok {
		return nil, ErrDAppNotFound
	}
	return copyDApp(dapp), nil
}

func (m *Memory) UpdateDApp(_ context.Context, dapp *registry.DApp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.dapps[dapp.DAppID]
	if !ok {
		return ErrDAppNotFound
	}
	if current.Version != dapp.Version {
		return ErrVersionConflict
	}
	cp := copyDApp(dapp)
	cp.Version = dapp.Version + 1
	m.dapps[dapp.DAppID] = cp
	dapp.Version = cp.Version
	return nil
}

func (m *Memory) CreateInstance(_ context.Context, inst *registry.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[inst.InstanceID] = copyInstance(inst)
	return nil
}

func (m *Memory) GetInstance(_ context.Context, instanceID string) (*registry.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return copyInstance(inst), nil
}

func (m *Memory) GetInstanceByKeyDigest(_ context.Context, digest string) (*registry.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.KeyDigest == digest {
			return copyInstance(inst), nil
		}
	}
	return nil, ErrInstanceNotFound
}

func (m *Memory) UpdateInstance(_ context.Context, inst *registry.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.instances[inst.InstanceID]
	if !ok {
		return ErrInstanceNotFound
	}
	if current.Version != inst.Version {
		return ErrVersionConflict
	}
	cp := copyInstance(inst)
	cp.Version = inst.Version + 1
	m.instances[inst.InstanceID] = cp
	inst.Version = cp.Version
	return nil
}

func (m *Memory) AppendLedgerEntry(_ context.Context, entry *registry.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger[entry.EntryID] = copyEntry(entry)
	m.order = append(m.order, entry.EntryID)
	return nil
}

func (m *Memory) GetLedgerEntry(_ context.Context, entryID string) (*registry.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.ledger[entryID]
	if !ok {
		return nil, ErrLedgerEntryNotFound
	}
	return copyEntry(entry), nil
}

func (m *Memory) ListLedgerEntries(_ context.Context, entryType registry.EntryType, limit int) ([]*registry.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []*registry.LedgerEntry
	for i := len(m.order) - 1; i >= 0; i-- {
		entry := m.ledger[m.order[i]]
		if entryType != "" && entry.Type != entryType {
			continue
		}
		entries = append(entries, copyEntry(entry))
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}
