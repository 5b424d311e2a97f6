// Package registrystore persists the control plane's registry: chain configs,
// paymaster pools, dapp accounts, dapp instances, and the append-only ledger.
package registrystore

import (
	"context"
	"errors"

	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

var (
	// ErrChainExists is returned when registering a chain id that is already known.
	ErrChainExists = errors.New("chain already registered")
	// ErrChainNotFound is returned when a chain config lookup finds no record.
	ErrChainNotFound = errors.New("chain not found")
	// ErrPoolNotFound is returned when a pool lookup finds no record.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrDAppNotFound is returned when a dapp lookup finds no record.
	ErrDAppNotFound = errors.New("dapp not found")
	// ErrInstanceNotFound is returned when an instance lookup finds no record.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrLedgerEntryNotFound is returned when a ledger entry lookup finds no record.
	ErrLedgerEntryNotFound = errors.New("ledger entry not found")
	// ErrVersionConflict is returned when an optimistic update loses the race
	// against a concurrent writer. Callers reload and retry or abandon the tick.
	ErrVersionConflict = errors.New("record version conflict")
)

// PoolStore provides pool record operations. Pool writes are versioned
// compare-and-swap updates because the per-chain health monitor and the
// rebalancing orchestrator write the same record concurrently.
type PoolStore interface {
	GetPool(ctx context.Context, chainID uint64) (*registry.Pool, error)
	// UpdatePool persists the pool if its stored version still matches
	// pool.Version, then increments the version. Returns ErrVersionConflict
	// if a concurrent writer got there first.
	UpdatePool(ctx context.Context, pool *registry.Pool) error
}

// ChainStore provides chain config operations.
type ChainStore interface {
	// CreateChain registers a chain and its pool atomically.
	CreateChain(ctx context.Context, cfg *registry.ChainConfig, pool *registry.Pool) error
	GetChainConfig(ctx context.Context, chainID uint64) (*registry.ChainConfig, error)
	GetChainConfigs(ctx context.Context) ([]*registry.ChainConfig, error)
}

// DAppStore provides dapp account and instance operations. Instance writes
// are versioned like pool writes: gatekeeper deposits and sponsorship
// accounting race against admin updates.
type DAppStore interface {
	CreateDApp(ctx context.Context, dapp *registry.DApp) error
	GetDApp(ctx context.Context, dappID string) (*registry.DApp, error)
	UpdateDApp(ctx context.Context, dapp *registry.DApp) error

	CreateInstance(ctx context.Context, inst *registry.Instance) error
	GetInstance(ctx context.Context, instanceID string) (*registry.Instance, error)
	GetInstanceByKeyDigest(ctx context.Context, digest string) (*registry.Instance, error)
	UpdateInstance(ctx context.Context, inst *registry.Instance) error
}

// LedgerStore provides append-only ledger operations. Entries are never
// updated or deleted.
type LedgerStore interface {
	AppendLedgerEntry(ctx context.Context, entry *registry.LedgerEntry) error
	GetLedgerEntry(ctx context.Context, entryID string) (*registry.LedgerEntry, error)
	ListLedgerEntries(ctx context.Context, entryType registry.EntryType, limit int) ([]*registry.LedgerEntry, error)
}

// Store is the full registry surface consumed by the control plane.
type Store interface {
	ChainStore
	PoolStore
	DAppStore
	LedgerStore
}
