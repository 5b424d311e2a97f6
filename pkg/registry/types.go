// Package registry defines the persisted entities of the paymaster control
// plane: chain configurations, per-chain liquidity pools, sponsored dapp
// accounts and their per-chain instances, fee quotes, and ledger entries.
//
// All monetary fields are arbitrary-precision integers denominated in the
// chain's smallest native unit (wei for EVM chains). They are never floats.
package registry

import (
	"fmt"
	"math/big"
	"time"
)

// ChainStatus is the admin-controlled lifecycle state of a chain.
type ChainStatus string

const (
	ChainStatusTesting ChainStatus = "TESTING"
	ChainStatusActive  ChainStatus = "ACTIVE"
	ChainStatusPaused  ChainStatus = "PAUSED"
)

// ChainConfig identifies one supported chain. Identity fields are immutable
// after registration; only Status is mutated by admin action.
type ChainConfig struct {
	ChainID     uint64
	Name        string
	Symbol      string
	RPCURL      string
	ExplorerURL string
	Status      ChainStatus
	CreatedAt   time.Time
}

// Mode is the operational state of a paymaster pool.
type Mode string

const (
	ModeInit      Mode = "INIT"
	ModeNormal    Mode = "NORMAL"
	ModeSafeMode  Mode = "SAFE_MODE"
	ModeThrottled Mode = "THROTTLED"
	ModePaused    Mode = "PAUSED"
	ModeRecovery  Mode = "RECOVERY"
)

// PoolID returns the deterministic pool identifier for a chain.
func PoolID(chainID uint64) string {
	return fmt.Sprintf("pool-%d", chainID)
}

// Pool is the per-chain liquidity reserve used to sponsor transactions.
// Invariants: Balance, MinBalance, TargetBalance >= 0 and
// TargetBalance >= MinBalance.
//
// Version supports optimistic concurrency: the health monitor and the
// rebalancing orchestrator both read-modify-write the same record, and every
// write is a compare-and-swap on Version.
type Pool struct {
	PoolID            string
	ChainID           uint64
	GasAccountAddress string
	VaultAddress      string
	Balance           *big.Int
	MinBalance        *big.Int
	TargetBalance     *big.Int
	SpendRate24h      *big.Int
	Mode              Mode
	PendingTx         int64
	AnomalyScore      float64
	LastTopUpAt       *time.Time
	LastHealthCheck   *time.Time
	Version           int64
}

// Validate checks the pool's financial invariants.
func (p *Pool) Validate() error {
	for name, v := range map[string]*big.Int{
		"balance":        p.Balance,
		"min_balance":    p.MinBalance,
		"target_balance": p.TargetBalance,
	} {
		if v == nil {
			return fmt.Errorf("pool %s: missing %s", p.PoolID, name)
		}
		if v.Sign() < 0 {
			return fmt.Errorf("pool %s: negative %s", p.PoolID, name)
		}
	}
	if p.TargetBalance.Cmp(p.MinBalance) < 0 {
		return fmt.Errorf("pool %s: target_balance below min_balance", p.PoolID)
	}
	return nil
}

// DAppStatus is the lifecycle state of a sponsored application.
type DAppStatus string

const (
	DAppStatusActive    DAppStatus = "ACTIVE"
	DAppStatusSuspended DAppStatus = "SUSPENDED"
	DAppStatusBanned    DAppStatus = "BANNED"
)

// DApp is one registered sponsored application.
type DApp struct {
	DAppID        string
	OwnerID       string
	Name          string
	Status        DAppStatus
	AllowedChains []uint64
	Denylisted    bool
	FraudFlag     bool
	RiskScore     float64
	CreatedAt     time.Time
	Version       int64
}

// Policy caps a dapp instance's sponsored spend.
//
// DailyGasCap is checked against the cumulative Analytics.TotalSponsored
// counter; there is no calendar reset. See ValidateRequest in pkg/dapp.
type Policy struct {
	Scheme          string
	DailyGasCap     *big.Int
	PerUserDailyCap *big.Int
	TokenWhitelist  []string
}

// Analytics carries per-instance sponsorship counters.
// TotalSponsored is monotonically increasing.
type Analytics struct {
	TotalSponsored *big.Int
	TxCount        int64
	UserCount      int64
}

// Instance is one (dapp, chain) paymaster enrollment. KeyDigest is the
// sha3-256 digest of the issued API key; the key itself is never stored.
type Instance struct {
	InstanceID string
	DAppID     string
	ChainID    uint64
	KeyDigest  string
	Balance    *big.Int
	Policy     Policy
	Analytics  Analytics
	CreatedAt  time.Time
	Version    int64
}

// QuoteStatus is the lifecycle state of a fee quote.
type QuoteStatus string

const (
	QuoteStatusPending  QuoteStatus = "PENDING"
	QuoteStatusExecuted QuoteStatus = "EXECUTED"
	QuoteStatusSettled  QuoteStatus = "SETTLED"
	QuoteStatusExpired  QuoteStatus = "EXPIRED"
	QuoteStatusDeclined QuoteStatus = "DECLINED"
)

// FeeQuote is a time-bounded price commitment for sponsoring one transaction.
// TotalMaxTokenIn = BaseCost + Buffer + Surcharge, expressed in TokenIn.
type FeeQuote struct {
	QuoteID         string
	DAppID          string
	UserID          string
	ChainID         uint64
	TokenIn         string
	EstimatedGas    uint64
	GasPrice        *big.Int
	BaseCost        *big.Int
	Buffer          *big.Int
	Surcharge       *big.Int
	TotalMaxTokenIn *big.Int
	IssuedAt        time.Time
	Expiry          time.Time
	Status          QuoteStatus
}

// Expired reports whether the quote's validity window has elapsed at now.
func (q *FeeQuote) Expired(now time.Time) bool {
	return now.After(q.Expiry)
}

// EntryType discriminates ledger entry variants.
type EntryType string

const (
	EntryTypeQuote      EntryType = "QUOTE"
	EntryTypeSettlement EntryType = "SETTLEMENT"
	EntryTypeRebalance  EntryType = "REBALANCE"
	EntryTypeAudit      EntryType = "AUDIT"
)

// LedgerEntry is an append-only record. Entries are immutable once written;
// corrections are expressed as new entries.
type LedgerEntry struct {
	EntryID       string
	Type          EntryType
	ChainID       uint64
	DAppID        string
	QuoteID       string
	Amount        *big.Int
	ActualGasUsed uint64
	FinalCost     *big.Int
	Revenue       *big.Int
	Refund        *big.Int
	Reason        string
	TxHash        string
	CreatedAt     time.Time
}
