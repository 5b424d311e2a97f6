package registrystore

import (
	"fmt"
	"math/big"
	"time"

	"github.com/uptrace/bun"

	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

// ChainConfigDao is a data access object that maps directly to the 'chains' table in PostgreSQL.
type ChainConfigDao struct {
	bun.BaseModel `bun:"table:chains,alias:c"`
	ChainID       int64     `bun:"chain_id,pk"`
	Name          string    `bun:"name,notnull,type:varchar(100)"`
	Symbol        string    `bun:"symbol,notnull,type:varchar(20)"`
	RPCURL        string    `bun:"rpc_url,notnull,type:varchar(500)"`
	ExplorerURL   string    `bun:"explorer_url,type:varchar(500)"`
	Status        string    `bun:"status,notnull,type:varchar(20)"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

// PoolDao is a data access object that maps directly to the 'pools' table in PostgreSQL.
// Monetary columns are numeric(78,0): big enough for any uint256 amount, no
// floating point anywhere.
type PoolDao struct {
	bun.BaseModel     `bun:"table:pools,alias:p"`
	PoolID            string     `bun:"pool_id,pk,type:varchar(64)"`
	ChainID           int64      `bun:"chain_id,notnull,unique"`
	GasAccountAddress string     `bun:"gas_account_address,notnull,type:varchar(64)"`
	VaultAddress      string     `bun:"vault_address,notnull,type:varchar(64)"`
	Balance           string     `bun:"balance,notnull,type:numeric(78,0)"`
	MinBalance        string     `bun:"min_balance,notnull,type:numeric(78,0)"`
	TargetBalance     string     `bun:"target_balance,notnull,type:numeric(78,0)"`
	SpendRate24h      string     `bun:"spend_rate_24h,notnull,type:numeric(78,0)"`
	Mode              string     `bun:"mode,notnull,type:varchar(20)"`
	PendingTx         int64      `bun:"pending_tx,notnull,default:0"`
	AnomalyScore      float64    `bun:"anomaly_score,notnull,default:0"`
	LastTopUpAt       *time.Time `bun:"last_top_up_at"`
	LastHealthCheck   *time.Time `bun:"last_health_check"`
	Version           int64      `bun:"version,notnull,default:0"`
}

// DAppDao is a data access object that maps directly to the 'dapps' table in PostgreSQL.
type DAppDao struct {
	bun.BaseModel `bun:"table:dapps,alias:d"`
	DAppID        string    `bun:"dapp_id,pk,type:varchar(64)"`
	OwnerID       string    `bun:"owner_id,notnull,type:varchar(128)"`
	Name          string    `bun:"name,notnull,type:varchar(200)"`
	Status        string    `bun:"status,notnull,type:varchar(20)"`
	AllowedChains []int64   `bun:"allowed_chains,array"`
	Denylisted    bool      `bun:"denylisted,notnull,default:false"`
	FraudFlag     bool      `bun:"fraud_flag,notnull,default:false"`
	RiskScore     float64   `bun:"risk_score,notnull,default:0"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
	Version       int64     `bun:"version,notnull,default:0"`
}

// InstanceDao is a data access object that maps directly to the 'dapp_instances' table in PostgreSQL.
type InstanceDao struct {
	bun.BaseModel   `bun:"table:dapp_instances,alias:i"`
	InstanceID      string    `bun:"instance_id,pk,type:varchar(64)"`
	DAppID          string    `bun:"dapp_id,notnull,type:varchar(64)"`
	ChainID         int64     `bun:"chain_id,notnull"`
	KeyDigest       string    `bun:"key_digest,notnull,unique,type:varchar(64)"`
	Balance         string    `bun:"balance,notnull,type:numeric(78,0)"`
	PolicyScheme    string    `bun:"policy_scheme,notnull,type:varchar(40)"`
	DailyGasCap     string    `bun:"daily_gas_cap,notnull,type:numeric(78,0)"`
	PerUserDailyCap string    `bun:"per_user_daily_cap,notnull,type:numeric(78,0)"`
	TokenWhitelist  []string  `bun:"token_whitelist,array"`
	TotalSponsored  string    `bun:"total_sponsored,notnull,type:numeric(78,0)"`
	TxCount         int64     `bun:"tx_count,notnull,default:0"`
	UserCount       int64     `bun:"user_count,notnull,default:0"`
	CreatedAt       time.Time `bun:"created_at,nullzero,default:current_timestamp"`
	Version         int64     `bun:"version,notnull,default:0"`
}

// LedgerEntryDao is a data access object that maps directly to the 'ledger_entries' table in PostgreSQL.
// Rows are insert-only; there is no update path in this package.
type LedgerEntryDao struct {
	bun.BaseModel `bun:"table:ledger_entries,alias:l"`
	EntryID       string    `bun:"entry_id,pk,type:varchar(64)"`
	Type          string    `bun:"type,notnull,type:varchar(20)"`
	ChainID       int64     `bun:"chain_id,nullzero"`
	DAppID        string    `bun:"dapp_id,nullzero,type:varchar(64)"`
	QuoteID       string    `bun:"quote_id,nullzero,type:varchar(64)"`
	Amount        *string   `bun:"amount,type:numeric(78,0)"`
	ActualGasUsed int64     `bun:"actual_gas_used,nullzero"`
	FinalCost     *string   `bun:"final_cost,type:numeric(78,0)"`
	Revenue       *string   `bun:"revenue,type:numeric(78,0)"`
	Refund        *string   `bun:"refund,type:numeric(78,0)"`
	Reason        string    `bun:"reason,type:varchar(500)"`
	TxHash        string    `bun:"tx_hash,type:varchar(128)"`
	CreatedAt     time.Time `bun:"created_at,nullzero,default:current_timestamp"`
}

func toChainConfigDao(cfg *registry.ChainConfig) *ChainConfigDao {
	return &ChainConfigDao{
		ChainID:     int64(cfg.ChainID),
		Name:        cfg.Name,
		Symbol:      cfg.Symbol,
		RPCURL:      cfg.RPCURL,
		ExplorerURL: cfg.ExplorerURL,
		Status:      string(cfg.Status),
		CreatedAt:   cfg.CreatedAt,
	}
}

func toChainConfig(dao *ChainConfigDao) *registry.ChainConfig {
	return &registry.ChainConfig{
		ChainID:     uint64(dao.ChainID),
		Name:        dao.Name,
		Symbol:      dao.Symbol,
		RPCURL:      dao.RPCURL,
		ExplorerURL: dao.ExplorerURL,
		Status:      registry.ChainStatus(dao.Status),
		CreatedAt:   dao.CreatedAt,
	}
}

func toPoolDao(p *registry.Pool) *PoolDao {
	return &PoolDao{
		PoolID:            p.PoolID,
		ChainID:           int64(p.ChainID),
		GasAccountAddress: p.GasAccountAddress,
		VaultAddress:      p.VaultAddress,
		Balance:           registry.FormatAmount(p.Balance),
		MinBalance:        registry.FormatAmount(p.MinBalance),
		TargetBalance:     registry.FormatAmount(p.TargetBalance),
		SpendRate24h:      registry.FormatAmount(p.SpendRate24h),
		Mode:              string(p.Mode),
		PendingTx:         p.PendingTx,
		AnomalyScore:      p.AnomalyScore,
		LastTopUpAt:       p.LastTopUpAt,
		LastHealthCheck:   p.LastHealthCheck,
		Version:           p.Version,
	}
}

func toPool(dao *PoolDao) (*registry.Pool, error) {
	balance, err := registry.ParseAmount(dao.Balance)
	if err != nil {
		return nil, fmt.Errorf("pool %s balance: %w", dao.PoolID, err)
	}
	minBalance, err := registry.ParseAmount(dao.MinBalance)
	if err != nil {
		return nil, fmt.Errorf("pool %s min_balance: %w", dao.PoolID, err)
	}
	targetBalance, err := registry.ParseAmount(dao.TargetBalance)
	if err != nil {
		return nil, fmt.Errorf("pool %s target_balance: %w", dao.PoolID, err)
	}
	spendRate, err := registry.ParseAmount(dao.SpendRate24h)
	if err != nil {
		return nil, fmt.Errorf("pool %s spend_rate_24h: %w", dao.PoolID, err)
	}
	return &registry.Pool{
		PoolID:            dao.PoolID,
		ChainID:           uint64(dao.ChainID),
		GasAccountAddress: dao.GasAccountAddress,
		VaultAddress:      dao.VaultAddress,
		Balance:           balance,
		MinBalance:        minBalance,
		TargetBalance:     targetBalance,
		SpendRate24h:      spendRate,
		Mode:              registry.Mode(dao.Mode),
		PendingTx:         dao.PendingTx,
		AnomalyScore:      dao.AnomalyScore,
		LastTopUpAt:       dao.LastTopUpAt,
		LastHealthCheck:   dao.LastHealthCheck,
		Version:           dao.Version,
	}, nil
}

func toDAppDao(d *registry.DApp) *DAppDao {
	chains := make([]int64, len(d.AllowedChains))
	for i, id := range d.AllowedChains {
		chains[i] = int64(id)
	}
	return &DAppDao{
		DAppID:        d.DAppID,
		OwnerID:       d.OwnerID,
		Name:          d.Name,
		Status:        string(d.Status),
		AllowedChains: chains,
		Denylisted:    d.Denylisted,
		FraudFlag:     d.FraudFlag,
		RiskScore:     d.RiskScore,
		CreatedAt:     d.CreatedAt,
		Version:       d.Version,
	}
}

func toDApp(dao *DAppDao) *registry.DApp {
	chains := make([]uint64, len(dao.AllowedChains))
	for i, id := range dao.AllowedChains {
		chains[i] = uint64(id)
	}
	return &registry.DApp{
		DAppID:        dao.DAppID,
		OwnerID:       dao.OwnerID,
		Name:          dao.Name,
		Status:        registry.DAppStatus(dao.Status),
		AllowedChains: chains,
		Denylisted:    dao.Denylisted,
		FraudFlag:     dao.FraudFlag,
		RiskScore:     dao.RiskScore,
		CreatedAt:     dao.CreatedAt,
		Version:       dao.Version,
	}
}

func toInstanceDao(inst *registry.Instance) *InstanceDao {
	return &InstanceDao{
		InstanceID:      inst.InstanceID,
		DAppID:          inst.DAppID,
		ChainID:         int64(inst.ChainID),
		KeyDigest:       inst.KeyDigest,
		Balance:         registry.FormatAmount(inst.Balance),
		PolicyScheme:    inst.Policy.Scheme,
		DailyGasCap:     registry.FormatAmount(inst.Policy.DailyGasCap),
		PerUserDailyCap: registry.FormatAmount(inst.Policy.PerUserDailyCap),
		TokenWhitelist:  inst.Policy.TokenWhitelist,
		TotalSponsored:  registry.FormatAmount(inst.Analytics.TotalSponsored),
		TxCount:         inst.Analytics.TxCount,
		UserCount:       inst.Analytics.UserCount,
		CreatedAt:       inst.CreatedAt,
		Version:         inst.Version,
	}
}

func toInstance(dao *InstanceDao) (*registry.Instance, error) {
	balance, err := registry.ParseAmount(dao.Balance)
	if err != nil {
		return nil, fmt.Errorf("instance %s balance: %w", dao.InstanceID, err)
	}
	dailyCap, err := registry.ParseAmount(dao.DailyGasCap)
	if err != nil {
		return nil, fmt.Errorf("instance %s daily_gas_cap: %w", dao.InstanceID, err)
	}
	perUserCap, err := registry.ParseAmount(dao.PerUserDailyCap)
	if err != nil {
		return nil, fmt.Errorf("instance %s per_user_daily_cap: %w", dao.InstanceID, err)
	}
	sponsored, err := registry.ParseAmount(dao.TotalSponsored)
	if err != nil {
		return nil, fmt.Errorf("instance %s total_sponsored: %w", dao.InstanceID, err)
	}
	return &registry.Instance{
		InstanceID: dao.InstanceID,
		DAppID:     dao.DAppID,
		ChainID:    uint64(dao.ChainID),
		KeyDigest:  dao.KeyDigest,
		Balance:    balance,
		Policy: registry.Policy{
			Scheme:          dao.PolicyScheme,
			DailyGasCap:     dailyCap,
			PerUserDailyCap: perUserCap,
			TokenWhitelist:  dao.TokenWhitelist,
		},
		Analytics: registry.Analytics{
			TotalSponsored: sponsored,
			TxCount:        dao.TxCount,
			UserCount:      dao.UserCount,
		},
		CreatedAt: dao.CreatedAt,
		Version:   dao.Version,
	}, nil
}

func toLedgerEntryDao(e *registry.LedgerEntry) *LedgerEntryDao {
	dao := &LedgerEntryDao{
		EntryID:       e.EntryID,
		Type:          string(e.Type),
		ChainID:       int64(e.ChainID),
		DAppID:        e.DAppID,
		QuoteID:       e.QuoteID,
		ActualGasUsed: int64(e.ActualGasUsed),
		Reason:        e.Reason,
		TxHash:        e.TxHash,
		CreatedAt:     e.CreatedAt,
	}
	if e.Amount != nil {
		s := e.Amount.String()
		dao.Amount = &s
	}
	if e.FinalCost != nil {
		s := e.FinalCost.String()
		dao.FinalCost = &s
	}
	if e.Revenue != nil {
		s := e.Revenue.String()
		dao.Revenue = &s
	}
	if e.Refund != nil {
		s := e.Refund.String()
		dao.Refund = &s
	}
	return dao
}

func toLedgerEntry(dao *LedgerEntryDao) (*registry.LedgerEntry, error) {
	e := &registry.LedgerEntry{
		EntryID:       dao.EntryID,
		Type:          registry.EntryType(dao.Type),
		ChainID:       uint64(dao.ChainID),
		DAppID:        dao.DAppID,
		QuoteID:       dao.QuoteID,
		ActualGasUsed: uint64(dao.ActualGasUsed),
		Reason:        dao.Reason,
		TxHash:        dao.TxHash,
		CreatedAt:     dao.CreatedAt,
	}
	for _, f := range []struct {
		name string
		src  *string
		dst  **big.Int
	}{
		{"amount", dao.Amount, &e.Amount},
		{"final_cost", dao.FinalCost, &e.FinalCost},
		{"revenue", dao.Revenue, &e.Revenue},
		{"refund", dao.Refund, &e.Refund},
	} {
		if f.src == nil {
			continue
		}
		v, err := registry.ParseAmount(*f.src)
		if err != nil {
			return nil, fmt.Errorf("ledger entry %s %s: %w", dao.EntryID, f.name, err)
		}
		*f.dst = v
	}
	return e, nil
}
