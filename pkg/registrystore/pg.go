package registrystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the registry store.
func NewStore(db *bun.DB) Store {
	return &pgStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}

func (s *pgStore) CreateChain(ctx context.Context, cfg *registry.ChainConfig, pool *registry.Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(toChainConfigDao(cfg)).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(toPoolDao(pool)).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrChainExists
		}
		return fmt.Errorf("failed to create chain %d: %w", cfg.ChainID, err)
	}
	return nil
}

func (s *pgStore) GetChainConfig(ctx context.Context, chainID uint64) (*registry.ChainConfig, error) {
	dao := new(ChainConfigDao)
	err := s.db.NewSelect().Model(dao).Where("chain_id = ?", int64(chainID)).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChainNotFound
		}
		return nil, fmt.Errorf("failed to get chain %d: %w", chainID, err)
	}
	return toChainConfig(dao), nil
}

func (s *pgStore) GetChainConfigs(ctx context.Context) ([]*registry.ChainConfig, error) {
	var daos []ChainConfigDao
	err := s.db.NewSelect().Model(&daos).Order("chain_id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	configs := make([]*registry.ChainConfig, len(daos))
	for i := range daos {
		configs[i] = toChainConfig(&daos[i])
	}
	return configs, nil
}

func (s *pgStore) GetPool(ctx context.Context, chainID uint64) (*registry.Pool, error) {
	dao := new(PoolDao)
	err := s.db.NewSelect().Model(dao).Where("chain_id = ?", int64(chainID)).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to get pool for chain %d: %w", chainID, err)
	}
	return toPool(dao)
}

// UpdatePool is a compare-and-swap on the version column. Lost races surface
// as ErrVersionConflict instead of silently overwriting a concurrent write.
func (s *pgStore) UpdatePool(ctx context.Context, pool *registry.Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	dao := toPoolDao(pool)
	dao.Version = pool.Version + 1
	res, err := s.db.NewUpdate().
		Model(dao).
		WherePK().
		Where("version = ?", pool.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update pool %s: %w", pool.PoolID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update pool %s: %w", pool.PoolID, err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	pool.Version = dao.Version
	return nil
}

func (s *pgStore) CreateDApp(ctx context.Context, dapp *registry.DApp) error {
	if _, err := s.db.NewInsert().Model(toDAppDao(dapp)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create dapp %s: %w", dapp.DAppID, err)
	}
	return nil
}

func (s *pgStore) GetDApp(ctx context.Context, dappID string) (*registry.DApp, error) {
	dao := new(DAppDao)
	err := s.db.NewSelect().Model(dao).Where("dapp_id = ?", dappID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDAppNotFound
		}
		return nil, fmt.Errorf("failed to get dapp %s: %w", dappID, err)
	}
	return toDApp(dao), nil
}

func (s *pgStore) UpdateDApp(ctx context.Context, dapp *registry.DApp) error {
	dao := toDAppDao(dapp)
	dao.Version = dapp.Version + 1
	res, err := s.db.NewUpdate().
		Model(dao).
		WherePK().
		Where("version = ?", dapp.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update dapp %s: %w", dapp.DAppID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update dapp %s: %w", dapp.DAppID, err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	dapp.Version = dao.Version
	return nil
}

func (s *pgStore) CreateInstance(ctx context.Context, inst *registry.Instance) error {
	if _, err := s.db.NewInsert().Model(toInstanceDao(inst)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create instance %s: %w", inst.InstanceID, err)
	}
	return nil
}

func (s *pgStore) GetInstance(ctx context.Context, instanceID string) (*registry.Instance, error) {
	dao := new(InstanceDao)
	err := s.db.NewSelect().Model(dao).Where("instance_id = ?", instanceID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get instance %s: %w", instanceID, err)
	}
	return toInstance(dao)
}

func (s *pgStore) GetInstanceByKeyDigest(ctx context.Context, digest string) (*registry.Instance, error) {
	dao := new(InstanceDao)
	err := s.db.NewSelect().Model(dao).Where("key_digest = ?", digest).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get instance by key digest: %w", err)
	}
	return toInstance(dao)
}

func (s *pgStore) UpdateInstance(ctx context.Context, inst *registry.Instance) error {
	dao := toInstanceDao(inst)
	dao.Version = inst.Version + 1
	res, err := s.db.NewUpdate().
		Model(dao).
		WherePK().
		Where("version = ?", inst.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", inst.InstanceID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update instance %s: %w", inst.InstanceID, err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	inst.Version = dao.Version
	return nil
}

func (s *pgStore) AppendLedgerEntry(ctx context.Context, entry *registry.LedgerEntry) error {
	if _, err := s.db.NewInsert().Model(toLedgerEntryDao(entry)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to append ledger entry %s: %w", entry.EntryID, err)
	}
	return nil
}

func (s *pgStore) GetLedgerEntry(ctx context.Context, entryID string) (*registry.LedgerEntry, error) {
	dao := new(LedgerEntryDao)
	err := s.db.NewSelect().Model(dao).Where("entry_id = ?", entryID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLedgerEntryNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry %s: %w", entryID, err)
	}
	return toLedgerEntry(dao)
}

func (s *pgStore) ListLedgerEntries(ctx context.Context, entryType registry.EntryType, limit int) ([]*registry.LedgerEntry, error) {
	var daos []LedgerEntryDao
	q := s.db.NewSelect().Model(&daos).Order("created_at DESC")
	if entryType != "" {
		q = q.Where("type = ?", string(entryType))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	entries := make([]*registry.LedgerEntry, len(daos))
	for i := range daos {
		entry, err := toLedgerEntry(&daos[i])
		if err != nil {
			return nil, err
		}
		entries[i] = entry
	}
	return entries, nil
}
