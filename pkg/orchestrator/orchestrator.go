// Package orchestrator implements the global rebalancing loop that keeps
// every chain's pool funded, plus the emergency entry point a monitor can
// invoke directly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/internal/metrics"
	"github.com/chainsafe/paymaster-middleware/pkg/config"
	"github.com/chainsafe/paymaster-middleware/pkg/ledger"
	"github.com/chainsafe/paymaster-middleware/pkg/registry"
	"github.com/chainsafe/paymaster-middleware/pkg/registrystore"
	"github.com/chainsafe/paymaster-middleware/pkg/vault"
)

// topUpThresholdPct: a scheduled rebalance tops up pools below this
// percentage of their target balance. Emergency triggers bypass it.
const topUpThresholdPct = 80

// casRetries bounds the reload-and-retry loop when persisting a completed
// top-up loses a version race against a concurrent monitor write.
const casRetries = 3

// Reason identifies what triggered a top-up; recorded on REBALANCE entries.
type Reason string

const (
	ReasonBatchScheduler   Reason = "BATCH_SCHEDULER"
	ReasonEmergencyTrigger Reason = "EMERGENCY_TRIGGER"
)

// Store is the registry surface the orchestrator needs.
type Store interface {
	GetChainConfigs(ctx context.Context) ([]*registry.ChainConfig, error)
	GetPool(ctx context.Context, chainID uint64) (*registry.Pool, error)
	UpdatePool(ctx context.Context, pool *registry.Pool) error
}

// Orchestrator runs the scheduled rebalance job and executes top-ups.
// Top-ups are serialized per chain: a scheduled batch and an emergency
// trigger racing on the same chain result in exactly one transfer.
type Orchestrator struct {
	store    Store
	executor vault.Executor
	ledger   *ledger.Recorder
	logger   *zap.Logger
	interval time.Duration

	locksMu sync.Mutex
	locks   map[uint64]*sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a rebalancing orchestrator.
func New(store Store, executor vault.Executor, rec *ledger.Recorder, cfg config.RebalancerConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		executor: executor,
		ledger:   rec,
		logger:   logger,
		interval: cfg.Interval,
		locks:    make(map[uint64]*sync.Mutex),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the scheduled rebalance loop.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		o.logger.Info("Rebalancing orchestrator started", zap.Duration("interval", o.interval))

		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), o.interval)
				if err := o.RunScheduledRebalance(ctx); err != nil {
					o.logger.Error("Scheduled rebalance failed", zap.Error(err))
				}
				cancel()
			case <-o.stopCh:
				o.logger.Info("Rebalancing orchestrator stopped")
				return
			}
		}
	}()
}

// Stop cancels future scheduled runs. An in-flight run completes.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()
}

// RunScheduledRebalance enumerates all chains and tops up every pool whose
// balance fell below the threshold. Per-chain failures are logged and do not
// stop the batch.
func (o *Orchestrator) RunScheduledRebalance(ctx context.Context) error {
	chains, err := o.store.GetChainConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate chains: %w", err)
	}

	for _, chain := range chains {
		pool, err := o.store.GetPool(ctx, chain.ChainID)
		if err != nil {
			if errors.Is(err, registrystore.ErrPoolNotFound) {
				o.logger.Warn("Chain has no pool, skipping", zap.Uint64("chain_id", chain.ChainID))
				continue
			}
			o.logger.Error("Failed to load pool, skipping chain",
				zap.Uint64("chain_id", chain.ChainID), zap.Error(err))
			continue
		}

		if !needsTopUp(pool) {
			continue
		}
		if err := o.topUp(ctx, chain.ChainID, ReasonBatchScheduler); err != nil {
			o.logger.Error("Scheduled top-up failed",
				zap.Uint64("chain_id", chain.ChainID), zap.Error(err))
		}
	}
	return nil
}

// EmergencyTopUp executes a top-up immediately, bypassing the threshold
// check. Called by a monitor or an external alerting path.
func (o *Orchestrator) EmergencyTopUp(ctx context.Context, chainID uint64) error {
	return o.topUp(ctx, chainID, ReasonEmergencyTrigger)
}

// needsTopUp reports whether balance < target * threshold%.
func needsTopUp(pool *registry.Pool) bool {
	scaledBalance := new(big.Int).Mul(pool.Balance, big.NewInt(100))
	scaledTarget := new(big.Int).Mul(pool.TargetBalance, big.NewInt(topUpThresholdPct))
	return scaledBalance.Cmp(scaledTarget) < 0
}

func (o *Orchestrator) chainLock(chainID uint64) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	lock, ok := o.locks[chainID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[chainID] = lock
	}
	return lock
}

// topUp transfers the pool's shortfall from the vault and persists the new
// balance. Holding the per-chain lock, it re-reads the pool so a trigger that
// lost the race observes the already-restored balance and skips.
func (o *Orchestrator) topUp(ctx context.Context, chainID uint64, reason Reason) error {
	lock := o.chainLock(chainID)
	lock.Lock()
	defer lock.Unlock()

	pool, err := o.store.GetPool(ctx, chainID)
	if err != nil {
		metrics.TopUpsTotal.WithLabelValues(string(reason), "error").Inc()
		return fmt.Errorf("failed to load pool: %w", err)
	}

	amountNeeded := new(big.Int).Sub(pool.TargetBalance, pool.Balance)
	if amountNeeded.Sign() <= 0 {
		o.logger.Debug("Pool already at target, skipping top-up",
			zap.Uint64("chain_id", chainID), zap.String("reason", string(reason)))
		metrics.TopUpsTotal.WithLabelValues(string(reason), "skipped").Inc()
		return nil
	}

	ref, err := o.executor.Transfer(ctx, chainID, pool.VaultAddress, pool.GasAccountAddress, amountNeeded)
	if err != nil {
		metrics.TopUpsTotal.WithLabelValues(string(reason), "failed").Inc()
		return fmt.Errorf("vault transfer failed: %w", err)
	}

	if err := o.persistTopUp(ctx, pool, amountNeeded); err != nil {
		// The transfer went out; only the record is stale. This needs
		// operator attention, not a retry of the transfer.
		metrics.TopUpsTotal.WithLabelValues(string(reason), "persist_failed").Inc()
		return fmt.Errorf("top-up executed (ref %s) but pool record update failed: %w", ref, err)
	}

	o.ledger.Record(&registry.LedgerEntry{
		Type:    registry.EntryTypeRebalance,
		ChainID: chainID,
		Amount:  amountNeeded,
		Reason:  string(reason),
		TxHash:  ref,
	})

	amountNative, _ := new(big.Float).SetInt(amountNeeded).Float64()
	metrics.TopUpsTotal.WithLabelValues(string(reason), "success").Inc()
	metrics.TopUpAmount.WithLabelValues(strconv.FormatUint(chainID, 10)).Observe(amountNative / 1e18)

	o.logger.Info("Pool topped up",
		zap.Uint64("chain_id", chainID),
		zap.String("amount", registry.FormatNative(amountNeeded)),
		zap.String("reason", string(reason)),
		zap.String("transfer_ref", ref))
	return nil
}

// persistTopUp credits the transferred amount and restores NORMAL mode.
// The admin PAUSED override survives: funding a paused pool must not
// silently unpause it. Version races against a monitor write are resolved by
// reloading and re-applying the credit.
func (o *Orchestrator) persistTopUp(ctx context.Context, pool *registry.Pool, amount *big.Int) error {
	now := time.Now().UTC()
	for attempt := 0; ; attempt++ {
		pool.Balance = new(big.Int).Add(pool.Balance, amount)
		if pool.Mode != registry.ModePaused {
			pool.Mode = registry.ModeNormal
		}
		pool.LastTopUpAt = &now

		err := o.store.UpdatePool(ctx, pool)
		if err == nil {
			return nil
		}
		if !errors.Is(err, registrystore.ErrVersionConflict) || attempt == casRetries {
			return err
		}

		fresh, loadErr := o.store.GetPool(ctx, pool.ChainID)
		if loadErr != nil {
			return loadErr
		}
		pool = fresh
	}
}
