package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/pkg/config"
	"github.com/chainsafe/paymaster-middleware/pkg/ledger"
	"github.com/chainsafe/paymaster-middleware/pkg/registry"
	"github.com/chainsafe/paymaster-middleware/pkg/registrystore"
)

func seedPool(t *testing.T, store *registrystore.Memory, chainID uint64, balance, target int64) {
	t.Helper()
	err := store.CreateChain(context.Background(),
		&registry.ChainConfig{ChainID: chainID, Name: "test", Symbol: "ETH", RPCURL: "http://localhost:8545", Status: registry.ChainStatusActive},
		&registry.Pool{
			PoolID:            registry.PoolID(chainID),
			ChainID:           chainID,
			GasAccountAddress: "0xgas",
			VaultAddress:      "0xvault",
			Balance:           big.NewInt(balance),
			MinBalance:        big.NewInt(target / 5),
			TargetBalance:     big.NewInt(target),
			SpendRate24h:      big.NewInt(0),
			Mode:              registry.ModeNormal,
		})
	if err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}
}

func newTestOrchestrator(store Store, executor *MockExecutor, rec *ledger.Recorder) *Orchestrator {
	return New(store, executor, rec, config.RebalancerConfig{Interval: time.Minute}, zap.NewNop())
}

func TestRunScheduledRebalance_TopsUpBelowThreshold(t *testing.T) {
	store := registrystore.NewMemory()
	seedPool(t, store, 1, 30, 50) // 60% of target

	var transferred *big.Int
	executor := &MockExecutor{
		TransferFunc: func(ctx context.Context, chainID uint64, vaultAddr, gasAddr string, amount *big.Int) (string, error) {
			transferred = new(big.Int).Set(amount)
			return "0xtopup", nil
		},
	}
	rec := ledger.NewRecorder(store, zap.NewNop())
	o := newTestOrchestrator(store, executor, rec)

	if err := o.RunScheduledRebalance(context.Background()); err != nil {
		t.Fatalf("RunScheduledRebalance failed: %v", err)
	}

	if transferred == nil || transferred.Int64() != 20 {
		t.Fatalf("transferred = %v, want 20", transferred)
	}

	pool, err := store.GetPool(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetPool failed: %v", err)
	}
	if pool.Balance.Int64() != 50 {
		t.Errorf("balance = %d, want 50", pool.Balance.Int64())
	}
	if pool.Mode != registry.ModeNormal {
		t.Errorf("mode = %s, want NORMAL", pool.Mode)
	}
	if pool.LastTopUpAt == nil {
		t.Error("expected last top-up timestamp")
	}

	rec.Close()
	entries, err := store.ListLedgerEntries(context.Background(), registry.EntryTypeRebalance, 10)
	if err != nil {
		t.Fatalf("ListLedgerEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one REBALANCE entry, got %d", len(entries))
	}
	if entries[0].Reason != string(ReasonBatchScheduler) {
		t.Errorf("entry reason = %s, want %s", entries[0].Reason, ReasonBatchScheduler)
	}
	if entries[0].Amount.Int64() != 20 {
		t.Errorf("entry amount = %s, want 20", entries[0].Amount)
	}
}

func TestRunScheduledRebalance_SkipsAtThreshold(t *testing.T) {
	store := registrystore.NewMemory()
	seedPool(t, store, 1, 40, 50) // exactly 80% of target

	transfers := 0
	executor := &MockExecutor{
		TransferFunc: func(ctx context.Context, chainID uint64, vaultAddr, gasAddr string, amount *big.Int) (string, error) {
			transfers++
			return "0xtopup", nil
		},
	}
	rec := ledger.NewRecorder(store, zap.NewNop())
	o := newTestOrchestrator(store, executor, rec)

	if err := o.RunScheduledRebalance(context.Background()); err != nil {
		t.Fatalf("RunScheduledRebalance failed: %v", err)
	}
	if transfers != 0 {
		t.Errorf("pool at the threshold must not be topped up, got %d transfers", transfers)
	}
}

func TestEmergencyTopUp_BypassesThreshold(t *testing.T) {
	store := registrystore.NewMemory()
	seedPool(t, store, 1, 45, 50) // 90%: scheduled run would skip this

	var transferred *big.Int
	executor := &MockExecutor{
		TransferFunc: func(ctx context.Context, chainID uint64, vaultAddr, gasAddr string, amount *big.Int) (string, error) {
			transferred = new(big.Int).Set(amount)
			return "0xemergency", nil
		},
	}
	rec := ledger.NewRecorder(store, zap.NewNop())
	o := newTestOrchestrator(store, executor, rec)

	if err := o.EmergencyTopUp(context.Background(), 1); err != nil {
		t.Fatalf("EmergencyTopUp failed: %v", err)
	}
	if transferred == nil || transferred.Int64() != 5 {
		t.Fatalf("transferred = %v, want 5", transferred)
	}
}

func TestEmergencyTopUp_SkipsFullPool(t *testing.T) {
	store := registrystore.NewMemory()
	seedPool(t, store, 1, 50, 50)

	transfers := 0
	executor := &MockExecutor{
		TransferFunc: func(ctx context.Context, chainID uint64, vaultAddr, gasAddr string, amount *big.Int) (string, error) {
			transfers++
			return "0xref", nil
		},
	}
	rec := ledger.NewRecorder(store, zap.NewNop())
	o := newTestOrchestrator(store, executor, rec)

	if err := o.EmergencyTopUp(context.Background(), 1); err != nil {
		t.Fatalf("EmergencyTopUp failed: %v", err)
	}
	if transfers != 0 {
		t.Errorf("full pool must not be topped up, got %d transfers", transfers)
	}
}

func TestTopUp_ConcurrentTriggersTransferOnce(t *testing.T) {
	store := registrystore.NewMemory()
	seedPool(t, store, 1, 10, 50)

	var transfers int32
	executor := &MockExecutor{
		TransferFunc: func(ctx context.Context, chainID uint64, vaultAddr, gasAddr string, amount *big.Int) (string, error) {
			atomic.AddInt32(&transfers, 1)
			return "0xref", nil
		},
	}
	rec := ledger.NewRecorder(store, zap.NewNop())
	o := newTestOrchestrator(store, executor, rec)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.EmergencyTopUp(context.Background(), 1); err != nil {
				t.Errorf("EmergencyTopUp failed: %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.RunScheduledRebalance(context.Background()); err != nil {
			t.Errorf("RunScheduledRebalance failed: %v", err)
		}
	}()
	wg.Wait()

	if got := atomic.LoadInt32(&transfers); got != 1 {
		t.Errorf("expected exactly one vault transfer, got %d", got)
	}
	pool, _ := store.GetPool(context.Background(), 1)
	if pool.Balance.Int64() != 50 {
		t.Errorf("balance = %d, want 50", pool.Balance.Int64())
	}
}

func TestTopUp_TransferFailureLeavesPoolUntouched(t *testing.T) {
	store := registrystore.NewMemory()
	seedPool(t, store, 1, 10, 50)

	executor := &MockExecutor{
		TransferFunc: func(ctx context.Context, chainID uint64, vaultAddr, gasAddr string, amount *big.Int) (string, error) {
			return "", errors.New("vault unavailable")
		},
	}
	rec := ledger.NewRecorder(store, zap.NewNop())
	o := newTestOrchestrator(store, executor, rec)

	if err := o.EmergencyTopUp(context.Background(), 1); err == nil {
		t.Fatal("expected error when the vault transfer fails")
	}

	pool, _ := store.GetPool(context.Background(), 1)
	if pool.Balance.Int64() != 10 {
		t.Errorf("failed transfer must not change the balance, got %d", pool.Balance.Int64())
	}
	if pool.LastTopUpAt != nil {
		t.Error("failed transfer must not set last top-up timestamp")
	}
}

func TestTopUp_PausedPoolStaysPaused(t *testing.T) {
	store := registrystore.NewMemory()
	seedPool(t, store, 1, 10, 50)

	pool, _ := store.GetPool(context.Background(), 1)
	pool.Mode = registry.ModePaused
	if err := store.UpdatePool(context.Background(), pool); err != nil {
		t.Fatalf("UpdatePool failed: %v", err)
	}

	rec := ledger.NewRecorder(store, zap.NewNop())
	o := newTestOrchestrator(store, &MockExecutor{}, rec)

	if err := o.EmergencyTopUp(context.Background(), 1); err != nil {
		t.Fatalf("EmergencyTopUp failed: %v", err)
	}

	pool, _ = store.GetPool(context.Background(), 1)
	if pool.Balance.Int64() != 50 {
		t.Errorf("balance = %d, want 50", pool.Balance.Int64())
	}
	if pool.Mode != registry.ModePaused {
		t.Errorf("funding a paused pool must not unpause it, got %s", pool.Mode)
	}
}

func TestTopUp_VersionConflictReappliesCredit(t *testing.T) {
	basePool := func(version int64) *registry.Pool {
		return &registry.Pool{
			PoolID:            registry.PoolID(1),
			ChainID:           1,
			GasAccountAddress: "0xgas",
			VaultAddress:      "0xvault",
			Balance:           big.NewInt(10),
			MinBalance:        big.NewInt(10),
			TargetBalance:     big.NewInt(50),
			Mode:              registry.ModeNormal,
			Version:           version,
		}
	}

	updates := 0
	var final *registry.Pool
	store := &MockStore{
		GetPoolFunc: func(ctx context.Context, chainID uint64) (*registry.Pool, error) {
			return basePool(int64(updates)), nil
		},
		UpdatePoolFunc: func(ctx context.Context, pool *registry.Pool) error {
			updates++
			if updates == 1 {
				return registrystore.ErrVersionConflict
			}
			final = pool
			return nil
		},
	}

	mem := registrystore.NewMemory()
	rec := ledger.NewRecorder(mem, zap.NewNop())
	o := newTestOrchestrator(store, &MockExecutor{}, rec)

	if err := o.EmergencyTopUp(context.Background(), 1); err != nil {
		t.Fatalf("EmergencyTopUp failed: %v", err)
	}
	if updates != 2 {
		t.Fatalf("expected retry after version conflict, got %d updates", updates)
	}
	if final.Balance.Int64() != 50 {
		t.Errorf("credit applied %d, want exactly one credit to 50", final.Balance.Int64())
	}
}
