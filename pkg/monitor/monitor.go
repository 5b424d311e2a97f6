// Package monitor implements the per-chain pool health monitor. Each monitor
// owns one chain's pool mode state machine: it evaluates the health
// predicates on a fixed period and persists mode transitions.
package monitor

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
)

// ErrNotPaused is returned by Resume when the pool is not in PAUSED mode.
var ErrNotPaused = errors.New("pool is not paused")

// Store is the registry surface the monitor needs.
type Store interface {
	GetPool(ctx context.Context, chainID uint64) (*registry.Pool, error)
	UpdatePool(ctx context.Context, pool *registry.Pool) error
}

// RPC is the chain endpoint surface the monitor needs.
type RPC interface {
	CheckHealth(ctx context.Context) error
	GasPrice(ctx context.Context) (*big.Int, error)
}

// EmergencyFunc requests an immediate pool top-up, bypassing the scheduled
// rebalance threshold. Wired to the orchestrator's emergency entry point.
type EmergencyFunc func(ctx context.Context, chainID uint64)

// Monitor runs the health check loop for one chain.
type Monitor struct {
	chainID   uint64
	store     Store
	rpc       RPC
	ledger    *ledger.Recorder
	emergency EmergencyFunc
	logger    *zap.Logger

	interval time.Duration
	window   *gasWindow

	// mode is the in-memory current mode; persistence is skipped when a
	// check resolves to the same mode again.
	mode registry.Mode

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures optional monitor collaborators.
type Option func(*Monitor)

// WithEmergencyTrigger wires the emergency top-up path.
func WithEmergencyTrigger(fn EmergencyFunc) Option {
	return func(m *Monitor) { m.emergency = fn }
}

// WithLedger enables audit entries for admin pause/resume.
func WithLedger(rec *ledger.Recorder) Option {
	return func(m *Monitor) { m.ledger = rec }
}

// New creates a monitor for one chain.
func New(chainID uint64, store Store, rpc RPC, cfg config.MonitorConfig, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		chainID:  chainID,
		store:    store,
		rpc:      rpc,
		logger:   logger.With(zap.Uint64("chain_id", chainID)),
		interval: cfg.CheckInterval,
		window:   newGasWindow(cfg.GasSampleWindow, cfg.MaxGasDeviationPct),
		mode:     registry.ModeInit,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs an immediate health check and then re-checks on the configured
// period until Stop is called.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.logger.Info("Pool health monitor started", zap.Duration("interval", m.interval))
		m.check()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.check()
			case <-m.stopCh:
				m.logger.Info("Pool health monitor stopped")
				return
			}
		}
	}()
}

// Stop cancels future checks. The in-flight check, if any, completes.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()
	if err := m.RunHealthCheck(ctx); err != nil {
		metrics.HealthChecks.WithLabelValues(m.chainLabel(), "error").Inc()
		m.logger.Error("Health check cycle abandoned", zap.Error(err))
	}
}

// RunHealthCheck performs one health check cycle. Transient store failures
// abandon the cycle without touching the persisted mode; stale data must
// never drive a transition.
func (m *Monitor) RunHealthCheck(ctx context.Context) error {
	pool, err := m.store.GetPool(ctx, m.chainID)
	if err != nil {
		if errors.Is(err, registrystore.ErrPoolNotFound) {
			m.logger.Warn("No pool registered for chain yet, skipping health check")
			return nil
		}
		return fmt.Errorf("failed to load pool: %w", err)
	}

	rpcOK := true
	if err := m.rpc.CheckHealth(ctx); err != nil {
		rpcOK = false
		m.logger.Warn("Chain RPC health probe failed", zap.Error(err))
	}

	gasOK := true
	if rpcOK {
		price, err := m.rpc.GasPrice(ctx)
		if err != nil {
			// Endpoint answered the probe but not the price query; abandon
			// rather than judging stability on missing data.
			return fmt.Errorf("failed to query gas price: %w", err)
		}
		m.window.observe(price)
		gasOK = m.window.stable()
		if !gasOK {
			m.logger.Warn("Gas price unstable", zap.String("latest_wei", price.String()))
		}
	}

	balanceOK := pool.Balance.Cmp(pool.MinBalance) > 0
	if !balanceOK {
		m.logger.Warn("Pool balance at or below minimum",
			zap.String("balance", registry.FormatNative(pool.Balance)),
			zap.String("min_balance", registry.FormatNative(pool.MinBalance)))
		m.maybeTriggerEmergency(pool)
	}

	healthy := rpcOK && gasOK && balanceOK
	target := Next(pool.Mode, healthy)

	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	metrics.HealthChecks.WithLabelValues(m.chainLabel(), result).Inc()
	m.observeGauges(pool, target)

	if target == m.mode {
		return nil
	}

	m.logger.Info("Pool mode transition",
		zap.String("from", string(m.mode)),
		zap.String("to", string(target)),
		zap.Bool("rpc_ok", rpcOK),
		zap.Bool("gas_ok", gasOK),
		zap.Bool("balance_ok", balanceOK))

	now := time.Now().UTC()
	pool.Mode = target
	pool.LastHealthCheck = &now
	if err := m.store.UpdatePool(ctx, pool); err != nil {
		// m.mode stays put so the next tick retries the write instead of
		// hitting the no-change skip above.
		if errors.Is(err, registrystore.ErrVersionConflict) {
			// A concurrent top-up won the write; the next tick re-evaluates
			// against the fresh record.
			m.logger.Warn("Pool mode write lost version race, retrying next tick")
			return nil
		}
		return fmt.Errorf("failed to persist pool mode: %w", err)
	}
	m.mode = target
	return nil
}

// maybeTriggerEmergency requests an immediate top-up when the balance is
// critically low (below half the configured minimum). The orchestrator's
// per-chain lock makes repeated triggers harmless.
func (m *Monitor) maybeTriggerEmergency(pool *registry.Pool) {
	if m.emergency == nil {
		return
	}
	critical := new(big.Int).Mul(pool.Balance, big.NewInt(2)).Cmp(pool.MinBalance) < 0
	if !critical {
		return
	}
	m.logger.Warn("Pool balance critically low, requesting emergency top-up")
	go m.emergency(context.Background(), m.chainID)
}

// Pause sets the admin PAUSED override. Health checks never clear it.
func (m *Monitor) Pause(ctx context.Context, reason string) error {
	pool, err := m.store.GetPool(ctx, m.chainID)
	if err != nil {
		return fmt.Errorf("failed to load pool: %w", err)
	}
	pool.Mode = registry.ModePaused
	if err := m.store.UpdatePool(ctx, pool); err != nil {
		return fmt.Errorf("failed to pause pool: %w", err)
	}
	m.mode = registry.ModePaused
	m.audit("POOL_PAUSED", reason)
	m.logger.Info("Pool paused by admin", zap.String("reason", reason))
	return nil
}

// Resume clears the PAUSED override, returning the pool to INIT; the next
// health check drives it to NORMAL or SAFE_MODE.
func (m *Monitor) Resume(ctx context.Context, reason string) error {
	pool, err := m.store.GetPool(ctx, m.chainID)
	if err != nil {
		return fmt.Errorf("failed to load pool: %w", err)
	}
	if pool.Mode != registry.ModePaused {
		return ErrNotPaused
	}
	pool.Mode = registry.ModeInit
	if err := m.store.UpdatePool(ctx, pool); err != nil {
		return fmt.Errorf("failed to resume pool: %w", err)
	}
	m.mode = registry.ModeInit
	m.audit("POOL_RESUMED", reason)
	m.logger.Info("Pool resumed by admin", zap.String("reason", reason))
	return nil
}

func (m *Monitor) audit(action, reason string) {
	if m.ledger == nil {
		return
	}
	m.ledger.Record(&registry.LedgerEntry{
		Type:    registry.EntryTypeAudit,
		ChainID: m.chainID,
		Reason:  action + ": " + reason,
	})
}

func (m *Monitor) chainLabel() string {
	return strconv.FormatUint(m.chainID, 10)
}

func (m *Monitor) observeGauges(pool *registry.Pool, target registry.Mode) {
	balance, _ := new(big.Float).SetInt(pool.Balance).Float64()
	metrics.PoolBalance.WithLabelValues(m.chainLabel()).Set(balance / 1e18)
	for _, mode := range []registry.Mode{
		registry.ModeInit, registry.ModeNormal, registry.ModeSafeMode,
		registry.ModeThrottled, registry.ModePaused, registry.ModeRecovery,
	} {
		v := 0.0
		if mode == target {
			v = 1.0
		}
		metrics.PoolMode.WithLabelValues(m.chainLabel(), string(mode)).Set(v)
	}
}
