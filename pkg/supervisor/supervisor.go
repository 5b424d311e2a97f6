// Package supervisor owns the control plane's periodic tasks: one pool health
// monitor per chain and the rebalancing orchestrator. Callers start and stop
// them as a single unit.
package supervisor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/pkg/chainrpc"
	"github.com/chainsafe/paymaster-middleware/pkg/config"
	"github.com/chainsafe/paymaster-middleware/pkg/ledger"
	"github.com/chainsafe/paymaster-middleware/pkg/monitor"
	"github.com/chainsafe/paymaster-middleware/pkg/orchestrator"
	"github.com/chainsafe/paymaster-middleware/pkg/registrystore"
	"github.com/chainsafe/paymaster-middleware/pkg/vault"
)

// Supervisor bundles the per-chain monitors and the orchestrator.
type Supervisor struct {
	monitors map[uint64]*monitor.Monitor
	orch     *orchestrator.Orchestrator
	logger   *zap.Logger
}

// New builds the task set for the configured chains. Monitors report
// critically low balances to the orchestrator's emergency top-up path.
func New(store registrystore.Store, rpcs *chainrpc.Set, executor vault.Executor, rec *ledger.Recorder, cfg *config.Config, logger *zap.Logger) (*Supervisor, error) {
	orch := orchestrator.New(store, executor, rec, cfg.Rebalancer, logger)

	emergency := func(ctx context.Context, chainID uint64) {
		if err := orch.EmergencyTopUp(ctx, chainID); err != nil {
			logger.Error("Emergency top-up failed",
				zap.Uint64("chain_id", chainID),
				zap.Error(err))
		}
	}

	monitors := make(map[uint64]*monitor.Monitor, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		rpc, err := rpcs.Get(chain.ChainID)
		if err != nil {
			return nil, fmt.Errorf("no rpc client for chain %d: %w", chain.ChainID, err)
		}
		monitors[chain.ChainID] = monitor.New(chain.ChainID, store, rpc, cfg.Monitor, logger,
			monitor.WithEmergencyTrigger(emergency),
			monitor.WithLedger(rec))
	}

	return &Supervisor{
		monitors: monitors,
		orch:     orch,
		logger:   logger,
	}, nil
}

// Start launches the orchestrator and every chain monitor.
func (s *Supervisor) Start() {
	s.orch.Start()
	for _, m := range s.monitors {
		m.Start()
	}
	s.logger.Info("Supervisor started", zap.Int("monitors", len(s.monitors)))
}

// Stop halts all loops and waits for in-flight ticks to finish.
func (s *Supervisor) Stop() {
	for _, m := range s.monitors {
		m.Stop()
	}
	s.orch.Stop()
	s.logger.Info("Supervisor stopped")
}

// Monitor returns the health monitor for a chain, for admin pause/resume.
func (s *Supervisor) Monitor(chainID uint64) (*monitor.Monitor, bool) {
	m, ok := s.monitors[chainID]
	return m, ok
}

// Orchestrator returns the rebalancing orchestrator.
func (s *Supervisor) Orchestrator() *orchestrator.Orchestrator {
	return s.orch
}
