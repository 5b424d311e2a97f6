// Package paymasterd implements app.Runner for the paymaster daemon.
package paymasterd

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/pkg/app/httpserver"
	"github.com/chainsafe/paymaster-middleware/pkg/chainrpc"
	"github.com/chainsafe/paymaster-middleware/pkg/config"
	"github.com/chainsafe/paymaster-middleware/pkg/dapp"
	"github.com/chainsafe/paymaster-middleware/pkg/fees"
	"github.com/chainsafe/paymaster-middleware/pkg/ledger"
	"github.com/chainsafe/paymaster-middleware/pkg/pgutil"
	"github.com/chainsafe/paymaster-middleware/pkg/registry"
	"github.com/chainsafe/paymaster-middleware/pkg/registrystore"
	"github.com/chainsafe/paymaster-middleware/pkg/settlement"
	"github.com/chainsafe/paymaster-middleware/pkg/supervisor"
	"github.com/chainsafe/paymaster-middleware/pkg/vault"
)

const (
	defaultHTTPMiddlewareTimeout = 60 * time.Second
	defaultHTTPReadTimeout       = 15 * time.Second
	defaultHTTPWriteTimeout      = 15 * time.Second
	defaultHTTPIdleTimeout       = 60 * time.Second

	defaultLimitForListLedger = 100
)

// Server holds configuration for the paymaster daemon process.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new paymaster daemon Server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run starts the supervisor loops and the operational HTTP server.
// It blocks until an OS shutdown signal is received or a fatal server error
// occurs.
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("nil config")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting paymaster control plane")

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect registry db: %w", err)
	}
	defer func() { _ = db.Close() }()
	logger.Info("Database connection established")

	store := registrystore.NewStore(db)

	rpcs, err := chainrpc.DialAll(cfg.Chains, logger)
	if err != nil {
		return fmt.Errorf("dial chain rpc endpoints: %w", err)
	}
	defer rpcs.Close()

	executor, err := vault.NewEthExecutor(cfg.Vault, rpcs, logger)
	if err != nil {
		return fmt.Errorf("initialize vault executor: %w", err)
	}

	rec := ledger.NewRecorder(store, logger)
	defer rec.Close()

	if err := seedChains(ctx, store, cfg.Chains, logger); err != nil {
		return fmt.Errorf("seed chain registry: %w", err)
	}

	keys, err := dapp.NewKeyIssuer(cfg.Policy.APIKeySecret)
	if err != nil {
		return fmt.Errorf("initialize api key issuer: %w", err)
	}
	gatekeeper, err := dapp.NewService(store, rec, keys, cfg.Policy, logger)
	if err != nil {
		return fmt.Errorf("initialize gatekeeper: %w", err)
	}

	quotes := fees.NewEngine(rpcs, fees.NativeRate{}, rec, cfg.Fees, logger)
	settler := settlement.NewService(rec, logger)

	sup, err := supervisor.New(store, rpcs, executor, rec, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize supervisor: %w", err)
	}
	sup.Start()
	defer sup.Stop()

	router := s.newRouter(&handlers{
		db:         db,
		store:      store,
		rpcs:       rpcs,
		gatekeeper: gatekeeper,
		quotes:     quotes,
		settler:    settler,
		sup:        sup,
		pending:    newQuoteCache(),
		logger:     logger,
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  defaultHTTPReadTimeout,
		WriteTimeout: defaultHTTPWriteTimeout,
		IdleTimeout:  defaultHTTPIdleTimeout,
	}

	return httpserver.ServeAndWait(ctx, logger, httpServer, cfg.Shutdown.Timeout)
}

// seedChains registers configured chains and their pools on first start.
// Already-registered chains are left untouched.
func seedChains(ctx context.Context, store registrystore.Store, chains []config.ChainConfig, logger *zap.Logger) error {
	for _, chain := range chains {
		minBalance, err := registry.ParseNative(chain.MinBalance)
		if err != nil {
			return fmt.Errorf("chain %d min_balance: %w", chain.ChainID, err)
		}
		targetBalance, err := registry.ParseNative(chain.TargetBalance)
		if err != nil {
			return fmt.Errorf("chain %d target_balance: %w", chain.ChainID, err)
		}

		cfg := &registry.ChainConfig{
			ChainID:     chain.ChainID,
			Name:        chain.Name,
			Symbol:      chain.Symbol,
			RPCURL:      chain.RPCURL,
			ExplorerURL: chain.ExplorerURL,
			Status:      registry.ChainStatus(chain.Status),
			CreatedAt:   time.Now().UTC(),
		}
		pool := &registry.Pool{
			PoolID:            registry.PoolID(chain.ChainID),
			ChainID:           chain.ChainID,
			GasAccountAddress: chain.GasAccountAddress,
			VaultAddress:      chain.VaultAddress,
			Balance:           big.NewInt(0), // funded by the first rebalance cycle
			MinBalance:        minBalance,
			TargetBalance:     targetBalance,
			SpendRate24h:      big.NewInt(0),
			Mode:              registry.ModeInit,
		}
		if err := pool.Validate(); err != nil {
			return err
		}

		err = store.CreateChain(ctx, cfg, pool)
		if errors.Is(err, registrystore.ErrChainExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("register chain %d: %w", chain.ChainID, err)
		}
		logger.Info("Registered chain",
			zap.Uint64("chain_id", chain.ChainID),
			zap.String("name", chain.Name))
	}
	return nil
}
