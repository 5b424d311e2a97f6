package vault

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/pkg/chainrpc"
	"github.com/chainsafe/paymaster-middleware/pkg/config"
)

const nativeTransferGasLimit = 21000

// EthExecutor signs and submits native-value transactions with the vault
// operator key. One executor serves all chains through the shared RPC set.
type EthExecutor struct {
	rpc      *chainrpc.Set
	key      *ecdsa.PrivateKey
	operator common.Address
	timeout  time.Duration
	logger   *zap.Logger
}

// NewEthExecutor creates a transfer executor from the vault configuration.
func NewEthExecutor(cfg config.VaultConfig, rpc *chainrpc.Set, logger *zap.Logger) (*EthExecutor, error) {
	key, err := crypto.HexToECDSA(cfg.OperatorPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load vault operator key: %w", err)
	}
	operator := crypto.PubkeyToAddress(key.PublicKey)

	logger.Info("Vault transfer executor initialized",
		zap.String("operator", operator.Hex()))

	return &EthExecutor{
		rpc:      rpc,
		key:      key,
		operator: operator,
		timeout:  cfg.TransferTimeout,
		logger:   logger,
	}, nil
}

// Transfer submits a signed native-value transaction funding the pool's gas
// account and returns the transaction hash as reference.
func (e *EthExecutor) Transfer(ctx context.Context, chainID uint64, vaultAddress, gasAccountAddress string, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("transfer amount must be positive")
	}

	client, err := e.rpc.Get(chainID)
	if err != nil {
		return "", err
	}
	backend := client.Backend()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	nonce, err := backend.PendingNonceAt(ctx, e.operator)
	if err != nil {
		return "", fmt.Errorf("failed to get operator nonce on chain %d: %w", chainID, err)
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price on chain %d: %w", chainID, err)
	}

	to := common.HexToAddress(gasAccountAddress)
	tx := types.NewTransaction(nonce, to, amount, nativeTransferGasLimit, gasPrice, nil)

	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	signed, err := types.SignTx(tx, signer, e.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transfer: %w", err)
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to submit transfer on chain %d: %w", chainID, err)
	}

	hash := signed.Hash().Hex()
	e.logger.Info("Vault transfer submitted",
		zap.Uint64("chain_id", chainID),
		zap.String("vault", vaultAddress),
		zap.String("gas_account", gasAccountAddress),
		zap.String("amount_wei", amount.String()),
		zap.String("tx_hash", hash))

	return hash, nil
}
