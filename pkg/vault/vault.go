// Package vault executes the on-chain transfers that fund paymaster pools.
package vault

import (
	"context"
	"math/big"
)

// Executor performs a native-token transfer from a chain's vault into its
// pool gas account and returns an opaque transaction reference. The control
// plane treats the executor as fire-and-confirm: a returned reference means
// the transfer was accepted for execution.
type Executor interface {
	Transfer(ctx context.Context, chainID uint64, vaultAddress, gasAccountAddress string, amount *big.Int) (string, error)
}
