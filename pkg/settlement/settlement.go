// Package settlement reconciles issued fee quotes against the actual
// on-chain cost from a transaction receipt and records the outcome as an
// immutable SETTLEMENT ledger entry.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/internal/metrics"
	"github.com/chainsafe/paymaster-middleware/pkg/ledger"
	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

var (
	// ErrQuoteExpired is returned when settling a quote past its expiry; the
	// quote is marked DECLINED and no settlement entry is written.
	ErrQuoteExpired = errors.New("quote expired before settlement")
	// ErrQuoteConsumed is returned when a quote was already settled or
	// declined; quotes are consumed exactly once.
	ErrQuoteConsumed = errors.New("quote already consumed")
)

// Service settles quotes. Settlement only ever appends; prior ledger entries
// are never touched.
type Service struct {
	ledger *ledger.Recorder
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a settlement service.
func NewService(rec *ledger.Recorder, logger *zap.Logger) *Service {
	return &Service{ledger: rec, logger: logger, now: time.Now}
}

// Settle computes the final cost of a sponsored transaction and appends the
// SETTLEMENT entry:
//
//	finalCost = actualGasUsed * effectiveGasPrice
//	revenue   = the quote's surcharge (retained service margin)
//	refund    = max(0, totalMaxTokenIn - finalCost - surcharge)
//
// The final cost is recomputed from the receipt, never echoed from the
// quote's estimate: over-estimated gas comes back to the dapp as refund.
// A nil effectiveGasPrice falls back to the price the quote was issued at.
func (s *Service) Settle(ctx context.Context, quote *registry.FeeQuote, actualGasUsed uint64, effectiveGasPrice *big.Int, txHash string) (*registry.LedgerEntry, error) {
	switch quote.Status {
	case registry.QuoteStatusPending, registry.QuoteStatusExecuted:
	default:
		metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: quote %s is %s", ErrQuoteConsumed, quote.QuoteID, quote.Status)
	}

	if quote.Expired(s.now()) {
		quote.Status = registry.QuoteStatusDeclined
		metrics.SettlementsTotal.WithLabelValues("declined").Inc()
		s.logger.Warn("Declined settlement of expired quote",
			zap.String("quote_id", quote.QuoteID),
			zap.Time("expiry", quote.Expiry))
		return nil, fmt.Errorf("%w: quote %s", ErrQuoteExpired, quote.QuoteID)
	}

	price := effectiveGasPrice
	if price == nil {
		price = quote.GasPrice
	}
	finalCost := new(big.Int).Mul(new(big.Int).SetUint64(actualGasUsed), price)

	revenue := new(big.Int).Set(quote.Surcharge)
	refund := new(big.Int).Sub(quote.TotalMaxTokenIn, finalCost)
	refund.Sub(refund, quote.Surcharge)
	if refund.Sign() < 0 {
		refund.SetInt64(0)
	}

	entry := &registry.LedgerEntry{
		Type:          registry.EntryTypeSettlement,
		ChainID:       quote.ChainID,
		DAppID:        quote.DAppID,
		QuoteID:       quote.QuoteID,
		ActualGasUsed: actualGasUsed,
		FinalCost:     finalCost,
		Revenue:       revenue,
		Refund:        refund,
		TxHash:        txHash,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		metrics.SettlementsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to append settlement for quote %s: %w", quote.QuoteID, err)
	}

	quote.Status = registry.QuoteStatusSettled
	metrics.SettlementsTotal.WithLabelValues("settled").Inc()
	s.logger.Info("Quote settled",
		zap.String("quote_id", quote.QuoteID),
		zap.Uint64("actual_gas_used", actualGasUsed),
		zap.String("final_cost", finalCost.String()),
		zap.String("refund", refund.String()),
		zap.String("tx_hash", txHash))
	return entry, nil
}
