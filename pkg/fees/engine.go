// Package fees implements the fee quoting engine: a stateless computation
// over gas estimates that produces time-bounded sponsorship price quotes.
package fees

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/internal/metrics"
	"github.com/chainsafe/paymaster-middleware/pkg/config"
	"github.com/chainsafe/paymaster-middleware/pkg/ledger"
	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

// ErrInvalidGasEstimate is returned for a zero gas estimate.
var ErrInvalidGasEstimate = errors.New("gas estimate must be positive")

// GasPriceSource supplies the current gas price for a chain. Implementations
// may fall back to a fixed per-chain default when the oracle is unavailable.
type GasPriceSource interface {
	GasPrice(ctx context.Context, chainID uint64) (*big.Int, error)
}

// RateOracle converts a native-denominated amount into the requested payment
// token.
type RateOracle interface {
	Convert(ctx context.Context, chainID uint64, tokenIn string, amountNative *big.Int) (*big.Int, error)
}

// NativeRate is the 1:1 passthrough used when quotes are paid in the native
// gas token. Non-native tokens need a real exchange-rate oracle behind the
// RateOracle seam; this implementation does not price them.
type NativeRate struct{}

// Convert returns the amount unchanged.
func (NativeRate) Convert(_ context.Context, _ uint64, _ string, amountNative *big.Int) (*big.Int, error) {
	return new(big.Int).Set(amountNative), nil
}

// QuoteRequest are the inputs to one quote.
type QuoteRequest struct {
	DAppID       string
	UserID       string
	ChainID      uint64
	TokenIn      string
	EstimatedGas uint64
}

// Engine generates fee quotes. It keeps no state between calls.
type Engine struct {
	prices GasPriceSource
	rates  RateOracle
	ledger *ledger.Recorder
	logger *zap.Logger

	bufferPct    int64
	surchargePct int64
	ttl          time.Duration
	slo          time.Duration
}

// NewEngine creates a fee quoting engine.
func NewEngine(prices GasPriceSource, rates RateOracle, rec *ledger.Recorder, cfg config.FeesConfig, logger *zap.Logger) *Engine {
	return &Engine{
		prices:       prices,
		rates:        rates,
		ledger:       rec,
		logger:       logger,
		bufferPct:    cfg.BufferPercent,
		surchargePct: cfg.SurchargePercent,
		ttl:          cfg.QuoteTTL,
		slo:          cfg.LatencySLO,
	}
}

// GenerateQuote prices the sponsorship of one transaction:
//
//	baseCost  = estimatedGas * gasPrice
//	buffer    = baseCost * bufferPercent / 100    (volatility headroom)
//	surcharge = baseCost * surchargePercent / 100 (service margin)
//	total     = baseCost + buffer + surcharge, converted into tokenIn
//
// The quote is PENDING and valid until IssuedAt + TTL.
func (e *Engine) GenerateQuote(ctx context.Context, req QuoteRequest) (*registry.FeeQuote, error) {
	start := time.Now()

	if req.EstimatedGas == 0 {
		return nil, ErrInvalidGasEstimate
	}

	gasPrice, err := e.prices.GasPrice(ctx, req.ChainID)
	if err != nil {
		metrics.QuotesTotal.WithLabelValues(strconv.FormatUint(req.ChainID, 10), "failed").Inc()
		return nil, fmt.Errorf("failed to get gas price for chain %d: %w", req.ChainID, err)
	}

	baseCost := new(big.Int).Mul(new(big.Int).SetUint64(req.EstimatedGas), gasPrice)
	buffer := percentOf(baseCost, e.bufferPct)
	surcharge := percentOf(baseCost, e.surchargePct)

	totalNative := new(big.Int).Add(baseCost, buffer)
	totalNative.Add(totalNative, surcharge)

	total, err := e.rates.Convert(ctx, req.ChainID, req.TokenIn, totalNative)
	if err != nil {
		metrics.QuotesTotal.WithLabelValues(strconv.FormatUint(req.ChainID, 10), "failed").Inc()
		return nil, fmt.Errorf("failed to convert quote into %s: %w", req.TokenIn, err)
	}

	issued := start.UTC()
	quote := &registry.FeeQuote{
		QuoteID:         uuid.NewString(),
		DAppID:          req.DAppID,
		UserID:          req.UserID,
		ChainID:         req.ChainID,
		TokenIn:         req.TokenIn,
		EstimatedGas:    req.EstimatedGas,
		GasPrice:        gasPrice,
		BaseCost:        baseCost,
		Buffer:          buffer,
		Surcharge:       surcharge,
		TotalMaxTokenIn: total,
		IssuedAt:        issued,
		Expiry:          issued.Add(e.ttl),
		Status:          registry.QuoteStatusPending,
	}

	latency := time.Since(start)
	metrics.QuoteLatency.Observe(latency.Seconds())
	metrics.QuotesTotal.WithLabelValues(strconv.FormatUint(req.ChainID, 10), "issued").Inc()
	if latency > e.slo {
		e.logger.Warn("Quote generation exceeded latency target",
			zap.String("quote_id", quote.QuoteID),
			zap.Duration("latency", latency),
			zap.Duration("target", e.slo))
	}

	e.ledger.Record(&registry.LedgerEntry{
		Type:    registry.EntryTypeQuote,
		ChainID: req.ChainID,
		DAppID:  req.DAppID,
		QuoteID: quote.QuoteID,
		Amount:  total,
		Reason:  fmt.Sprintf("token=%s latency_ms=%d", req.TokenIn, latency.Milliseconds()),
	})

	return quote, nil
}

// percentOf computes v * pct / 100 in integer arithmetic.
func percentOf(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}
