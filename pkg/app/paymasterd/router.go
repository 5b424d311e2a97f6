package paymasterd

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/pkg/chainrpc"
	"github.com/chainsafe/paymaster-middleware/pkg/dapp"
	"github.com/chainsafe/paymaster-middleware/pkg/fees"
	"github.com/chainsafe/paymaster-middleware/pkg/registry"
	"github.com/chainsafe/paymaster-middleware/pkg/registrystore"
	"github.com/chainsafe/paymaster-middleware/pkg/settlement"
	"github.com/chainsafe/paymaster-middleware/pkg/supervisor"
)

const healthCheckTimeout = 5 * time.Second

// apiKeyHeader carries the dapp instance API key on data-plane requests.
const apiKeyHeader = "X-Api-Key"

type handlers struct {
	db         *bun.DB
	store      registrystore.Store
	rpcs       *chainrpc.Set
	gatekeeper *dapp.Service
	quotes     *fees.Engine
	settler    *settlement.Service
	sup        *supervisor.Supervisor
	pending    *quoteCache
	logger     *zap.Logger
}

func (s *Server) newRouter(h *handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultHTTPMiddlewareTimeout))

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/dapps", h.handleRegisterDApp)
		r.Post("/dapps/{id}/instances", h.handleCreateInstance)
		r.Post("/instances/{id}/deposits", h.handleDeposit)

		r.Post("/quotes", h.handleQuote)
		r.Post("/settlements", h.handleSettle)

		r.Post("/chains/{chainID}/pause", h.handlePause)
		r.Post("/chains/{chainID}/resume", h.handleResume)

		r.Get("/ledger", h.handleListLedger)
	})

	return r
}

// handleHealth reports the daemon's dependency health: the registry database
// and every chain RPC endpoint.
func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	for _, chainID := range h.rpcs.ChainIDs() {
		key := "chain-" + strconv.FormatUint(chainID, 10)
		if err := h.rpcs.CheckHealth(ctx, chainID); err != nil {
			checks[key] = err.Error()
			healthy = false
		} else {
			checks[key] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, status, map[string]any{"healthy": healthy, "checks": checks})
}

func (h *handlers) handleRegisterDApp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string `json:"owner_id"`
		Name    string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := h.gatekeeper.RegisterDApp(r.Context(), req.OwnerID, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, map[string]any{
		"dapp_id":  d.DAppID,
		"owner_id": d.OwnerID,
		"name":     d.Name,
		"status":   d.Status,
	})
}

func (h *handlers) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChainID uint64 `json:"chain_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	inst, apiKey, err := h.gatekeeper.CreateInstance(r.Context(), chi.URLParam(r, "id"), req.ChainID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, map[string]any{
		"instance_id": inst.InstanceID,
		"dapp_id":     inst.DAppID,
		"chain_id":    inst.ChainID,
		// shown exactly once; only the digest is stored
		"api_key": apiKey,
	})
}

func (h *handlers) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := registry.ParseAmount(req.Amount)
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}

	inst, err := h.gatekeeper.Deposit(r.Context(), chi.URLParam(r, "id"), amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"instance_id": inst.InstanceID,
		"balance":     registry.FormatAmount(inst.Balance),
	})
}

func (h *handlers) handleQuote(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req struct {
		UserID       string `json:"user_id"`
		TokenIn      string `json:"token_in"`
		EstimatedGas uint64 `json:"estimated_gas"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	quote, err := h.quotes.GenerateQuote(r.Context(), fees.QuoteRequest{
		DAppID:       inst.DAppID,
		UserID:       req.UserID,
		ChainID:      inst.ChainID,
		TokenIn:      req.TokenIn,
		EstimatedGas: req.EstimatedGas,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	admitted, err := h.gatekeeper.ValidateRequest(r.Context(), inst.InstanceID, req.UserID, quote.TotalMaxTokenIn)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !admitted {
		http.Error(w, "sponsorship denied by policy", http.StatusForbidden)
		return
	}

	h.pending.put(inst.InstanceID, quote)
	writeJSON(w, h.logger, http.StatusCreated, quoteResponse(quote))
}

func (h *handlers) handleSettle(w http.ResponseWriter, r *http.Request) {
	inst, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req struct {
		QuoteID           string `json:"quote_id"`
		ActualGasUsed     uint64 `json:"actual_gas_used"`
		EffectiveGasPrice string `json:"effective_gas_price"`
		TxHash            string `json:"tx_hash"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	var effectivePrice *big.Int
	if req.EffectiveGasPrice != "" {
		p, err := registry.ParseAmount(req.EffectiveGasPrice)
		if err != nil {
			http.Error(w, "invalid effective gas price", http.StatusBadRequest)
			return
		}
		effectivePrice = p
	}

	quote, ok := h.pending.take(inst.InstanceID, req.QuoteID)
	if !ok {
		http.Error(w, "unknown quote", http.StatusNotFound)
		return
	}

	entry, err := h.settler.Settle(r.Context(), quote, req.ActualGasUsed, effectivePrice, req.TxHash)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.gatekeeper.RecordSponsorship(r.Context(), inst.InstanceID, entry.FinalCost); err != nil {
		h.logger.Error("Failed to record sponsorship",
			zap.String("instance_id", inst.InstanceID),
			zap.String("quote_id", quote.QuoteID),
			zap.Error(err))
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"entry_id":   entry.EntryID,
		"quote_id":   entry.QuoteID,
		"final_cost": registry.FormatAmount(entry.FinalCost),
		"revenue":    registry.FormatAmount(entry.Revenue),
		"refund":     registry.FormatAmount(entry.Refund),
		"tx_hash":    entry.TxHash,
	})
}

func (h *handlers) handlePause(w http.ResponseWriter, r *http.Request) {
	h.adminMode(w, r, func(ctx context.Context, m monitorAdmin, reason string) error {
		return m.Pause(ctx, reason)
	})
}

func (h *handlers) handleResume(w http.ResponseWriter, r *http.Request) {
	h.adminMode(w, r, func(ctx context.Context, m monitorAdmin, reason string) error {
		return m.Resume(ctx, reason)
	})
}

type monitorAdmin interface {
	Pause(ctx context.Context, reason string) error
	Resume(ctx context.Context, reason string) error
}

func (h *handlers) adminMode(w http.ResponseWriter, r *http.Request, op func(context.Context, monitorAdmin, string) error) {
	chainID, err := strconv.ParseUint(chi.URLParam(r, "chainID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid chain id", http.StatusBadRequest)
		return
	}
	m, ok := h.sup.Monitor(chainID)
	if !ok {
		http.Error(w, "unknown chain", http.StatusNotFound)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := op(r.Context(), m, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"chain_id": chainID})
}

func (h *handlers) handleListLedger(w http.ResponseWriter, r *http.Request) {
	entryType := registry.EntryType(r.URL.Query().Get("type"))
	limit := defaultLimitForListLedger
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.store.ListLedgerEntries(r.Context(), entryType, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerResponse(e))
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"entries": out})
}

func (h *handlers) authenticate(w http.ResponseWriter, r *http.Request) (*registry.Instance, bool) {
	apiKey := r.Header.Get(apiKeyHeader)
	if apiKey == "" {
		http.Error(w, "missing api key", http.StatusUnauthorized)
		return nil, false
	}
	inst, err := h.gatekeeper.AuthenticateKey(r.Context(), apiKey)
	if err != nil {
		if errors.Is(err, dapp.ErrInvalidAPIKey) {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return nil, false
		}
		h.writeError(w, err)
		return nil, false
	}
	return inst, true
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registrystore.ErrChainNotFound),
		errors.Is(err, registrystore.ErrDAppNotFound),
		errors.Is(err, registrystore.ErrInstanceNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, registrystore.ErrChainExists),
		errors.Is(err, dapp.ErrInstanceExists),
		errors.Is(err, settlement.ErrQuoteConsumed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, dapp.ErrDAppDenylisted),
		errors.Is(err, dapp.ErrDAppNotActive):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, settlement.ErrQuoteExpired):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, dapp.ErrInvalidAmount),
		errors.Is(err, fees.ErrInvalidGasEstimate):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("Request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func quoteResponse(q *registry.FeeQuote) map[string]any {
	return map[string]any{
		"quote_id":           q.QuoteID,
		"chain_id":           q.ChainID,
		"token_in":           q.TokenIn,
		"estimated_gas":      q.EstimatedGas,
		"gas_price":          registry.FormatAmount(q.GasPrice),
		"base_cost":          registry.FormatAmount(q.BaseCost),
		"buffer":             registry.FormatAmount(q.Buffer),
		"surcharge":          registry.FormatAmount(q.Surcharge),
		"total_max_token_in": registry.FormatAmount(q.TotalMaxTokenIn),
		"issued_at":          q.IssuedAt,
		"expiry":             q.Expiry,
	}
}

func ledgerResponse(e *registry.LedgerEntry) map[string]any {
	out := map[string]any{
		"entry_id":   e.EntryID,
		"type":       e.Type,
		"chain_id":   e.ChainID,
		"dapp_id":    e.DAppID,
		"quote_id":   e.QuoteID,
		"reason":     e.Reason,
		"tx_hash":    e.TxHash,
		"created_at": e.CreatedAt,
	}
	if e.Amount != nil {
		out["amount"] = registry.FormatAmount(e.Amount)
	}
	if e.FinalCost != nil {
		out["actual_gas_used"] = e.ActualGasUsed
		out["final_cost"] = registry.FormatAmount(e.FinalCost)
		out["revenue"] = registry.FormatAmount(e.Revenue)
		out["refund"] = registry.FormatAmount(e.Refund)
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
