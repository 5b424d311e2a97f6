package paymasterd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/paymaster-middleware/pkg/config"
	"github.com/chainsafe/paymaster-middleware/pkg/dapp"
	"github.com/chainsafe/paymaster-middleware/pkg/fees"
	"github.com/chainsafe/paymaster-middleware/pkg/ledger"
	"github.com/chainsafe/paymaster-middleware/pkg/registry"
	"github.com/chainsafe/paymaster-middleware/pkg/registrystore"
	"github.com/chainsafe/paymaster-middleware/pkg/settlement"
)

type fixedPrices struct {
	price *big.Int
}

func (f fixedPrices) GasPrice(context.Context, uint64) (*big.Int, error) {
	return new(big.Int).Set(f.price), nil
}

type testRig struct {
	handler http.Handler
	store   registrystore.Store
	rec     *ledger.Recorder
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	store := registrystore.NewMemory()
	logger := zap.NewNop()
	rec := ledger.NewRecorder(store, logger)

	err := store.CreateChain(context.Background(),
		&registry.ChainConfig{
			ChainID: 1,
			Name:    "devnet",
			Symbol:  "ETH",
			RPCURL:  "http://localhost:8545",
			Status:  registry.ChainStatusActive,
		},
		&registry.Pool{
			PoolID:            registry.PoolID(1),
			ChainID:           1,
			GasAccountAddress: "0xgas",
			VaultAddress:      "0xvault",
			Balance:           big.NewInt(0).Mul(big.NewInt(40), big.NewInt(1e18)),
			MinBalance:        big.NewInt(0).Mul(big.NewInt(10), big.NewInt(1e18)),
			TargetBalance:     big.NewInt(0).Mul(big.NewInt(50), big.NewInt(1e18)),
			SpendRate24h:      big.NewInt(0),
			Mode:              registry.ModeNormal,
		})
	if err != nil {
		t.Fatalf("failed to seed chain: %v", err)
	}

	policy := config.PolicyConfig{
		DailyGasCap:     "1",
		PerUserDailyCap: "0.05",
		APIKeySecret:    "router-test-secret-0123456789",
	}
	keys, err := dapp.NewKeyIssuer(policy.APIKeySecret)
	if err != nil {
		t.Fatalf("failed to create key issuer: %v", err)
	}
	gatekeeper, err := dapp.NewService(store, rec, keys, policy, logger)
	if err != nil {
		t.Fatalf("failed to create gatekeeper: %v", err)
	}

	// 20 gwei
	quotes := fees.NewEngine(fixedPrices{price: big.NewInt(20_000_000_000)}, fees.NativeRate{}, rec, config.FeesConfig{
		BufferPercent:    5,
		SurchargePercent: 20,
		QuoteTTL:         time.Minute,
		LatencySLO:       800 * time.Millisecond,
	}, logger)

	srv := NewServer(&config.Config{})
	handler := srv.newRouter(&handlers{
		store:      store,
		gatekeeper: gatekeeper,
		quotes:     quotes,
		settler:    settlement.NewService(rec, logger),
		pending:    newQuoteCache(),
		logger:     logger,
	})

	return &testRig{handler: handler, store: store, rec: rec}
}

func (rig *testRig) do(t *testing.T, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(apiKeyHeader, apiKey)
	}
	w := httptest.NewRecorder()
	rig.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

// onboard registers a dapp, creates an instance on chain 1 and funds it.
func (rig *testRig) onboard(t *testing.T) (instanceID, apiKey string) {
	t.Helper()

	w := rig.do(t, http.MethodPost, "/api/v1/dapps", "", map[string]any{
		"owner_id": "owner-1",
		"name":     "swap frontend",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register dapp: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var dappResp struct {
		DAppID string `json:"dapp_id"`
		Status string `json:"status"`
	}
	decodeBody(t, w, &dappResp)
	if dappResp.Status != "ACTIVE" {
		t.Fatalf("expected ACTIVE dapp, got %s", dappResp.Status)
	}

	w = rig.do(t, http.MethodPost, "/api/v1/dapps/"+dappResp.DAppID+"/instances", "", map[string]any{
		"chain_id": 1,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create instance: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var instResp struct {
		InstanceID string `json:"instance_id"`
		APIKey     string `json:"api_key"`
	}
	decodeBody(t, w, &instResp)
	if instResp.APIKey == "" {
		t.Fatal("expected api key in instance response")
	}

	w = rig.do(t, http.MethodPost, "/api/v1/instances/"+instResp.InstanceID+"/deposits", "", map[string]any{
		"amount": "1000000000000000000",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	return instResp.InstanceID, instResp.APIKey
}

func TestRouter_QuoteSettleRoundTrip(t *testing.T) {
	rig := newTestRig(t)
	_, apiKey := rig.onboard(t)

	w := rig.do(t, http.MethodPost, "/api/v1/quotes", apiKey, map[string]any{
		"user_id":       "0xuser",
		"estimated_gas": 500000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("quote: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var quote struct {
		QuoteID         string `json:"quote_id"`
		BaseCost        string `json:"base_cost"`
		Buffer          string `json:"buffer"`
		Surcharge       string `json:"surcharge"`
		TotalMaxTokenIn string `json:"total_max_token_in"`
	}
	decodeBody(t, w, &quote)

	// 500000 gas * 20 gwei = 1e16, +5% buffer, +20% surcharge
	if quote.BaseCost != "10000000000000000" {
		t.Errorf("base cost mismatch: %s", quote.BaseCost)
	}
	if quote.Buffer != "500000000000000" {
		t.Errorf("buffer mismatch: %s", quote.Buffer)
	}
	if quote.Surcharge != "2000000000000000" {
		t.Errorf("surcharge mismatch: %s", quote.Surcharge)
	}
	if quote.TotalMaxTokenIn != "12500000000000000" {
		t.Errorf("total mismatch: %s", quote.TotalMaxTokenIn)
	}

	w = rig.do(t, http.MethodPost, "/api/v1/settlements", apiKey, map[string]any{
		"quote_id":        quote.QuoteID,
		"actual_gas_used": 400000,
		"tx_hash":         "0xabc",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var settled struct {
		EntryID   string `json:"entry_id"`
		FinalCost string `json:"final_cost"`
		Revenue   string `json:"revenue"`
		Refund    string `json:"refund"`
	}
	decodeBody(t, w, &settled)

	// finalCost = 400000 * 20 gwei = 8e15; refund = total - finalCost - surcharge
	if settled.FinalCost != "8000000000000000" {
		t.Errorf("final cost mismatch: %s", settled.FinalCost)
	}
	if settled.Revenue != "2000000000000000" {
		t.Errorf("revenue mismatch: %s", settled.Revenue)
	}
	if settled.Refund != "2500000000000000" {
		t.Errorf("refund mismatch: %s", settled.Refund)
	}

	// a consumed quote cannot settle twice
	w = rig.do(t, http.MethodPost, "/api/v1/settlements", apiKey, map[string]any{
		"quote_id":        quote.QuoteID,
		"actual_gas_used": 400000,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on replayed settlement, got %d", w.Code)
	}

	// settlement entry is on the ledger
	entry, err := rig.store.GetLedgerEntry(context.Background(), settled.EntryID)
	if err != nil {
		t.Fatalf("GetLedgerEntry() failed: %v", err)
	}
	if entry.Type != registry.EntryTypeSettlement {
		t.Errorf("expected SETTLEMENT entry, got %s", entry.Type)
	}
	if entry.QuoteID != quote.QuoteID {
		t.Errorf("entry quote mismatch: %s", entry.QuoteID)
	}
}

func TestRouter_QuoteRequiresAPIKey(t *testing.T) {
	rig := newTestRig(t)
	rig.onboard(t)

	w := rig.do(t, http.MethodPost, "/api/v1/quotes", "", map[string]any{
		"user_id":       "0xuser",
		"estimated_gas": 100000,
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	w = rig.do(t, http.MethodPost, "/api/v1/quotes", "not-a-key", map[string]any{
		"user_id":       "0xuser",
		"estimated_gas": 100000,
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage key, got %d", w.Code)
	}
}

func TestRouter_QuoteRejectsZeroGas(t *testing.T) {
	rig := newTestRig(t)
	_, apiKey := rig.onboard(t)

	w := rig.do(t, http.MethodPost, "/api/v1/quotes", apiKey, map[string]any{
		"user_id":       "0xuser",
		"estimated_gas": 0,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero gas, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRouter_QuoteDeniedOverDailyCap(t *testing.T) {
	rig := newTestRig(t)
	_, apiKey := rig.onboard(t)

	// default daily cap is 1 native unit; a 10M gas quote at 20 gwei with
	// margins lands at 0.25, so four quotes fit and the fifth is denied
	for i := 0; i < 4; i++ {
		w := rig.do(t, http.MethodPost, "/api/v1/quotes", apiKey, map[string]any{
			"user_id":       "0xuser",
			"estimated_gas": 10_000_000,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("quote %d: expected 201, got %d: %s", i, w.Code, w.Body.String())
		}
		var quote struct {
			QuoteID string `json:"quote_id"`
		}
		decodeBody(t, w, &quote)

		w = rig.do(t, http.MethodPost, "/api/v1/settlements", apiKey, map[string]any{
			"quote_id":        quote.QuoteID,
			"actual_gas_used": 10_000_000,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("settle %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
	}

	w := rig.do(t, http.MethodPost, "/api/v1/quotes", apiKey, map[string]any{
		"user_id":       "0xuser",
		"estimated_gas": 10_000_000,
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 once the cap is reached, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRouter_InvalidJSONReturnsBadRequest(t *testing.T) {
	rig := newTestRig(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/dapps", bytes.NewBufferString("{invalid"))
	w := httptest.NewRecorder()
	rig.handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestRouter_DepositValidation(t *testing.T) {
	rig := newTestRig(t)
	instanceID, _ := rig.onboard(t)

	w := rig.do(t, http.MethodPost, fmt.Sprintf("/api/v1/instances/%s/deposits", instanceID), "", map[string]any{
		"amount": "not-a-number",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed amount, got %d", w.Code)
	}

	w = rig.do(t, http.MethodPost, "/api/v1/instances/missing/deposits", "", map[string]any{
		"amount": "100",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown instance, got %d", w.Code)
	}
}

func TestRouter_LedgerListing(t *testing.T) {
	rig := newTestRig(t)
	_, apiKey := rig.onboard(t)

	w := rig.do(t, http.MethodPost, "/api/v1/quotes", apiKey, map[string]any{
		"user_id":       "0xuser",
		"estimated_gas": 500000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("quote: expected 201, got %d", w.Code)
	}
	var quote struct {
		QuoteID string `json:"quote_id"`
	}
	decodeBody(t, w, &quote)

	w = rig.do(t, http.MethodPost, "/api/v1/settlements", apiKey, map[string]any{
		"quote_id":        quote.QuoteID,
		"actual_gas_used": 400000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("settle: expected 200, got %d", w.Code)
	}
	// quote and audit entries are written asynchronously
	rig.rec.Close()

	w = rig.do(t, http.MethodGet, "/api/v1/ledger?type=SETTLEMENT", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ledger: expected 200, got %d", w.Code)
	}
	var out struct {
		Entries []struct {
			Type    string `json:"type"`
			QuoteID string `json:"quote_id"`
		} `json:"entries"`
	}
	decodeBody(t, w, &out)
	if len(out.Entries) != 1 {
		t.Fatalf("expected 1 settlement entry, got %d", len(out.Entries))
	}
	if out.Entries[0].QuoteID != quote.QuoteID {
		t.Errorf("entry quote mismatch: %s", out.Entries[0].QuoteID)
	}

	w = rig.do(t, http.MethodGet, "/api/v1/ledger?limit=bogus", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
}
