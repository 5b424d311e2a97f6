//go:build ignore

// quote-smoke.go - End-to-end smoke test of the quote/settle data plane
//
// Runs a full sponsorship round trip against a live daemon: request a quote,
// then settle it as if the transaction landed with 80% of the estimated gas.
//
// Usage:
//   PAYMASTER_API_KEY="..." go run scripts/quote-smoke.go \
//     -api http://localhost:8080 \
//     -user "0xuser" \
//     -gas 500000

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

var (
	apiURL = flag.String("api", "http://localhost:8080", "Base URL of the paymaster API")
	userID = flag.String("user", "0x0000000000000000000000000000000000000001", "End-user identifier for the quote")
	gas    = flag.Uint64("gas", 500000, "Estimated gas for the sponsored transaction")
)

func main() {
	flag.Parse()

	apiKey := os.Getenv("PAYMASTER_API_KEY")
	if apiKey == "" {
		fmt.Println("Error: PAYMASTER_API_KEY environment variable is required")
		fmt.Println("Obtain one with: go run scripts/register-dapp.go")
		os.Exit(1)
	}

	fmt.Println("======================================================================")
	fmt.Println("QUOTE SMOKE TEST - quote then settle")
	fmt.Println("======================================================================")
	fmt.Printf("User: %s\n", *userID)
	fmt.Printf("Gas:  %d\n", *gas)
	fmt.Println()

	fmt.Println(">>> Requesting quote...")
	var quote struct {
		QuoteID         string `json:"quote_id"`
		GasPrice        string `json:"gas_price"`
		BaseCost        string `json:"base_cost"`
		Buffer          string `json:"buffer"`
		Surcharge       string `json:"surcharge"`
		TotalMaxTokenIn string `json:"total_max_token_in"`
		Expiry          string `json:"expiry"`
	}
	postJSON(*apiURL+"/api/v1/quotes", apiKey, map[string]any{
		"user_id":       *userID,
		"estimated_gas": *gas,
	}, &quote)
	fmt.Printf("    Quote ID:  %s\n", quote.QuoteID)
	fmt.Printf("    Gas price: %s wei\n", quote.GasPrice)
	fmt.Printf("    Base:      %s\n", quote.BaseCost)
	fmt.Printf("    Buffer:    %s\n", quote.Buffer)
	fmt.Printf("    Surcharge: %s\n", quote.Surcharge)
	fmt.Printf("    Total max: %s\n", quote.TotalMaxTokenIn)
	fmt.Printf("    Expires:   %s\n\n", quote.Expiry)

	fmt.Println(">>> Settling at 80% of estimated gas...")
	var settled struct {
		EntryID   string `json:"entry_id"`
		FinalCost string `json:"final_cost"`
		Revenue   string `json:"revenue"`
		Refund    string `json:"refund"`
	}
	postJSON(*apiURL+"/api/v1/settlements", apiKey, map[string]any{
		"quote_id":        quote.QuoteID,
		"actual_gas_used": *gas * 80 / 100,
		"tx_hash":         "0xsmoke",
	}, &settled)

	fmt.Printf("    Entry ID:   %s\n", settled.EntryID)
	fmt.Printf("    Final cost: %s\n", settled.FinalCost)
	fmt.Printf("    Revenue:    %s\n", settled.Revenue)
	fmt.Printf("    Refund:     %s\n", settled.Refund)
	fmt.Println()
	fmt.Println("✓ Round trip complete")
}

func postJSON(url, apiKey string, body any, out any) {
	payload, err := json.Marshal(body)
	if err != nil {
		fmt.Printf("Failed to encode request: %v\n", err)
		os.Exit(1)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		fmt.Printf("Failed to build request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Request to %s failed: %v\n", url, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		fmt.Printf("%s returned %d: %s\n", url, resp.StatusCode, strings.TrimSpace(string(msg)))
		os.Exit(1)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fmt.Printf("Failed to decode response from %s: %v\n", url, err)
		os.Exit(1)
	}
}
