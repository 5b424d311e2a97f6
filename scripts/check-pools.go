//go:build ignore

// check-pools.go - Inspect daemon health and recent ledger activity
//
// Usage:
//   go run scripts/check-pools.go -api http://localhost:8080
//   go run scripts/check-pools.go -api http://localhost:8080 -type REBALANCE -limit 20

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
)

var (
	apiURL    = flag.String("api", "http://localhost:8080", "Base URL of the paymaster API")
	entryType = flag.String("type", "", "Optional ledger entry type filter (QUOTE, SETTLEMENT, REBALANCE, AUDIT)")
	limit     = flag.Int("limit", 10, "Number of ledger entries to show")
)

func main() {
	flag.Parse()

	fmt.Println("======================================================================")
	fmt.Println("PAYMASTER STATUS")
	fmt.Println("======================================================================")

	fmt.Println(">>> Checking health...")
	var health struct {
		Healthy bool              `json:"healthy"`
		Checks  map[string]string `json:"checks"`
	}
	getJSON(*apiURL+"/health", &health)

	names := make([]string, 0, len(health.Checks))
	for name := range health.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("    %-20s %s\n", name, health.Checks[name])
	}
	if !health.Healthy {
		fmt.Println("\n✗ Daemon is degraded")
	} else {
		fmt.Println("\n✓ Daemon is healthy")
	}
	fmt.Println()

	fmt.Printf(">>> Last %d ledger entries", *limit)
	if *entryType != "" {
		fmt.Printf(" (type=%s)", *entryType)
	}
	fmt.Println("...")

	var ledger struct {
		Entries []map[string]any `json:"entries"`
	}
	getJSON(fmt.Sprintf("%s/api/v1/ledger?type=%s&limit=%d", *apiURL, *entryType, *limit), &ledger)

	if len(ledger.Entries) == 0 {
		fmt.Println("    (no entries)")
		return
	}
	for _, e := range ledger.Entries {
		line := fmt.Sprintf("    %-12v chain=%-8v", e["type"], e["chain_id"])
		if amount, ok := e["amount"]; ok {
			line += fmt.Sprintf(" amount=%v", amount)
		}
		if finalCost, ok := e["final_cost"]; ok {
			line += fmt.Sprintf(" final_cost=%v refund=%v", finalCost, e["refund"])
		}
		if reason, ok := e["reason"].(string); ok && reason != "" {
			line += fmt.Sprintf(" (%s)", reason)
		}
		fmt.Println(line)
	}
}

func getJSON(url string, out any) {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Printf("Request to %s failed: %v\n", url, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	// /health answers 503 with a body when degraded; still render it
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusServiceUnavailable {
		msg, _ := io.ReadAll(resp.Body)
		fmt.Printf("%s returned %d: %s\n", url, resp.StatusCode, strings.TrimSpace(string(msg)))
		os.Exit(1)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fmt.Printf("Failed to decode response from %s: %v\n", url, err)
		os.Exit(1)
	}
}
