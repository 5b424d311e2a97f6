//go:build ignore

// register-dapp.go - Register a dapp, enroll it on a chain and fund the instance
//
// Usage:
//   go run scripts/register-dapp.go -api http://localhost:8080 \
//     -owner "team-payments" \
//     -name "swap-frontend" \
//     -chain 11155111 \
//     -deposit 0.5

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

	"github.com/chainsafe/paymaster-middleware/pkg/registry"
)

var (
	apiURL  = flag.String("api", "http://localhost:8080", "Base URL of the paymaster API")
	ownerID = flag.String("owner", "", "Owner identifier for the dapp")
	name    = flag.String("name", "", "Display name for the dapp")
	chainID = flag.Uint64("chain", 0, "Chain ID to enroll the dapp on")
	deposit = flag.String("deposit", "", "Optional initial deposit in native units (e.g. 0.5)")
)

func main() {
	flag.Parse()

	if *ownerID == "" || *name == "" || *chainID == 0 {
		fmt.Println("Error: -owner, -name and -chain are required")
		fmt.Println("Usage: go run scripts/register-dapp.go -api http://localhost:8080 -owner 'team' -name 'app' -chain 11155111")
		os.Exit(1)
	}

	fmt.Println("======================================================================")
	fmt.Println("REGISTER DAPP - Create dapp and paymaster instance")
	fmt.Println("======================================================================")
	fmt.Printf("Owner: %s\n", *ownerID)
	fmt.Printf("Name:  %s\n", *name)
	fmt.Printf("Chain: %d\n", *chainID)
	fmt.Println()

	fmt.Println(">>> Registering dapp...")
	var dapp struct {
		DAppID string `json:"dapp_id"`
		Status string `json:"status"`
	}
	postJSON(*apiURL+"/api/v1/dapps", map[string]any{
		"owner_id": *ownerID,
		"name":     *name,
	}, &dapp)
	fmt.Printf("    DApp ID: %s (%s)\n\n", dapp.DAppID, dapp.Status)

	fmt.Println(">>> Creating instance...")
	var inst struct {
		InstanceID string `json:"instance_id"`
		APIKey     string `json:"api_key"`
	}
	postJSON(fmt.Sprintf("%s/api/v1/dapps/%s/instances", *apiURL, dapp.DAppID), map[string]any{
		"chain_id": *chainID,
	}, &inst)
	fmt.Printf("    Instance ID: %s\n\n", inst.InstanceID)

	if *deposit != "" {
		amount, err := registry.ParseNative(*deposit)
		if err != nil {
			fmt.Printf("Invalid deposit amount: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf(">>> Depositing %s wei...\n", amount)
		var balance struct {
			Balance string `json:"balance"`
		}
		postJSON(fmt.Sprintf("%s/api/v1/instances/%s/deposits", *apiURL, inst.InstanceID), map[string]any{
			"amount": amount.String(),
		}, &balance)
		fmt.Printf("    Instance balance: %s\n\n", balance.Balance)
	}

	fmt.Println("======================================================================")
	fmt.Println("DAPP REGISTERED SUCCESSFULLY")
	fmt.Println("======================================================================")
	fmt.Printf("DApp ID:     %s\n", dapp.DAppID)
	fmt.Printf("Instance ID: %s\n", inst.InstanceID)
	fmt.Println()
	fmt.Println("Store the API key now; it is not retrievable later:")
	fmt.Printf("  PAYMASTER_API_KEY=%q\n", inst.APIKey)
}

func postJSON(url string, body any, out any) {
	payload, err := json.Marshal(body)
	if err != nil {
		fmt.Printf("Failed to encode request: %v\n", err)
		os.Exit(1)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
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
