package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chainsafe/paymaster-middleware/pkg/app"
	"github.com/chainsafe/paymaster-middleware/pkg/app/paymasterd"
	"github.com/chainsafe/paymaster-middleware/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var runner app.Runner = paymasterd.NewServer(cfg)
	if err := runner.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "paymasterd: %v\n", err)
		os.Exit(1)
	}
}
