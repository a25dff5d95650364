package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hashgraph/mass-payout/pkg/app"
	"github.com/hashgraph/mass-payout/pkg/app/payout"
	"github.com/hashgraph/mass-payout/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	var runner app.Runner = payout.NewServer(cfg)
	if err := runner.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Mass payout service failed: %v\n", err)
		os.Exit(1)
	}
}
