package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/axo-lotto/felt/go-pipeline/internal/config"
	"github.com/axo-lotto/felt/go-pipeline/internal/coupling"
	"github.com/axo-lotto/felt/go-pipeline/internal/emission"
	"github.com/axo-lotto/felt/go-pipeline/internal/genclient"
	"github.com/axo-lotto/felt/go-pipeline/internal/organ"
	"github.com/axo-lotto/felt/go-pipeline/internal/pipeline"
)

// #region main
func main() {
	configPath := envOr("PIPELINE_CONFIG", "pipeline.yaml")
	settings, cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	dbPath := envOr("FELT_DB", settings.DBPath)
	genAddr := envOr("GEN_ADDR", settings.GenAddr)

	db, err := coupling.OpenDB(dbPath)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer db.Close()

	// The generation sidecar is optional: without it the cascade ends at
	// the generic fallback instead of the llm branch.
	var gen emission.Generator
	if genAddr != "" && !cfg.Emission.OrganicOnly {
		client, err := genclient.New(genAddr)
		if err != nil {
			log.Printf("generation sidecar unavailable at %s: %v", genAddr, err)
		} else {
			defer client.Close()
			gen = client
		}
	}

	procs := organ.DefaultProcessors()
	stores, err := pipeline.OpenStores(db, organ.ProcessorIDs(procs), cfg, nil)
	if err != nil {
		log.Fatalf("failed to open stores: %v", err)
	}
	p, err := pipeline.New(stores, procs, gen, cfg)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	fmt.Println("Felt pipeline ready.")
	fmt.Printf("  DB: %s | Gen: %s | Organs: %s\n", dbPath, genAddr, strings.Join(p.Registry(), ", "))
	fmt.Println("Type a turn (or 'quit' to exit):")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "quit" || text == "exit" {
			break
		}

		res, err := p.ProcessTurn(context.Background(), text)
		if err != nil {
			log.Printf("turn rejected: %v", err)
			continue
		}

		fmt.Printf("\n%s\n\n", res.Text)
		fmt.Printf("[%s] strategy=%s confidence=%.2f energy=%.2f satisfaction=%.2f cycles=%d nexuses=%d risk=%.2f\n",
			res.TurnID, res.Strategy, res.Confidence,
			res.Felt.Energy, res.Felt.Satisfaction, res.Felt.CycleCount,
			res.Felt.NexusCount, res.Felt.Risk)
		if res.Felt.NonConvergence {
			fmt.Println("  (turn did not converge; output is low-confidence)")
		}
	}
}

// #endregion main

// #region env
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion env
