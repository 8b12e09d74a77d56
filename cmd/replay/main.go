package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/axo-lotto/felt/go-pipeline/internal/pipeline"
	"github.com/axo-lotto/felt/go-pipeline/internal/replay"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "path to fixture JSON")
	jsonOut := flag.Bool("json", false, "output results as JSON")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--json]")
		os.Exit(2)
	}

	os.Exit(runFixture(*fixturePath, *jsonOut))
}

// #endregion main

// #region run

func runFixture(path string, jsonOut bool) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}

	results, err := replay.Run(f, pipeline.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 2
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 2
		}
	} else {
		if f.Description != "" {
			fmt.Println(f.Description)
		}
		for _, r := range results {
			fmt.Printf("turn %d: strategy=%-16s conf=%.2f energy=%.2f sat=%.2f nexuses=%d minimal=%t\n",
				r.Turn, r.Strategy, r.Confidence, r.Energy, r.Satisfaction, r.NexusCount, r.MinimalMode)
		}
	}

	mismatches := replay.Verify(f, results)
	if len(mismatches) == 0 {
		if len(f.Expected) > 0 {
			fmt.Printf("%d/%d turns matched expectations\n", len(results), len(results))
		}
		return 0
	}
	for _, m := range mismatches {
		fmt.Fprintf(os.Stderr, "turn %d: %s expected %s, got %s\n", m.Turn, m.Field, m.Expected, m.Got)
	}
	return 1
}

// #endregion run
