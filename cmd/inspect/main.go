package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/axo-lotto/felt/go-pipeline/internal/coupling"
	"github.com/axo-lotto/felt/go-pipeline/internal/pattern"
	"github.com/axo-lotto/felt/go-pipeline/internal/provlog"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the pipeline database")
	last := flag.Int("last", 20, "show N most recent turns")
	topPatterns := flag.Int("patterns", 10, "show N highest-quality pattern records")
	jsonOut := flag.Bool("json", false, "output as JSON instead of text")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/felt_pipeline.db [--last N] [--patterns N] [--json]")
		os.Exit(2)
	}

	db, err := coupling.OpenDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := run(db, *last, *topPatterns, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region report

type report struct {
	Coupling couplingReport  `json:"coupling"`
	Patterns patternReport   `json:"patterns"`
	Turns    []provlog.Entry `json:"turns"`
}

type couplingReport struct {
	VersionID    string                 `json:"version_id"`
	OrganIDs     []string               `json:"organ_ids"`
	LearningRate float32                `json:"learning_rate"`
	TurnCount    int                    `json:"turn_count"`
	Stability    string                 `json:"stability"`
	Passed       bool                   `json:"passed"`
	Metrics      []coupling.AuditMetric `json:"metrics"`
}

type patternReport struct {
	Total int              `json:"total"`
	Top   []pattern.Record `json:"top"`
}

func run(db *sql.DB, last, topPatterns int, jsonOut bool) error {
	rep := report{}

	cconfig := coupling.DefaultConfig()
	store, err := coupling.NewStore(db, cconfig)
	if err != nil {
		return err
	}
	matrix, info, err := store.Active()
	if err != nil {
		return fmt.Errorf("coupling: %w", err)
	}
	audit := coupling.Audit(matrix, cconfig)
	rep.Coupling = couplingReport{
		VersionID:    info.VersionID,
		OrganIDs:     info.OrganIDs,
		LearningRate: info.LearningRate,
		TurnCount:    info.TurnCount,
		Stability:    string(audit.Stability),
		Passed:       audit.Passed,
		Metrics:      audit.Metrics,
	}

	patterns, err := pattern.NewStore(db, pattern.DefaultConfig(), nil)
	if err != nil {
		return err
	}
	if rep.Patterns.Total, err = patterns.Count(); err != nil {
		return fmt.Errorf("patterns: %w", err)
	}
	if rep.Patterns.Top, err = patterns.Top(topPatterns); err != nil {
		return fmt.Errorf("patterns: %w", err)
	}

	if rep.Turns, err = provlog.RecentTurns(db, last); err != nil {
		return fmt.Errorf("turn log: %w", err)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printReport(rep)
	return nil
}

// #endregion report

// #region print

func printReport(rep report) {
	fmt.Printf("Coupling matrix %s (parent of %d turns)\n", rep.Coupling.VersionID, rep.Coupling.TurnCount)
	fmt.Printf("  organs: %v\n", rep.Coupling.OrganIDs)
	fmt.Printf("  learning_rate: %.4f  stability: %s  audit: %s\n",
		rep.Coupling.LearningRate, rep.Coupling.Stability, passFail(rep.Coupling.Passed))
	for _, m := range rep.Coupling.Metrics {
		fmt.Printf("    %-26s %.4f  %s\n", m.Name, m.Value, passFail(m.Pass))
	}

	fmt.Printf("\nPattern store: %d record(s)\n", rep.Patterns.Total)
	for _, r := range rep.Patterns.Top {
		fmt.Printf("  %s  q=%.3f  uses=%d  %q\n", r.Signature, r.Quality, r.UseCount, r.Fragment)
	}

	fmt.Printf("\nRecent turns:\n")
	for _, t := range rep.Turns {
		flags := ""
		if t.MinimalMode {
			flags += " minimal"
		}
		if t.NonConvergence {
			flags += " non-convergent"
		}
		fmt.Printf("  %s  %-16s conf=%.2f energy=%.2f sat=%.2f nexuses=%d risk=%.2f%s\n",
			t.TurnID, t.Strategy, t.Confidence, t.Energy, t.Satisfaction, t.NexusCount, t.Risk, flags)
	}
}

func passFail(ok bool) string {
	if ok {
		return "pass"
	}
	return "FAIL"
}

// #endregion print
