package replay

// #region imports
import (
	"context"
	"fmt"
	"math/rand"

	"github.com/axo-lotto/felt/go-pipeline/internal/coupling"
	"github.com/axo-lotto/felt/go-pipeline/internal/organ"
	"github.com/axo-lotto/felt/go-pipeline/internal/pipeline"
)

// #endregion

// #region scripted-organs

// script tracks which fixture turn is currently being replayed. Shared
// by every scripted organ; the harness advances it between turns.
type script struct {
	turns []FixtureTurn
	turn  int
}

// scriptedOrgan replays the fixture's recorded outputs for one
// processor ID.
type scriptedOrgan struct {
	id string
	s  *script
}

func (o *scriptedOrgan) ID() string { return o.id }

func (o *scriptedOrgan) Process(_ context.Context, _ organ.Span, cycle int) (organ.Result, error) {
	cycles := o.s.turns[o.s.turn].Cycles
	if cycle >= len(cycles) {
		cycle = len(cycles) - 1
	}
	for _, r := range cycles[cycle].Results {
		if r.OrganID == o.id {
			return organ.Result{
				OrganID:     o.id,
				Coherence:   r.Coherence,
				Activations: r.Activations,
			}, nil
		}
	}
	// Not scripted this cycle: the processor is silent.
	return organ.Result{OrganID: o.id}, nil
}

// #endregion scripted-organs

// #region result

// Result captures the outcome of replaying one turn.
type Result struct {
	Turn         int
	Strategy     string
	Confidence   float32
	Energy       float32
	Satisfaction float32
	MinimalMode  bool
	NexusCount   int
}

// Mismatch is one divergence between a replay run and the fixture's
// expected results.
type Mismatch struct {
	Turn     int
	Field    string
	Expected string
	Got      string
}

// #endregion result

// #region run

// Run replays every fixture turn through a fresh in-memory pipeline.
func Run(f *Fixture, config pipeline.Config) ([]Result, error) {
	db, err := coupling.OpenDB(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open replay db: %w", err)
	}
	defer db.Close()

	s := &script{turns: f.Turns}
	procs := make([]organ.Processor, len(f.Organs))
	for i, id := range f.Organs {
		procs[i] = &scriptedOrgan{id: id, s: s}
	}

	stores, err := pipeline.OpenStores(db, organ.ProcessorIDs(procs), config, rand.New(rand.NewSource(f.Seed)))
	if err != nil {
		return nil, fmt.Errorf("open replay stores: %w", err)
	}
	p, err := pipeline.New(stores, procs, nil, config)
	if err != nil {
		return nil, fmt.Errorf("build replay pipeline: %w", err)
	}

	results := make([]Result, 0, len(f.Turns))
	for i, turn := range f.Turns {
		s.turn = i
		res, err := p.ProcessTurn(context.Background(), turn.Text)
		if err != nil {
			return nil, fmt.Errorf("replay turn %d: %w", i, err)
		}
		results = append(results, Result{
			Turn:         i,
			Strategy:     string(res.Strategy),
			Confidence:   res.Confidence,
			Energy:       res.Felt.Energy,
			Satisfaction: res.Felt.Satisfaction,
			MinimalMode:  res.Felt.MinimalMode,
			NexusCount:   res.Felt.NexusCount,
		})
	}
	return results, nil
}

// Verify compares a run against the fixture's expected results.
func Verify(f *Fixture, results []Result) []Mismatch {
	var mismatches []Mismatch
	for i, exp := range f.Expected {
		if i >= len(results) {
			mismatches = append(mismatches, Mismatch{
				Turn: i, Field: "result", Expected: exp.Strategy, Got: "missing",
			})
			continue
		}
		got := results[i]
		if got.Strategy != exp.Strategy {
			mismatches = append(mismatches, Mismatch{
				Turn: i, Field: "strategy", Expected: exp.Strategy, Got: got.Strategy,
			})
		}
		if got.MinimalMode != exp.MinimalMode {
			mismatches = append(mismatches, Mismatch{
				Turn: i, Field: "minimal_mode",
				Expected: fmt.Sprintf("%t", exp.MinimalMode),
				Got:      fmt.Sprintf("%t", got.MinimalMode),
			})
		}
	}
	return mismatches
}

// #endregion run
