// Package replay re-runs recorded turn sequences through the full
// pipeline with scripted processor outputs, entirely in memory. Used as
// a regression harness: if convergence, nexus, safety, or cascade
// parameters drift, the expected strategies stop matching.
package replay

// #region imports
import (
	"encoding/json"
	"fmt"
	"os"
)

// #endregion

// #region fixture-types

// FixtureResult is one scripted processor output.
type FixtureResult struct {
	OrganID     string             `json:"organ_id"`
	Coherence   float32            `json:"coherence"`
	Activations map[string]float32 `json:"activations"`
}

// FixtureCycle holds the scripted results for one convergence cycle.
type FixtureCycle struct {
	Results []FixtureResult `json:"results"`
}

// FixtureTurn is one recorded turn. When a convergence run needs more
// cycles than are scripted, the last scripted cycle repeats.
type FixtureTurn struct {
	Text   string         `json:"text"`
	Cycles []FixtureCycle `json:"cycles"`
}

// FixtureExpected captures the expected emission per turn.
type FixtureExpected struct {
	Strategy    string `json:"strategy"`
	MinimalMode bool   `json:"minimal_mode"`
}

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string            `json:"description"`
	Seed        int64             `json:"seed"`
	Organs      []string          `json:"organs"`
	Turns       []FixtureTurn     `json:"turns"`
	Expected    []FixtureExpected `json:"expected"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return &f, nil
}

func (f *Fixture) validate() error {
	if len(f.Organs) == 0 {
		return fmt.Errorf("no organs declared")
	}
	if len(f.Expected) > 0 && len(f.Expected) != len(f.Turns) {
		return fmt.Errorf("expected results (%d) do not match turns (%d)", len(f.Expected), len(f.Turns))
	}
	for i, turn := range f.Turns {
		if len(turn.Cycles) == 0 {
			return fmt.Errorf("turn %d has no scripted cycles", i)
		}
	}
	return nil
}

// #endregion fixture-loader
