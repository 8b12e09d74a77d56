package felt

// #region state

// State is the converged per-turn aggregate. Mutated only inside the
// convergence loop; read-only once Converge returns.
type State struct {
	Energy          float32 // [0, 1], starts at 1, descends
	Satisfaction    float32 // [0, 1]
	OrganCoherences map[string]float32
	CycleCount      int
}

// #endregion state

// #region events

// EventKind enumerates convergence-loop observations.
type EventKind string

const (
	// EventNonConvergence: energy failed to descend, or rose on two
	// consecutive cycles. Downstream treats the state as low-confidence
	// input; it is not an error.
	EventNonConvergence EventKind = "non_convergence"

	// EventKairosExit: satisfaction crossed threshold before max cycles.
	EventKairosExit EventKind = "kairos_exit"
)

// Event records one convergence-loop observation.
type Event struct {
	Kind   EventKind
	Cycle  int
	Reason string
}

// NonConverged reports whether an event list contains a non-convergence signal.
func NonConverged(events []Event) bool {
	for _, e := range events {
		if e.Kind == EventNonConvergence {
			return true
		}
	}
	return false
}

// #endregion events

// #region config

// Config holds the convergence-loop tuning knobs.
type Config struct {
	MaxCycles             int     // hard cycle cap per turn
	SatisfactionThreshold float32 // Kairos early exit above this
	MinEnergyDescent      float32 // below this total descent → non-convergence
	DescentRate           float32 // scales the default descent function
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxCycles:             6,
		SatisfactionThreshold: 0.82,
		MinEnergyDescent:      0.05,
		DescentRate:           0.35,
	}
}

// #endregion config
