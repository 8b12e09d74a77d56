package felt

// #region imports
import (
	"context"
	"log"
	"math"

	"github.com/axo-lotto/felt/go-pipeline/internal/organ"
)

// #endregion

// #region descent

// DescentFunc computes the per-cycle energy drop. It must be monotone
// increasing in agreement and return a value in [0, energy].
type DescentFunc func(agreement, energy float32) float32

// defaultDescent drops energy proportionally to agreement and remaining
// energy, so energy stays in [0, 1] without clamping surprises.
func defaultDescent(rate float32) DescentFunc {
	return func(agreement, energy float32) float32 {
		return rate * agreement * energy
	}
}

// #endregion descent

// #region engine

// CycleFunc queries all processors for one cycle and returns every
// result. Cycle t+1 depends on cycle t's aggregate, so the engine calls
// it strictly sequentially.
type CycleFunc func(ctx context.Context, cycle int) []organ.Result

// Engine runs the multi-cycle energy-descent loop that aggregates
// per-processor signals into a stable felt state.
type Engine struct {
	config  Config
	descent DescentFunc
}

// NewEngine creates an engine with the default descent function.
func NewEngine(config Config) *Engine {
	return &Engine{config: config, descent: defaultDescent(config.DescentRate)}
}

// NewEngineWithDescent creates an engine with a custom descent function.
func NewEngineWithDescent(config Config, descent DescentFunc) *Engine {
	return &Engine{config: config, descent: descent}
}

// #endregion engine

// #region converge

// Converge runs up to MaxCycles cycles, descending energy as processor
// agreement rises. The canonical "coherence" used downstream is the
// agreement (1 − stddev of coherences), NOT the raw mean. Conflating
// the two is a known calibration error.
//
// Termination: satisfaction > threshold (Kairos exit) or the cycle cap.
// Non-convergence is reported as an event, never as an error.
func (e *Engine) Converge(ctx context.Context, cycle CycleFunc) (State, []Event) {
	st := State{
		Energy:          1.0,
		OrganCoherences: make(map[string]float32),
	}
	var events []Event

	prevEnergy := st.Energy
	consecutiveRises := 0

	for c := 0; c < e.config.MaxCycles; c++ {
		results := cycle(ctx, c)
		st.CycleCount = c + 1

		coherences := make([]float32, 0, len(results))
		for _, r := range results {
			st.OrganCoherences[r.OrganID] = r.Coherence
			coherences = append(coherences, r.Coherence)
		}

		agreement := 1 - stddev(coherences)
		if agreement < 0 {
			agreement = 0
		}

		st.Energy = clamp01(st.Energy - e.descent(agreement, st.Energy))
		st.Satisfaction = clamp01(0.7*agreement + 0.3*(1-st.Energy))

		// A single upward bounce is tolerated; two in a row is a
		// non-convergence signal.
		if st.Energy > prevEnergy {
			consecutiveRises++
			if consecutiveRises >= 2 {
				events = append(events, Event{
					Kind:   EventNonConvergence,
					Cycle:  c,
					Reason: "energy rose on two consecutive cycles",
				})
				log.Printf("[CONV] non-convergence at cycle %d: two consecutive energy rises", c)
				consecutiveRises = 0
			}
		} else {
			consecutiveRises = 0
		}
		prevEnergy = st.Energy

		if st.Satisfaction > e.config.SatisfactionThreshold {
			events = append(events, Event{
				Kind:   EventKairosExit,
				Cycle:  c,
				Reason: "satisfaction crossed threshold",
			})
			log.Printf("[CONV] kairos exit at cycle %d: satisfaction=%.3f energy=%.3f",
				c, st.Satisfaction, st.Energy)
			return st, events
		}
	}

	if descent := 1 - st.Energy; descent < e.config.MinEnergyDescent {
		events = append(events, Event{
			Kind:   EventNonConvergence,
			Cycle:  st.CycleCount - 1,
			Reason: "energy did not descend by minimum delta",
		})
		log.Printf("[CONV] non-convergence after %d cycles: total descent %.4f below %.4f",
			st.CycleCount, descent, e.config.MinEnergyDescent)
	}

	return st, events
}

// #endregion converge

// #region helpers

// stddev computes the population standard deviation.
func stddev(vals []float32) float32 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += float64(v)
	}
	mean := sum / float64(len(vals))
	var variance float64
	for _, v := range vals {
		d := float64(v) - mean
		variance += d * d
	}
	return float32(math.Sqrt(variance / float64(len(vals))))
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
