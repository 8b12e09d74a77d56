package safety

// #region imports
import (
	"log"

	"github.com/axo-lotto/felt/go-pipeline/internal/felt"
	"github.com/axo-lotto/felt/go-pipeline/internal/organ"
)

// #endregion

// #region types

// Assessment is the monitor's output. When MinimalMode is set the
// emission selector skips every strategy except the minimal safe
// fallback; no nexus confidence can unset it.
type Assessment struct {
	Risk        float32 // [0, 1]
	MinimalMode bool
	State       string // nervous-system state that modulated the risk
}

// Insights carries the designated processor signals the monitor consumes.
type Insights struct {
	DistressDistance float32 // [0,1], 0 = maximally close to distress
	NervousState     string  // one of the three named states, "" if absent
	Urgency          float32 // [0,1]
}

// Config holds the monitor's weights, thresholds, and the processor IDs
// each signal is read from.
type Config struct {
	DistressOrgan string
	StateOrgan    string
	UrgencyOrgan  string

	DistressWeight float32
	UrgencyWeight  float32
	RiskThreshold  float32 // risk >= this → minimal mode
}

// DefaultConfig returns sensible defaults wired to the built-in organs.
func DefaultConfig() Config {
	return Config{
		DistressOrgan:  "distress",
		StateOrgan:     "autonomic",
		UrgencyOrgan:   "urgency",
		DistressWeight: 0.7,
		UrgencyWeight:  0.3,
		RiskThreshold:  0.75,
	}
}

// #endregion types

// #region offsets

// stateOffsets is the fixed additive modulation per nervous-system
// state, applied to the distress component.
var stateOffsets = map[string]float32{
	organ.StateVentral:     -0.10,
	organ.StateSympathetic: +0.15,
	organ.StateDorsal:      +0.30,
}

// #endregion offsets

// #region monitor

// Monitor computes risk/readiness scalars from the converged state and
// can force the minimal emission mode.
type Monitor struct {
	config Config
}

// NewMonitor creates a monitor.
func NewMonitor(config Config) *Monitor {
	return &Monitor{config: config}
}

// ExtractInsights pulls the designated signals out of a cycle's results.
// A missing processor degrades to a neutral signal, never an error.
func (m *Monitor) ExtractInsights(results []organ.Result) Insights {
	ins := Insights{DistressDistance: 1}
	for _, r := range results {
		switch r.OrganID {
		case m.config.DistressOrgan:
			if d, ok := r.Activations[organ.DistressAtom]; ok {
				ins.DistressDistance = clamp01(d)
			}
		case m.config.StateOrgan:
			var best float32
			for atom, v := range r.Activations {
				if _, known := stateOffsets[atom]; known && v > best {
					ins.NervousState = atom
					best = v
				}
			}
		case m.config.UrgencyOrgan:
			ins.Urgency = clamp01(r.Coherence)
		}
	}
	return ins
}

// Assess combines distress distance (modulated by the nervous-system
// state offset) with urgency into a single risk scalar.
func (m *Monitor) Assess(state felt.State, ins Insights) Assessment {
	distress := 1 - ins.DistressDistance
	if offset, ok := stateOffsets[ins.NervousState]; ok {
		distress += offset
	}
	distress = clamp01(distress)

	risk := clamp01(m.config.DistressWeight*distress + m.config.UrgencyWeight*ins.Urgency)
	minimal := risk >= m.config.RiskThreshold

	if minimal {
		log.Printf("[SAFETY] minimal mode: risk=%.3f (distress=%.3f state=%s urgency=%.3f)",
			risk, distress, ins.NervousState, ins.Urgency)
	}

	return Assessment{Risk: risk, MinimalMode: minimal, State: ins.NervousState}
}

// #endregion monitor

// #region helpers

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
