// Package learning applies delayed feedback: once turn N+1 arrives, the
// emission recorded for turn N finally gets its reward, which flows back
// into both the pattern store and the coupling matrix.
package learning

// #region imports
import (
	"fmt"
	"log"

	"github.com/axo-lotto/felt/go-pipeline/internal/coupling"
	"github.com/axo-lotto/felt/go-pipeline/internal/emission"
	"github.com/axo-lotto/felt/go-pipeline/internal/pattern"
)

// #endregion

// #region config

// Config holds reward-shaping parameters.
type Config struct {
	TrajectoryWindow int     // satisfaction samples considered for the trend
	ImproveBonus     float32 // multiplier for a sustained upward trend
	DeclinePenalty   float32 // multiplier for a sustained downward trend
	StabilityBonus   float32 // multiplier when the coupling matrix is stable

	// StrengthenThreshold splits the Hebbian update direction: rewards at
	// or above it strengthen member pair couplings, below it weaken them.
	StrengthenThreshold float32
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TrajectoryWindow:    3,
		ImproveBonus:        1.10,
		DeclinePenalty:      0.90,
		StabilityBonus:      1.05,
		StrengthenThreshold: 0.5,
	}
}

// #endregion config

// #region result

// Result captures what one feedback application decided, for logging
// and provenance.
type Result struct {
	Reward          float32
	PatternResolved bool
	PairsUpdated    int
	Stability       coupling.Stability
	Regularized     bool
}

// #endregion result

// #region engine

// Modifier lets callers reshape the base reward before bonuses apply
// (external reward signals hook in here). The default is identity.
type Modifier func(base float32) float32

// Engine resolves delayed rewards. One engine per conversation; the
// coupling and pattern stores it writes to are shared and serialize
// internally.
type Engine struct {
	config    Config
	patterns  *pattern.Store
	couplings *coupling.Store
	matrix    *coupling.Matrix
	rate      float32 // effective learning rate, from stored matrix metadata
	cconfig   coupling.Config
	modifier  Modifier

	history []float32 // recent satisfaction values, oldest first
}

// NewEngine creates a feedback engine around an already-loaded matrix.
// rate must be the effective rate reported by the coupling store, not
// the configured one. modifier may be nil.
func NewEngine(config Config, patterns *pattern.Store, couplings *coupling.Store,
	matrix *coupling.Matrix, rate float32, cconfig coupling.Config, modifier Modifier) *Engine {
	if modifier == nil {
		modifier = func(base float32) float32 { return base }
	}
	return &Engine{
		config:    config,
		patterns:  patterns,
		couplings: couplings,
		matrix:    matrix,
		rate:      rate,
		cconfig:   cconfig,
		modifier:  modifier,
	}
}

// Observe records a turn's final satisfaction for trajectory shaping.
func (e *Engine) Observe(satisfaction float32) {
	e.history = append(e.history, satisfaction)
	if len(e.history) > e.config.TrajectoryWindow {
		e.history = e.history[len(e.history)-e.config.TrajectoryWindow:]
	}
}

// #endregion engine

// #region apply

// Apply resolves the reward for the previous turn's emission using the
// next turn's converged satisfaction as the base reward signal. Safe to
// call with a nil prev (first turn of a conversation).
func (e *Engine) Apply(prev *emission.Record, nextSatisfaction float32, turn int) (Result, error) {
	if prev == nil {
		return Result{}, nil
	}

	// Stability is read before this turn's updates so the bonus reflects
	// the regime the emission was produced under. This read owns the
	// delta accumulator; the post-update read below must not consume it,
	// or the deltas of a whole turn vanish before anyone sees them.
	stability := e.matrix.Classify(e.cconfig)
	reward := clamp01(e.shapeReward(nextSatisfaction, stability))
	res := Result{Reward: reward}

	resolved, err := e.patterns.ResolvePending(prev.TurnID, reward, turn)
	if err != nil {
		return res, fmt.Errorf("resolve pattern feedback: %w", err)
	}
	res.PatternResolved = resolved

	// Hebbian pass over the coalition members that produced the emission.
	members := sortedKeys(prev.MemberActivations)
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			a, b := members[i], members[j]
			actA, actB := prev.MemberActivations[a], prev.MemberActivations[b]
			if reward >= e.config.StrengthenThreshold {
				e.matrix.Strengthen(a, b, actA, actB, e.rate, e.cconfig)
			} else {
				e.matrix.Weaken(a, b, actA, actB, e.rate, e.cconfig)
			}
			res.PairsUpdated++
		}
	}

	res.Stability = e.matrix.Regime(e.cconfig)
	res.Regularized = e.matrix.Regularize(res.Stability, e.cconfig)

	if res.PairsUpdated > 0 || res.Regularized {
		if err := e.couplings.Commit(e.matrix, e.rate, turn); err != nil {
			return res, fmt.Errorf("commit coupling version: %w", err)
		}
	}

	log.Printf("[LEARN] turn=%s reward=%.3f resolved=%t pairs=%d stability=%s regularized=%t",
		prev.TurnID, reward, resolved, res.PairsUpdated, res.Stability, res.Regularized)
	return res, nil
}

// shapeReward applies the caller modifier, then the trajectory and
// stability bonuses.
func (e *Engine) shapeReward(base float32, stability coupling.Stability) float32 {
	reward := e.modifier(base)

	switch e.trend() {
	case trendUp:
		reward *= e.config.ImproveBonus
	case trendDown:
		reward *= e.config.DeclinePenalty
	}

	if stability == coupling.StabilityStable {
		reward *= e.config.StabilityBonus
	}
	return reward
}

// #endregion apply

// #region trend

type trend int

const (
	trendFlat trend = iota
	trendUp
	trendDown
)

// trend reports whether satisfaction has moved in one direction across
// the whole window. Anything mixed or too short counts as flat.
func (e *Engine) trend() trend {
	if len(e.history) < 2 {
		return trendFlat
	}
	up, down := true, true
	for i := 1; i < len(e.history); i++ {
		if e.history[i] <= e.history[i-1] {
			up = false
		}
		if e.history[i] >= e.history[i-1] {
			down = false
		}
	}
	switch {
	case up:
		return trendUp
	case down:
		return trendDown
	default:
		return trendFlat
	}
}

// #endregion trend

// #region helpers

func sortedKeys(m map[string]float32) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion sort; coalitions are tiny
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
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
