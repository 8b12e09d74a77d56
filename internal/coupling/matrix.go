package coupling

// #region imports
import (
	"encoding/binary"
	"math"
	"sort"
)

// #endregion

// #region config

// Config holds learning and regularization parameters for the coupling matrix.
type Config struct {
	LearningRate   float32 // Hebbian step size (stored metadata is authoritative on load)
	InitialWeight  float32 // weight assigned to every pair at creation
	MinWeight      float32 // clip floor, >= 0
	MaxWeight      float32 // clip ceiling, <= 1
	SaturationMean float32 // mean above this → saturating regime
	CollapseStddev float32 // stddev below this → collapsed regime
	CollapseDrift  float32 // min |mean − InitialWeight| for low stddev to count as collapse
	ResetPull      float32 // fraction moved toward the initial weight on regularization
	ResetSpread    float32 // ± offset injected per pair when remediating a collapse
	VolatileDelta  float32 // cumulative |Δw| per turn above this → volatile
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LearningRate:   0.05,
		InitialWeight:  0.5,
		MinWeight:      0.01,
		MaxWeight:      0.95,
		SaturationMean: 0.85,
		CollapseStddev: 0.02,
		CollapseDrift:  0.05,
		ResetPull:      0.25,
		ResetSpread:    0.05,
		VolatileDelta:  0.5,
	}
}

// #endregion config

// #region stability

// Stability classifies the coupling matrix regime. Stable regimes earn a
// small reward bonus in learning feedback; saturating and collapsed
// regimes are failure states requiring regularization.
type Stability string

const (
	StabilityStable     Stability = "stable"
	StabilityVolatile   Stability = "volatile"
	StabilitySaturating Stability = "saturating"
	StabilityCollapsed  Stability = "collapsed"
)

// #endregion stability

// #region matrix

// Matrix is the symmetric P×P coupling weight matrix, one weight per
// processor pair plus self-weight, values in [0, 1]. Mutated only by
// learning feedback via bounded increments.
type Matrix struct {
	organIDs    []string
	index       map[string]int
	weights     []float32 // row-major P×P, kept symmetric
	recentDelta float32   // cumulative |Δw| since the last Classify call
}

// NewMatrix creates a matrix over the given processor registry with every
// entry at the initial weight.
func NewMatrix(organIDs []string, initial float32) *Matrix {
	ids := make([]string, len(organIDs))
	copy(ids, organIDs)
	sort.Strings(ids)

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	p := len(ids)
	weights := make([]float32, p*p)
	for i := range weights {
		weights[i] = initial
	}

	return &Matrix{organIDs: ids, index: index, weights: weights}
}

// OrganIDs returns the sorted processor registry the matrix is indexed by.
func (m *Matrix) OrganIDs() []string {
	ids := make([]string, len(m.organIDs))
	copy(ids, m.organIDs)
	return ids
}

// Size returns the processor count P.
func (m *Matrix) Size() int { return len(m.organIDs) }

// Weight returns the coupling between two processors, 0 for unknown IDs.
func (m *Matrix) Weight(a, b string) float32 {
	i, ok := m.index[a]
	if !ok {
		return 0
	}
	j, ok := m.index[b]
	if !ok {
		return 0
	}
	return m.weights[i*len(m.organIDs)+j]
}

func (m *Matrix) set(i, j int, v float32) {
	p := len(m.organIDs)
	m.weights[i*p+j] = v
	m.weights[j*p+i] = v
}

// #endregion matrix

// #region update

// Strengthen applies an Oja-stabilized Hebbian increment for a co-active
// pair: Δw = η(aᵢaⱼ − aⱼ²w). The forgetting term keeps weights from
// running away; the result is clipped to [MinWeight, MaxWeight].
func (m *Matrix) Strengthen(a, b string, actA, actB, rate float32, config Config) {
	i, ok := m.index[a]
	if !ok {
		return
	}
	j, ok := m.index[b]
	if !ok {
		return
	}
	w := m.weights[i*len(m.organIDs)+j]
	dw := rate * (actA*actB - actB*actB*w)
	m.applyDelta(i, j, w, dw, config)
}

// Weaken applies a bounded decrement proportional to the co-activation,
// used when feedback on a coalition was negative.
func (m *Matrix) Weaken(a, b string, actA, actB, rate float32, config Config) {
	i, ok := m.index[a]
	if !ok {
		return
	}
	j, ok := m.index[b]
	if !ok {
		return
	}
	w := m.weights[i*len(m.organIDs)+j]
	dw := -rate * actA * actB
	m.applyDelta(i, j, w, dw, config)
}

func (m *Matrix) applyDelta(i, j int, w, dw float32, config Config) {
	nw := w + dw
	if nw < config.MinWeight {
		nw = config.MinWeight
	}
	if nw > config.MaxWeight {
		nw = config.MaxWeight
	}
	m.recentDelta += float32(math.Abs(float64(nw - w)))
	m.set(i, j, nw)
}

// #endregion update

// #region stats

// Mean returns the average of all matrix entries.
func (m *Matrix) Mean() float32 {
	if len(m.weights) == 0 {
		return 0
	}
	var sum float64
	for _, w := range m.weights {
		sum += float64(w)
	}
	return float32(sum / float64(len(m.weights)))
}

// Stddev returns the population standard deviation of all entries.
func (m *Matrix) Stddev() float32 {
	if len(m.weights) == 0 {
		return 0
	}
	mean := float64(m.Mean())
	var variance float64
	for _, w := range m.weights {
		d := float64(w) - mean
		variance += d * d
	}
	return float32(math.Sqrt(variance / float64(len(m.weights))))
}

// #endregion stats

// #region classify

// Classify determines the current regime and resets the per-turn delta
// accumulator. Exactly one caller may own the accumulator; read-only
// observers use Regime instead.
func (m *Matrix) Classify(config Config) Stability {
	delta := m.recentDelta
	m.recentDelta = 0
	return m.classify(delta, config)
}

// Regime reports the current regime without consuming the delta
// accumulator.
func (m *Matrix) Regime(config Config) Stability {
	return m.classify(m.recentDelta, config)
}

// Saturation and collapse take precedence over volatility. A uniform
// matrix still sitting at the initial weight is a fresh matrix, not a
// collapsed one: collapse requires the common value to have drifted.
func (m *Matrix) classify(delta float32, config Config) Stability {
	mean := m.Mean()
	drift := float32(math.Abs(float64(mean - config.InitialWeight)))
	switch {
	case mean > config.SaturationMean:
		return StabilitySaturating
	case m.Stddev() < config.CollapseStddev && drift > config.CollapseDrift:
		return StabilityCollapsed
	case delta > config.VolatileDelta:
		return StabilityVolatile
	default:
		return StabilityStable
	}
}

// Regularize applies a partial reset when the matrix is saturating or
// collapsed. Every entry moves ResetPull of the way back toward the
// initial weight; a collapsed matrix additionally gets an alternating
// ±ResetSpread offset per pair, since a collapse is a loss of
// differentiation and pulling every entry toward one common value
// cannot repair it. Returns true when a reset was applied.
func (m *Matrix) Regularize(s Stability, config Config) bool {
	if s != StabilitySaturating && s != StabilityCollapsed {
		return false
	}
	p := len(m.organIDs)
	pair := 0
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			w := m.weights[i*p+j]
			nw := w + config.ResetPull*(config.InitialWeight-w)
			if s == StabilityCollapsed {
				// Full offset, not scaled by the pull: the spread must
				// clear the collapse threshold in one application.
				if pair%2 == 0 {
					nw += config.ResetSpread
				} else {
					nw -= config.ResetSpread
				}
			}
			pair++

			if nw < config.MinWeight {
				nw = config.MinWeight
			}
			if nw > config.MaxWeight {
				nw = config.MaxWeight
			}
			m.set(i, j, nw)
		}
	}
	return true
}

// #endregion classify

// #region encoding

// encodeWeights serializes the weight block as little-endian float32s,
// matching the on-disk blob format.
func encodeWeights(w []float32) []byte {
	buf := make([]byte, len(w)*4)
	for i, f := range w {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeWeights parses a weight blob; returns false on size mismatch.
func decodeWeights(b []byte, p int) ([]float32, bool) {
	if len(b) != p*p*4 {
		return nil, false
	}
	w := make([]float32, p*p)
	for i := range w {
		w[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return w, true
}

// #endregion encoding
