package emission

// #region imports
import (
	"context"
	"time"

	"github.com/axo-lotto/felt/go-pipeline/internal/nexus"
)

// #endregion

// #region strategy-id

// StrategyID identifies which cascade branch produced a turn's output.
type StrategyID string

const (
	StrategyMinimalSafe StrategyID = "minimal_safe"
	StrategyDirect      StrategyID = "direct"
	StrategyFusion      StrategyID = "fusion"
	StrategyPattern     StrategyID = "pattern_learned"
	StrategyLLM         StrategyID = "llm_fallback"
	StrategyHebbian     StrategyID = "hebbian_fallback"
)

// #endregion strategy-id

// #region record

// Record is the output of a turn. Referenced (not copied) by learning
// feedback until the delayed reward is applied, then released.
type Record struct {
	TurnID     string
	Strategy   StrategyID
	Text       string
	Confidence float32 // [0, 1]

	// Signature is set whenever a nexus informed the emission, so
	// feedback can find it next turn. Empty when no coalition formed.
	Signature nexus.Signature

	// MemberActivations carries the mean activation per coalition member
	// at emission time, for the coupling update.
	MemberActivations map[string]float32
}

// #endregion record

// #region generator

// Constraints bounds an external generation call.
type Constraints struct {
	MaxWords int    `json:"max_words"`
	FeltHint string `json:"felt_hint"` // short textual summary of the felt state
}

// Generator is the black-box external generation backend used by the
// llm_fallback strategy. Implementations must honor ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, prompt string, constraints Constraints) (string, error)
}

// #endregion generator

// #region config

// Config holds the cascade thresholds and fixed confidences. All of
// these require frequent retuning and are configuration, not constants.
type Config struct {
	DirectThreshold float32 // branch 2: best readiness gate
	FusionThreshold float32 // branch 3: best readiness gate
	QualityGate     float32 // branch 4: learned-quality gate
	TopK            int     // pattern lookup breadth

	// Confidence for the minimal branch is intentionally high: it
	// reports confidence in the correctness of choosing safety, not in
	// content richness.
	MinimalConfidence  float32
	LLMConfidence      float32
	FallbackConfidence float32

	OrganicOnly     bool          // disables the external generator branch
	GenerateTimeout time.Duration // bound on the external call
	GenerateWords   int           // MaxWords constraint for the generator

	MinimalFragment  string
	FallbackFragment string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DirectThreshold:    0.65,
		FusionThreshold:    0.45,
		QualityGate:        0.6,
		TopK:               5,
		MinimalConfidence:  0.9,
		LLMConfidence:      0.6,
		FallbackConfidence: 0.25,
		OrganicOnly:        false,
		GenerateTimeout:    10 * time.Second,
		GenerateWords:      120,
		MinimalFragment:    "I'm here with you. Take whatever time you need.",
		FallbackFragment:   "I'm listening. Tell me more about that.",
	}
}

// #endregion config
