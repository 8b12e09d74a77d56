package emission

// #region imports
import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/axo-lotto/felt/go-pipeline/internal/felt"
	"github.com/axo-lotto/felt/go-pipeline/internal/nexus"
	"github.com/axo-lotto/felt/go-pipeline/internal/pattern"
	"github.com/axo-lotto/felt/go-pipeline/internal/safety"
)

// #endregion

// #region selector

// Selector executes the emission priority cascade: exactly one strategy
// fires per turn, first satisfied branch wins.
type Selector struct {
	config   Config
	patterns *pattern.Store
	gen      Generator // nil = no external backend configured
	registry []string  // sorted processor registry, for signatures
}

// NewSelector creates a selector. gen may be nil.
func NewSelector(config Config, patterns *pattern.Store, gen Generator, registry []string) *Selector {
	return &Selector{config: config, patterns: patterns, gen: gen, registry: registry}
}

// #endregion selector

// #region select

// Select runs the cascade. activations carries the mean activation per
// processor from the final cycle, for learning attribution.
//
// Cascade, first satisfied wins:
//  1. minimal safe (safety override, absolute priority)
//  2. direct synthesis (readiness ≥ direct threshold, ≥3 members)
//  3. fused synthesis (readiness ≥ fusion threshold, ≥2 members)
//  4. learned pattern above the quality gate
//  5. external generator (unless disabled; degrades to 6 on any failure)
//  6. generic fallback
func (s *Selector) Select(
	ctx context.Context,
	turnID string,
	state felt.State,
	nexuses []nexus.Nexus,
	assessment safety.Assessment,
	activations map[string]float32,
) Record {
	// 1. Safety override. No nexus confidence can unset it.
	if assessment.MinimalMode {
		log.Printf("[EMIT] strategy=%s risk=%.3f", StrategyMinimalSafe, assessment.Risk)
		return Record{
			TurnID:     turnID,
			Strategy:   StrategyMinimalSafe,
			Text:       s.config.MinimalFragment,
			Confidence: s.config.MinimalConfidence,
		}
	}

	var best *nexus.Nexus
	if len(nexuses) > 0 {
		best = &nexuses[0]
	}

	// 2. Direct synthesis from the strongest coalition.
	if best != nil && best.Readiness >= s.config.DirectThreshold && len(best.Members) >= 3 {
		log.Printf("[EMIT] strategy=%s readiness=%.3f members=%d", StrategyDirect, best.Readiness, len(best.Members))
		return Record{
			TurnID:            turnID,
			Strategy:          StrategyDirect,
			Text:              synthesizeDirect(*best),
			Confidence:        best.Readiness,
			Signature:         nexus.SignatureFor(best.Members, s.registry),
			MemberActivations: memberActivations(best.Members, activations),
		}
	}

	// 3. Fused synthesis from the top two coalitions.
	if best != nil && best.Readiness >= s.config.FusionThreshold && len(best.Members) >= 2 {
		confidence := best.Readiness
		text := synthesizeDirect(*best)
		if len(nexuses) > 1 {
			second := nexuses[1]
			confidence = 0.6*best.Readiness + 0.4*second.Readiness
			text = synthesizeFused(*best, second)
		}
		log.Printf("[EMIT] strategy=%s confidence=%.3f", StrategyFusion, confidence)
		return Record{
			TurnID:            turnID,
			Strategy:          StrategyFusion,
			Text:              text,
			Confidence:        confidence,
			Signature:         nexus.SignatureFor(best.Members, s.registry),
			MemberActivations: memberActivations(best.Members, activations),
		}
	}

	// 4. Learned pattern for the current (or best available) signature.
	sig := nexus.EmptySignature(s.registry)
	var members map[string]float32
	if best != nil {
		sig = nexus.SignatureFor(best.Members, s.registry)
		members = memberActivations(best.Members, activations)
	}
	if rec := s.lookupPattern(sig); rec != nil {
		log.Printf("[EMIT] strategy=%s quality=%.3f sig=%s", StrategyPattern, rec.Quality, rec.Signature)
		return Record{
			TurnID:            turnID,
			Strategy:          StrategyPattern,
			Text:              rec.Fragment,
			Confidence:        rec.Quality,
			Signature:         rec.Signature,
			MemberActivations: members,
		}
	}

	// 5. External generation, bounded by timeout; degrades to 6.
	if s.gen != nil && !s.config.OrganicOnly {
		if text, err := s.generate(ctx, state, best); err == nil {
			log.Printf("[EMIT] strategy=%s confidence=%.3f", StrategyLLM, s.config.LLMConfidence)
			return Record{
				TurnID:            turnID,
				Strategy:          StrategyLLM,
				Text:              text,
				Confidence:        s.config.LLMConfidence,
				Signature:         sig,
				MemberActivations: members,
			}
		} else {
			log.Printf("[EMIT] external generation failed (%v), degrading to fallback", err)
		}
	}

	// 6. Generic fallback.
	log.Printf("[EMIT] strategy=%s confidence=%.3f", StrategyHebbian, s.config.FallbackConfidence)
	return Record{
		TurnID:            turnID,
		Strategy:          StrategyHebbian,
		Text:              s.config.FallbackFragment,
		Confidence:        s.config.FallbackConfidence,
		Signature:         sig,
		MemberActivations: members,
	}
}

// #endregion select

// #region pattern-branch

func (s *Selector) lookupPattern(sig nexus.Signature) *pattern.Record {
	records, err := s.patterns.Lookup(sig, s.config.TopK)
	if err != nil {
		log.Printf("[EMIT] pattern lookup failed: %v", err)
		return nil
	}
	gated := records[:0:0]
	for _, r := range records {
		if r.Quality > s.config.QualityGate {
			gated = append(gated, r)
		}
	}
	return s.patterns.Select(gated)
}

// #endregion pattern-branch

// #region generate-branch

func (s *Selector) generate(ctx context.Context, state felt.State, best *nexus.Nexus) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, s.config.GenerateTimeout)
	defer cancel()

	prompt := "Respond briefly and warmly."
	if best != nil {
		prompt = fmt.Sprintf("Respond briefly and warmly, touching on: %s.",
			strings.Join(best.SharedAtoms, ", "))
	}
	hint := fmt.Sprintf("energy=%.2f satisfaction=%.2f", state.Energy, state.Satisfaction)

	return s.gen.Generate(gctx, prompt, Constraints{
		MaxWords: s.config.GenerateWords,
		FeltHint: hint,
	})
}

// #endregion generate-branch

// #region synthesis

// synthesizeDirect builds response text from a coalition's shared atoms.
func synthesizeDirect(n nexus.Nexus) string {
	themes := humanizeAtoms(n.SharedAtoms)
	if len(themes) == 0 {
		return "There's something coming together here for me."
	}
	return fmt.Sprintf("I'm noticing %s in what you're sharing — that lands strongly with me.",
		joinThemes(themes))
}

// synthesizeFused blends the top two coalitions.
func synthesizeFused(a, b nexus.Nexus) string {
	ta := humanizeAtoms(a.SharedAtoms)
	tb := humanizeAtoms(b.SharedAtoms)
	if len(tb) == 0 {
		return synthesizeDirect(a)
	}
	return fmt.Sprintf("I'm noticing %s, and underneath that, %s.",
		joinThemes(ta), joinThemes(tb))
}

func humanizeAtoms(atoms []string) []string {
	out := make([]string, 0, len(atoms))
	for _, a := range atoms {
		out = append(out, strings.ReplaceAll(a, "_", " "))
	}
	return out
}

func joinThemes(themes []string) string {
	switch len(themes) {
	case 0:
		return ""
	case 1:
		return themes[0]
	default:
		return strings.Join(themes[:len(themes)-1], ", ") + " and " + themes[len(themes)-1]
	}
}

// #endregion synthesis

// #region helpers

func memberActivations(members []string, activations map[string]float32) map[string]float32 {
	out := make(map[string]float32, len(members))
	for _, m := range members {
		out[m] = activations[m]
	}
	return out
}

// #endregion helpers
