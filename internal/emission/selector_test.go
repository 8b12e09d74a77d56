package emission

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/axo-lotto/felt/go-pipeline/internal/coupling"
	"github.com/axo-lotto/felt/go-pipeline/internal/felt"
	"github.com/axo-lotto/felt/go-pipeline/internal/nexus"
	"github.com/axo-lotto/felt/go-pipeline/internal/pattern"
	"github.com/axo-lotto/felt/go-pipeline/internal/safety"
)

var testRegistry = []string{"affect", "autonomic", "distress", "inquiry", "urgency"}

func newPatternStore(t *testing.T) *pattern.Store {
	t.Helper()
	db, err := coupling.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := pattern.NewStore(db, pattern.DefaultConfig(), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new pattern store: %v", err)
	}
	return store
}

func newSelector(t *testing.T, gen Generator) *Selector {
	t.Helper()
	return NewSelector(DefaultConfig(), newPatternStore(t), gen, testRegistry)
}

// fakeGen returns fixed text or an error.
type fakeGen struct {
	text string
	err  error
}

func (f *fakeGen) Generate(_ context.Context, _ string, _ Constraints) (string, error) {
	return f.text, f.err
}

// slowGen blocks until the context is cancelled.
type slowGen struct{}

func (s *slowGen) Generate(ctx context.Context, _ string, _ Constraints) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func strongNexus(readiness float32, members ...string) nexus.Nexus {
	return nexus.Nexus{
		Members:              members,
		SharedAtoms:          []string{"threat", "feeling_negative"},
		IntersectionStrength: 2.0,
		Readiness:            readiness,
	}
}

// Scenario A: maximum risk → minimal safe, regardless of nexus readiness.
func TestSafetyOverrideBeatsEverything(t *testing.T) {
	sel := newSelector(t, &fakeGen{text: "generated"})

	rec := sel.Select(context.Background(), "t1", felt.State{},
		[]nexus.Nexus{strongNexus(0.99, "affect", "distress", "urgency")},
		safety.Assessment{Risk: 1, MinimalMode: true}, nil)

	if rec.Strategy != StrategyMinimalSafe {
		t.Fatalf("minimal mode must win the cascade, got %s", rec.Strategy)
	}
	if rec.Confidence != DefaultConfig().MinimalConfidence {
		t.Fatalf("minimal branch carries the fixed high confidence, got %v", rec.Confidence)
	}
}

// Scenario C: readiness 0.66 ≥ direct threshold 0.65 with 3 members → direct.
func TestDirectFiresJustAboveThreshold(t *testing.T) {
	config := DefaultConfig()
	config.DirectThreshold = 0.65
	sel := NewSelector(config, newPatternStore(t), nil, testRegistry)

	rec := sel.Select(context.Background(), "t1", felt.State{},
		[]nexus.Nexus{strongNexus(0.66, "affect", "distress", "urgency")},
		safety.Assessment{}, map[string]float32{"affect": 0.5, "distress": 0.4, "urgency": 0.6})

	if rec.Strategy != StrategyDirect {
		t.Fatalf("expected direct, got %s", rec.Strategy)
	}
	if rec.Confidence != 0.66 {
		t.Fatalf("direct confidence must equal readiness, got %v", rec.Confidence)
	}
	if rec.Signature != nexus.SignatureFor([]string{"affect", "distress", "urgency"}, testRegistry) {
		t.Fatalf("unexpected signature: %s", rec.Signature)
	}
	if rec.MemberActivations["urgency"] != 0.6 {
		t.Fatalf("member activations not captured: %v", rec.MemberActivations)
	}
}

func TestDirectNeedsThreeMembers(t *testing.T) {
	sel := newSelector(t, nil)

	// High readiness but only two members: direct must not fire; fusion does.
	rec := sel.Select(context.Background(), "t1", felt.State{},
		[]nexus.Nexus{strongNexus(0.9, "affect", "distress")},
		safety.Assessment{}, nil)

	if rec.Strategy != StrategyFusion {
		t.Fatalf("two members must fall through to fusion, got %s", rec.Strategy)
	}
}

func TestFusionBlendsTopTwo(t *testing.T) {
	sel := newSelector(t, nil)

	first := strongNexus(0.6, "affect", "distress")
	second := strongNexus(0.5, "inquiry", "urgency")
	rec := sel.Select(context.Background(), "t1", felt.State{},
		[]nexus.Nexus{first, second}, safety.Assessment{}, nil)

	if rec.Strategy != StrategyFusion {
		t.Fatalf("expected fusion, got %s", rec.Strategy)
	}
	want := 0.6*float32(0.6) + 0.4*float32(0.5)
	if rec.Confidence < want-0.001 || rec.Confidence > want+0.001 {
		t.Fatalf("fusion confidence should be weighted readiness %v, got %v", want, rec.Confidence)
	}
}

func TestPatternFiresWhenNexusWeak(t *testing.T) {
	store := newPatternStore(t)
	sel := NewSelector(DefaultConfig(), store, nil, testRegistry)

	sig := nexus.SignatureFor([]string{"affect", "distress"}, testRegistry)
	if err := store.RecordOutcome(sig, "learned response", 0.8, 1); err != nil {
		t.Fatalf("seed pattern: %v", err)
	}

	// Readiness below the fusion threshold → branch 4.
	rec := sel.Select(context.Background(), "t1", felt.State{},
		[]nexus.Nexus{strongNexus(0.2, "affect", "distress")},
		safety.Assessment{}, nil)

	if rec.Strategy != StrategyPattern {
		t.Fatalf("expected pattern_learned, got %s", rec.Strategy)
	}
	if rec.Text != "learned response" || rec.Confidence != 0.8 {
		t.Fatalf("pattern emission should carry fragment and quality, got %+v", rec)
	}
}

func TestPatternBelowGateFallsThrough(t *testing.T) {
	store := newPatternStore(t)
	sel := NewSelector(DefaultConfig(), store, &fakeGen{text: "generated"}, testRegistry)

	sig := nexus.SignatureFor([]string{"affect", "distress"}, testRegistry)
	store.RecordOutcome(sig, "mediocre", 0.4, 1) // below the 0.6 gate

	rec := sel.Select(context.Background(), "t1", felt.State{},
		[]nexus.Nexus{strongNexus(0.2, "affect", "distress")},
		safety.Assessment{}, nil)

	if rec.Strategy != StrategyLLM {
		t.Fatalf("below-gate pattern must fall through to the generator, got %s", rec.Strategy)
	}
	if rec.Text != "generated" || rec.Confidence != DefaultConfig().LLMConfidence {
		t.Fatalf("unexpected llm emission: %+v", rec)
	}
}

func TestGeneratorErrorDegradesToFallback(t *testing.T) {
	sel := newSelector(t, &fakeGen{err: errors.New("backend down")})

	rec := sel.Select(context.Background(), "t1", felt.State{}, nil, safety.Assessment{}, nil)
	if rec.Strategy != StrategyHebbian {
		t.Fatalf("generator failure must degrade to fallback, got %s", rec.Strategy)
	}
}

func TestGeneratorTimeoutDegradesToFallback(t *testing.T) {
	config := DefaultConfig()
	config.GenerateTimeout = 10 * time.Millisecond
	sel := NewSelector(config, newPatternStore(t), &slowGen{}, testRegistry)

	start := time.Now()
	rec := sel.Select(context.Background(), "t1", felt.State{}, nil, safety.Assessment{}, nil)
	if time.Since(start) > time.Second {
		t.Fatal("generator call was not bounded by timeout")
	}
	if rec.Strategy != StrategyHebbian {
		t.Fatalf("timeout must degrade to fallback, got %s", rec.Strategy)
	}
}

func TestOrganicOnlySkipsGenerator(t *testing.T) {
	config := DefaultConfig()
	config.OrganicOnly = true
	sel := NewSelector(config, newPatternStore(t), &fakeGen{text: "generated"}, testRegistry)

	rec := sel.Select(context.Background(), "t1", felt.State{}, nil, safety.Assessment{}, nil)
	if rec.Strategy != StrategyHebbian {
		t.Fatalf("organic-only mode must skip the generator, got %s", rec.Strategy)
	}
}

// Scenario D: no nexuses, empty store, no generator → generic fallback
// with the documented low fixed confidence.
func TestFullFallthrough(t *testing.T) {
	sel := newSelector(t, nil)

	rec := sel.Select(context.Background(), "t1", felt.State{}, nil, safety.Assessment{}, nil)
	if rec.Strategy != StrategyHebbian {
		t.Fatalf("expected hebbian_fallback, got %s", rec.Strategy)
	}
	if rec.Confidence != DefaultConfig().FallbackConfidence {
		t.Fatalf("expected the fixed low confidence, got %v", rec.Confidence)
	}
	if rec.Text != DefaultConfig().FallbackFragment {
		t.Fatalf("expected the generic fragment, got %q", rec.Text)
	}
}

// Scenario B: identical inputs with an empty pattern store select
// deterministically.
func TestDeterministicSelectionOnReplay(t *testing.T) {
	nexuses := []nexus.Nexus{strongNexus(0.7, "affect", "distress", "urgency")}

	first := newSelector(t, nil).Select(context.Background(), "t1", felt.State{},
		nexuses, safety.Assessment{}, nil)
	for i := 0; i < 5; i++ {
		again := newSelector(t, nil).Select(context.Background(), "t1", felt.State{},
			nexuses, safety.Assessment{}, nil)
		if again.Strategy != first.Strategy || again.Text != first.Text || again.Confidence != first.Confidence {
			t.Fatalf("replay must be deterministic: %+v vs %+v", first, again)
		}
	}
}
