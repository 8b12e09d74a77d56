package learning

import (
	"math/rand"
	"testing"

	"github.com/axo-lotto/felt/go-pipeline/internal/coupling"
	"github.com/axo-lotto/felt/go-pipeline/internal/emission"
	"github.com/axo-lotto/felt/go-pipeline/internal/nexus"
	"github.com/axo-lotto/felt/go-pipeline/internal/pattern"
)

var registry = []string{"affect", "distress", "urgency"}

type fixture struct {
	engine    *Engine
	patterns  *pattern.Store
	couplings *coupling.Store
	matrix    *coupling.Matrix
}

func newFixture(t *testing.T, config Config, modifier Modifier) *fixture {
	t.Helper()
	db, err := coupling.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cconfig := coupling.DefaultConfig()
	couplings, err := coupling.NewStore(db, cconfig)
	if err != nil {
		t.Fatalf("new coupling store: %v", err)
	}
	matrix, rate, err := couplings.LoadActive(registry)
	if err != nil {
		t.Fatalf("load matrix: %v", err)
	}
	patterns, err := pattern.NewStore(db, pattern.DefaultConfig(), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new pattern store: %v", err)
	}

	return &fixture{
		engine:    NewEngine(config, patterns, couplings, matrix, rate, cconfig, modifier),
		patterns:  patterns,
		couplings: couplings,
		matrix:    matrix,
	}
}

func prevRecord(sig nexus.Signature) *emission.Record {
	return &emission.Record{
		TurnID:    "turn-1",
		Strategy:  emission.StrategyDirect,
		Text:      "noticing threat",
		Signature: sig,
		MemberActivations: map[string]float32{
			"affect":   0.8,
			"distress": 0.9,
		},
	}
}

func TestApplyNilPrevIsNoOp(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	res, err := f.engine.Apply(nil, 0.9, 1)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.PairsUpdated != 0 || res.PatternResolved {
		t.Fatalf("first turn must be a no-op, got %+v", res)
	}
}

func TestApplyResolvesPendingAndStrengthens(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	sig := nexus.SignatureFor([]string{"affect", "distress"}, registry)

	if err := f.patterns.RegisterPending("turn-1", sig, "noticing threat"); err != nil {
		t.Fatalf("register: %v", err)
	}

	before := f.matrix.Weight("affect", "distress")
	res, err := f.engine.Apply(prevRecord(sig), 0.9, 2)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.PatternResolved {
		t.Fatal("pending feedback must be resolved")
	}
	if res.PairsUpdated != 1 {
		t.Fatalf("one member pair expected, got %d", res.PairsUpdated)
	}
	if f.matrix.Weight("affect", "distress") <= before {
		t.Fatal("high reward must strengthen the member pair coupling")
	}

	// The resolved reward seeded the pattern record.
	records, err := f.patterns.Lookup(sig, 5)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(records) != 1 || records[0].Quality != res.Reward {
		t.Fatalf("pattern quality should equal the shaped reward, got %+v", records)
	}
}

func TestApplyWeakensOnLowReward(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	sig := nexus.SignatureFor([]string{"affect", "distress"}, registry)

	before := f.matrix.Weight("affect", "distress")
	if _, err := f.engine.Apply(prevRecord(sig), 0.2, 2); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if f.matrix.Weight("affect", "distress") >= before {
		t.Fatal("low reward must weaken the member pair coupling")
	}
}

func TestTrajectoryShapesReward(t *testing.T) {
	sig := nexus.SignatureFor([]string{"affect", "distress"}, registry)

	flat := newFixture(t, DefaultConfig(), nil)
	resFlat, err := flat.engine.Apply(prevRecord(sig), 0.6, 2)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	up := newFixture(t, DefaultConfig(), nil)
	up.engine.Observe(0.2)
	up.engine.Observe(0.4)
	up.engine.Observe(0.6)
	resUp, err := up.engine.Apply(prevRecord(sig), 0.6, 2)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	down := newFixture(t, DefaultConfig(), nil)
	down.engine.Observe(0.8)
	down.engine.Observe(0.6)
	down.engine.Observe(0.4)
	resDown, err := down.engine.Apply(prevRecord(sig), 0.6, 2)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if !(resUp.Reward > resFlat.Reward) {
		t.Fatalf("sustained improvement must boost the reward: up=%v flat=%v", resUp.Reward, resFlat.Reward)
	}
	if !(resDown.Reward < resFlat.Reward) {
		t.Fatalf("decline must penalize the reward: down=%v flat=%v", resDown.Reward, resFlat.Reward)
	}
}

func TestMixedTrajectoryIsFlat(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	f.engine.Observe(0.2)
	f.engine.Observe(0.8)
	f.engine.Observe(0.4)
	if f.engine.trend() != trendFlat {
		t.Fatal("mixed history must not count as a trend")
	}
}

func TestStableMatrixEarnsBonus(t *testing.T) {
	sig := nexus.SignatureFor([]string{"affect", "distress"}, registry)
	cconfig := coupling.DefaultConfig()

	stable := newFixture(t, DefaultConfig(), nil)
	stable.matrix.Strengthen("affect", "urgency", 1, 1, 0.3, cconfig)
	if got := stable.matrix.Classify(cconfig); got != coupling.StabilityStable {
		t.Fatalf("perturbed matrix should classify stable, got %s", got)
	}
	resStable, err := stable.engine.Apply(prevRecord(sig), 0.6, 2)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Drift every pair down together: uniform at a non-initial value is
	// the collapsed regime, which earns no bonus.
	collapsed := newFixture(t, DefaultConfig(), nil)
	for i, a := range registry {
		for _, b := range registry[i:] {
			collapsed.matrix.Weaken(a, b, 1, 1, 0.45, cconfig)
		}
	}
	if got := collapsed.matrix.Classify(cconfig); got != coupling.StabilityCollapsed {
		t.Fatalf("drifted uniform matrix should classify collapsed, got %s", got)
	}
	resCollapsed, err := collapsed.engine.Apply(prevRecord(sig), 0.6, 2)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if !(resStable.Reward > resCollapsed.Reward) {
		t.Fatalf("stable regime must earn the bonus: stable=%v collapsed=%v",
			resStable.Reward, resCollapsed.Reward)
	}
}

func TestStabilityReadSeesPreviousTurnDeltas(t *testing.T) {
	db, err := coupling.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// A volatility threshold small enough that one turn's Hebbian pass
	// trips it on the next turn's pre-update read.
	cconfig := coupling.DefaultConfig()
	cconfig.VolatileDelta = 0.01

	couplings, err := coupling.NewStore(db, cconfig)
	if err != nil {
		t.Fatalf("new coupling store: %v", err)
	}
	matrix, rate, err := couplings.LoadActive(registry)
	if err != nil {
		t.Fatalf("load matrix: %v", err)
	}
	patterns, err := pattern.NewStore(db, pattern.DefaultConfig(), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("new pattern store: %v", err)
	}

	matrix.Strengthen("affect", "urgency", 1, 1, 0.3, cconfig)
	if got := matrix.Classify(cconfig); got != coupling.StabilityStable {
		t.Fatalf("perturbed matrix should classify stable, got %s", got)
	}

	engine := NewEngine(DefaultConfig(), patterns, couplings, matrix, rate, cconfig, nil)
	sig := nexus.SignatureFor([]string{"affect", "distress"}, registry)

	first, err := engine.Apply(prevRecord(sig), 0.6, 2)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	second, err := engine.Apply(prevRecord(sig), 0.6, 3)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Turn 2's updates left a delta the turn 3 read must still see: the
	// regime there is volatile, so the stability bonus does not apply.
	if !(second.Reward < first.Reward) {
		t.Fatalf("volatile pre-update regime must drop the bonus: first=%v second=%v",
			first.Reward, second.Reward)
	}
}

func TestRewardIsClamped(t *testing.T) {
	f := newFixture(t, DefaultConfig(), func(base float32) float32 { return base * 3 })
	sig := nexus.SignatureFor([]string{"affect", "distress"}, registry)

	res, err := f.engine.Apply(prevRecord(sig), 0.9, 2)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Reward != 1 {
		t.Fatalf("reward must clamp to 1, got %v", res.Reward)
	}
}

func TestCommitPersistsCouplingUpdate(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil)
	sig := nexus.SignatureFor([]string{"affect", "distress"}, registry)

	if _, err := f.engine.Apply(prevRecord(sig), 0.9, 2); err != nil {
		t.Fatalf("apply: %v", err)
	}

	reloaded, _, err := f.couplings.LoadActive(registry)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Weight("affect", "distress") != f.matrix.Weight("affect", "distress") {
		t.Fatal("coupling update must survive a reload")
	}
}
