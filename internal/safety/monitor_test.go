package safety

import (
	"testing"

	"github.com/axo-lotto/felt/go-pipeline/internal/felt"
	"github.com/axo-lotto/felt/go-pipeline/internal/organ"
)

func TestAssessCalmInputStaysOutOfMinimalMode(t *testing.T) {
	monitor := NewMonitor(DefaultConfig())

	a := monitor.Assess(felt.State{}, Insights{
		DistressDistance: 1,
		NervousState:     organ.StateVentral,
		Urgency:          0,
	})
	if a.MinimalMode {
		t.Fatalf("calm insights must not force minimal mode, risk=%v", a.Risk)
	}
	if a.Risk != 0 {
		t.Fatalf("distance 1 with ventral offset should clamp to zero risk, got %v", a.Risk)
	}
}

func TestAssessCloseDistressForcesMinimalMode(t *testing.T) {
	monitor := NewMonitor(DefaultConfig())

	a := monitor.Assess(felt.State{}, Insights{
		DistressDistance: 0,
		NervousState:     organ.StateDorsal,
		Urgency:          1,
	})
	if !a.MinimalMode {
		t.Fatalf("maximum distress must force minimal mode, risk=%v", a.Risk)
	}
	if a.Risk != 1 {
		t.Fatalf("expected clamped risk 1, got %v", a.Risk)
	}
}

func TestStateOffsetsModulateRisk(t *testing.T) {
	monitor := NewMonitor(DefaultConfig())
	base := Insights{DistressDistance: 0.5, Urgency: 0}

	ventral := base
	ventral.NervousState = organ.StateVentral
	sympathetic := base
	sympathetic.NervousState = organ.StateSympathetic
	dorsal := base
	dorsal.NervousState = organ.StateDorsal

	rv := monitor.Assess(felt.State{}, ventral).Risk
	rs := monitor.Assess(felt.State{}, sympathetic).Risk
	rd := monitor.Assess(felt.State{}, dorsal).Risk

	if !(rv < rs && rs < rd) {
		t.Fatalf("offsets must order risk ventral < sympathetic < dorsal: %v %v %v", rv, rs, rd)
	}
}

func TestUnknownStateAppliesNoOffset(t *testing.T) {
	monitor := NewMonitor(DefaultConfig())

	plain := monitor.Assess(felt.State{}, Insights{DistressDistance: 0.5}).Risk
	// 0.7 * 0.5 = 0.35
	if plain < 0.34 || plain > 0.36 {
		t.Fatalf("expected risk ~0.35 without state offset, got %v", plain)
	}
}

func TestExtractInsights(t *testing.T) {
	monitor := NewMonitor(DefaultConfig())

	results := []organ.Result{
		{OrganID: "distress", Activations: map[string]float32{organ.DistressAtom: 0.2}},
		{OrganID: "autonomic", Activations: map[string]float32{organ.StateSympathetic: 0.7}},
		{OrganID: "urgency", Coherence: 0.9},
		{OrganID: "affect", Coherence: 0.4, Activations: map[string]float32{"threat": 0.8}},
	}

	ins := monitor.ExtractInsights(results)
	if ins.DistressDistance != 0.2 {
		t.Fatalf("distress distance not extracted: %v", ins.DistressDistance)
	}
	if ins.NervousState != organ.StateSympathetic {
		t.Fatalf("nervous state not extracted: %q", ins.NervousState)
	}
	if ins.Urgency != 0.9 {
		t.Fatalf("urgency not extracted: %v", ins.Urgency)
	}
}

func TestExtractInsightsMissingOrgansDegradeNeutral(t *testing.T) {
	monitor := NewMonitor(DefaultConfig())
	ins := monitor.ExtractInsights(nil)
	if ins.DistressDistance != 1 || ins.Urgency != 0 || ins.NervousState != "" {
		t.Fatalf("missing organs should yield neutral insights, got %+v", ins)
	}
}
