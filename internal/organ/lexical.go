package organ

// #region imports
import (
	"context"
	"strings"
)

// #endregion

// #region lexical

// Lexical is a small keyword-heuristic processor. It exists so the demo
// binary and the replay harness run without external processors; real
// deployments register their own Processor implementations instead.
//
// Atom IDs are shared across the built-in organs on purpose: nexus
// formation depends on activation overlap between processors.
type Lexical struct {
	id    string
	atoms map[string][]string // atom id → trigger phrases
}

// NewLexical creates a lexical processor with the given atom table.
func NewLexical(id string, atoms map[string][]string) *Lexical {
	return &Lexical{id: id, atoms: atoms}
}

// ID returns the processor identity.
func (l *Lexical) ID() string { return l.id }

// Process matches trigger phrases against the span text. Activation
// strength saturates with hit count; coherence saturates with the total
// number of hits. Cycle-invariant, so replays are deterministic.
func (l *Lexical) Process(_ context.Context, span Span, _ int) (Result, error) {
	lower := strings.ToLower(span.Text)
	activations := make(map[string]float32)
	totalHits := 0

	for atom, phrases := range l.atoms {
		hits := 0
		for _, ph := range phrases {
			if strings.Contains(lower, ph) {
				hits++
			}
		}
		if hits > 0 {
			activations[atom] = 1 - 1/float32(1+hits) // 0.5, 0.67, 0.75, ...
			totalHits += hits
		}
	}

	coherence := float32(totalHits) * 0.25
	if coherence > 1 {
		coherence = 1
	}

	return Result{OrganID: l.id, Coherence: coherence, Activations: activations}, nil
}

// #endregion lexical

// #region builtin-organs

// NewAffectOrgan detects emotional tone.
func NewAffectOrgan() *Lexical {
	return NewLexical("affect", map[string][]string{
		"feeling_positive": {"happy", "grateful", "love", "proud", "glad", "excited"},
		"feeling_negative": {"sad", "angry", "scared", "afraid", "anxious", "lonely", "hurt", "ashamed"},
		"connection":       {"i feel", "you feel", "with you", "together", "understand me", "listen"},
		"threat":           {"hate", "trapped", "can't escape", "no way out", "hopeless"},
	})
}

// NewInquiryOrgan detects questioning and meaning-seeking.
func NewInquiryOrgan() *Lexical {
	return NewLexical("inquiry", map[string][]string{
		"question":   {"?", "why", "how come", "what if", "do you"},
		"meaning":    {"meaning", "purpose", "what's the point", "why bother", "matters"},
		"connection": {"who are you", "tell me about", "do you know me", "remember"},
	})
}

// NewUrgencyOrgan detects time pressure and escalation.
func NewUrgencyOrgan() *Lexical {
	return NewLexical("urgency", map[string][]string{
		"urgency":  {"right now", "immediately", "urgent", "hurry", "can't wait", "emergency"},
		"threat":   {"before it's too late", "running out", "last chance"},
		"question": {"what do i do", "what should i"},
	})
}

// #endregion builtin-organs

// #region distress-organ

// DistressAtom is the atom the distress organ always emits: a distance
// in [0,1] where 0 means maximally close to distress.
const DistressAtom = "distance"

// Distress estimates distance-from-distress. Unlike the plain lexical
// organs it always emits its distance atom, so the safety monitor has a
// signal every turn.
type Distress struct {
	inner *Lexical
}

// NewDistressOrgan creates the distress processor.
func NewDistressOrgan() *Distress {
	return &Distress{
		inner: NewLexical("distress", map[string][]string{
			"feeling_negative": {"worthless", "give up", "can't go on", "falling apart"},
			"threat":           {"hurt myself", "end it", "disappear", "unsafe", "danger"},
		}),
	}
}

// ID returns the processor identity.
func (d *Distress) ID() string { return d.inner.id }

// Process runs the lexical match, then derives the distance atom from
// the matched intensity.
func (d *Distress) Process(ctx context.Context, span Span, cycle int) (Result, error) {
	res, err := d.inner.Process(ctx, span, cycle)
	if err != nil {
		return Result{}, err
	}
	var intensity float32
	for _, v := range res.Activations {
		intensity += v
	}
	distance := 1 - intensity
	if distance < 0 {
		distance = 0
	}
	if res.Activations == nil {
		res.Activations = make(map[string]float32)
	}
	res.Activations[DistressAtom] = distance
	if res.Coherence < 0.3 {
		res.Coherence = 0.3 // the distance estimate itself is always available
	}
	return res, nil
}

// #endregion distress-organ

// #region autonomic-organ

// Autonomic nervous-system state atoms. Exactly one is emitted per turn.
const (
	StateVentral     = "ventral"
	StateSympathetic = "sympathetic"
	StateDorsal      = "dorsal"
)

// Autonomic classifies the turn into one of three nervous-system states.
type Autonomic struct{}

// NewAutonomicOrgan creates the autonomic-state processor.
func NewAutonomicOrgan() *Autonomic { return &Autonomic{} }

// ID returns the processor identity.
func (a *Autonomic) ID() string { return "autonomic" }

var sympatheticPhrases = []string{
	"angry", "panic", "racing", "fight", "scream", "urgent", "right now", "furious",
}

var dorsalPhrases = []string{
	"numb", "empty", "shut down", "nothing matters", "can't feel", "frozen", "give up",
}

// Process emits the dominant state atom with a fixed confidence, defaulting
// to ventral (regulated) when nothing matches.
func (a *Autonomic) Process(_ context.Context, span Span, _ int) (Result, error) {
	lower := strings.ToLower(span.Text)
	symp := countHits(lower, sympatheticPhrases)
	dors := countHits(lower, dorsalPhrases)

	state := StateVentral
	strength := float32(0.6)
	switch {
	case dors > 0 && dors >= symp:
		state = StateDorsal
		strength = 1 - 1/float32(1+dors)
	case symp > 0:
		state = StateSympathetic
		strength = 1 - 1/float32(1+symp)
	}
	if strength < 0.5 {
		strength = 0.5
	}

	return Result{
		OrganID:     "autonomic",
		Coherence:   strength,
		Activations: map[string]float32{state: strength},
	}, nil
}

func countHits(lower string, phrases []string) int {
	n := 0
	for _, ph := range phrases {
		if strings.Contains(lower, ph) {
			n++
		}
	}
	return n
}

// #endregion autonomic-organ

// #region default-pool

// DefaultProcessors returns the built-in lexical organ set used by the
// demo binary and the replay harness.
func DefaultProcessors() []Processor {
	return []Processor{
		NewAffectOrgan(),
		NewInquiryOrgan(),
		NewUrgencyOrgan(),
		NewDistressOrgan(),
		NewAutonomicOrgan(),
	}
}

// #endregion default-pool
