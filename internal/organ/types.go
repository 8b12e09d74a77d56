package organ

import (
	"context"
	"strconv"
	"strings"
)

// #region occasion

// Occasion is one unit of input: a token with identity and position.
// Owned by the turn that created it; immutable once created.
type Occasion struct {
	ID        string
	Pos       int
	Text      string
	Embedding []float32 // nil unless an embedder is wired in
}

// #endregion occasion

// #region span

// Span is the full text of a turn plus its decomposed occasions.
type Span struct {
	TurnID    string
	Text      string
	Occasions []Occasion
}

// Decompose splits turn text into lowercase token occasions.
func Decompose(turnID, text string) Span {
	fields := strings.Fields(strings.ToLower(text))
	occasions := make([]Occasion, len(fields))
	for i, f := range fields {
		occasions[i] = Occasion{
			ID:   turnID + "-" + strconv.Itoa(i),
			Pos:  i,
			Text: f,
		}
	}
	return Span{TurnID: turnID, Text: text, Occasions: occasions}
}

// #endregion span

// #region result

// Result is what one processor yields for one processing cycle:
// a coherence score and a sparse activation map (atom id → strength).
type Result struct {
	OrganID     string
	Coherence   float32            // [0, 1]
	Activations map[string]float32 // atom id → strength in [0, 1]
}

// #endregion result

// #region processor-interface

// Processor is an external feature extractor queried once per cycle.
// Implementations must be safe for concurrent use across conversations.
type Processor interface {
	ID() string
	Process(ctx context.Context, span Span, cycle int) (Result, error)
}

// #endregion processor-interface
