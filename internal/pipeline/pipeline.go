// Package pipeline coordinates one conversation: decompose the turn,
// run convergence, assess safety, compose nexuses, select an emission,
// and feed the previous turn's delayed reward back into the stores.
package pipeline

// #region imports
import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/axo-lotto/felt/go-pipeline/internal/coupling"
	"github.com/axo-lotto/felt/go-pipeline/internal/emission"
	"github.com/axo-lotto/felt/go-pipeline/internal/felt"
	"github.com/axo-lotto/felt/go-pipeline/internal/learning"
	"github.com/axo-lotto/felt/go-pipeline/internal/nexus"
	"github.com/axo-lotto/felt/go-pipeline/internal/organ"
	"github.com/axo-lotto/felt/go-pipeline/internal/pattern"
	"github.com/axo-lotto/felt/go-pipeline/internal/provlog"
	"github.com/axo-lotto/felt/go-pipeline/internal/safety"
)

// #endregion

// #region errors

// ErrRejectedInput marks malformed turn input. The only condition that
// surfaces as an error from ProcessTurn; everything else degrades.
var ErrRejectedInput = errors.New("rejected input")

// #endregion errors

// #region config

// Config aggregates per-component configuration for one pipeline.
type Config struct {
	Pool     organ.PoolConfig
	Felt     felt.Config
	Safety   safety.Config
	Coupling coupling.Config
	Nexus    nexus.Config
	Pattern  pattern.Config
	Emission emission.Config
	Learning learning.Config
}

// DefaultConfig returns the component defaults, aggregated.
func DefaultConfig() Config {
	return Config{
		Pool:     organ.DefaultPoolConfig(),
		Felt:     felt.DefaultConfig(),
		Safety:   safety.DefaultConfig(),
		Coupling: coupling.DefaultConfig(),
		Nexus:    nexus.DefaultConfig(),
		Pattern:  pattern.DefaultConfig(),
		Emission: emission.DefaultConfig(),
		Learning: learning.DefaultConfig(),
	}
}

// #endregion config

// #region result

// FeltSummary is the stable field set exposed for health monitoring.
type FeltSummary struct {
	Energy         float32
	Satisfaction   float32
	Coherences     map[string]float32
	CycleCount     int
	NexusCount     int
	Risk           float32
	MinimalMode    bool
	NonConvergence bool
}

// TurnResult is the output of one processed turn.
type TurnResult struct {
	TurnID     string
	Text       string
	Confidence float32
	Strategy   emission.StrategyID
	Felt       FeltSummary
}

// #endregion result

// #region stores

// Stores bundles the persistence layer shared by every conversation
// over one database: the coupling store with its single in-memory
// matrix, the pattern store, and the provenance schema. Every pipeline
// on the same database must share one Stores. A private matrix per
// pipeline would commit full snapshots from stale state and silently
// revert the weights other conversations learned.
type Stores struct {
	db        *sql.DB
	couplings *coupling.Store
	matrix    *coupling.Matrix
	rate      float32 // effective learning rate, from stored matrix metadata
	patterns  *pattern.Store

	// Single-writer discipline: one turn at a time across every
	// conversation sharing these stores.
	mu   sync.Mutex
	turn int
}

// OpenStores loads the shared stores for a processor registry. rng
// seeds pattern sampling and may be nil for a time-seeded source.
func OpenStores(db *sql.DB, registry []string, config Config, rng *rand.Rand) (*Stores, error) {
	couplings, err := coupling.NewStore(db, config.Coupling)
	if err != nil {
		return nil, fmt.Errorf("open coupling store: %w", err)
	}
	matrix, rate, err := couplings.LoadActive(registry)
	if err != nil {
		return nil, fmt.Errorf("load coupling matrix: %w", err)
	}

	patterns, err := pattern.NewStore(db, config.Pattern, rng)
	if err != nil {
		return nil, fmt.Errorf("open pattern store: %w", err)
	}
	if err := provlog.Init(db); err != nil {
		return nil, err
	}

	return &Stores{
		db:        db,
		couplings: couplings,
		matrix:    matrix,
		rate:      rate,
		patterns:  patterns,
	}, nil
}

// #endregion stores

// #region pipeline

// Pipeline processes turns for a single conversation. Turns serialize
// on the shared stores, so conversations never interleave mid-turn.
type Pipeline struct {
	config   Config
	pool     *organ.Pool
	engine   *felt.Engine
	monitor  *safety.Monitor
	composer *nexus.Composer
	selector *emission.Selector
	learner  *learning.Engine
	stores   *Stores

	prev *emission.Record // awaiting its delayed reward
}

// New wires a conversation pipeline over shared stores. gen may be nil
// (no external generation backend). The pool's processor registry must
// match the registry the stores were opened with.
func New(stores *Stores, procs []organ.Processor, gen emission.Generator, config Config) (*Pipeline, error) {
	pool, err := organ.NewPool(procs, config.Pool)
	if err != nil {
		return nil, fmt.Errorf("build organ pool: %w", err)
	}
	if !equalIDs(pool.IDs(), stores.matrix.OrganIDs()) {
		return nil, fmt.Errorf("processor registry %v does not match the coupling matrix registry %v",
			pool.IDs(), stores.matrix.OrganIDs())
	}

	return &Pipeline{
		config:   config,
		pool:     pool,
		engine:   felt.NewEngine(config.Felt),
		monitor:  safety.NewMonitor(config.Safety),
		composer: nexus.NewComposer(config.Nexus),
		selector: emission.NewSelector(config.Emission, stores.patterns, gen, pool.IDs()),
		learner: learning.NewEngine(config.Learning, stores.patterns, stores.couplings,
			stores.matrix, stores.rate, config.Coupling, nil),
		stores: stores,
	}, nil
}

// Registry returns the sorted processor IDs this pipeline runs.
func (p *Pipeline) Registry() []string { return p.pool.IDs() }

// #endregion pipeline

// #region process-turn

// ProcessTurn runs the full per-turn flow. Only malformed input returns
// an error; every internal failure degrades to a lower cascade branch.
func (p *Pipeline) ProcessTurn(ctx context.Context, text string) (TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, fmt.Errorf("%w: empty text", ErrRejectedInput)
	}
	if !utf8.ValidString(text) {
		return TurnResult{}, fmt.Errorf("%w: invalid utf-8", ErrRejectedInput)
	}

	p.stores.mu.Lock()
	defer p.stores.mu.Unlock()

	p.stores.turn++
	turn := p.stores.turn
	turnID := uuid.NewString()
	span := organ.Decompose(turnID, text)

	// Convergence loop. Cycles are strictly sequential; the pool fans
	// out within each cycle. The final cycle's results feed everything
	// downstream.
	var lastResults []organ.Result
	state, events := p.engine.Converge(ctx, func(ctx context.Context, cycle int) []organ.Result {
		lastResults = p.pool.QueryCycle(ctx, span, cycle)
		return lastResults
	})
	nonConverged := felt.NonConverged(events)

	insights := p.monitor.ExtractInsights(lastResults)
	assessment := p.monitor.Assess(state, insights)

	nexuses := p.composer.Compose(lastResults, p.stores.matrix)

	rec := p.selector.Select(ctx, turnID, state, nexuses, assessment, meanActivations(lastResults))

	// Delayed feedback: this turn's satisfaction is the reward signal
	// for the previous turn's emission.
	if _, err := p.learner.Apply(p.prev, state.Satisfaction, turn); err != nil {
		log.Printf("[CONV] feedback failed, continuing: %v", err)
	}
	p.learner.Observe(state.Satisfaction)

	if rec.Signature != "" {
		if err := p.stores.patterns.RegisterPending(rec.TurnID, rec.Signature, rec.Text); err != nil {
			log.Printf("[CONV] pending feedback registration failed: %v", err)
		}
	}
	p.prev = &rec

	summary := FeltSummary{
		Energy:         state.Energy,
		Satisfaction:   state.Satisfaction,
		Coherences:     state.OrganCoherences,
		CycleCount:     state.CycleCount,
		NexusCount:     len(nexuses),
		Risk:           assessment.Risk,
		MinimalMode:    assessment.MinimalMode,
		NonConvergence: nonConverged,
	}
	if err := provlog.LogTurn(p.stores.db, provlog.Entry{
		TurnID:         turnID,
		Strategy:       string(rec.Strategy),
		Confidence:     rec.Confidence,
		Energy:         state.Energy,
		Satisfaction:   state.Satisfaction,
		Coherences:     state.OrganCoherences,
		NexusCount:     len(nexuses),
		Risk:           assessment.Risk,
		MinimalMode:    assessment.MinimalMode,
		NonConvergence: nonConverged,
	}); err != nil {
		log.Printf("[CONV] provenance write failed: %v", err)
	}

	log.Printf("[CONV] turn=%s strategy=%s confidence=%.3f energy=%.3f satisfaction=%.3f cycles=%d nexuses=%d",
		turnID, rec.Strategy, rec.Confidence, state.Energy, state.Satisfaction, state.CycleCount, len(nexuses))

	return TurnResult{
		TurnID:     turnID,
		Text:       rec.Text,
		Confidence: rec.Confidence,
		Strategy:   rec.Strategy,
		Felt:       summary,
	}, nil
}

// #endregion process-turn

// #region helpers

// meanActivations reduces each processor's final-cycle activation map to
// a single scalar, for learning attribution.
func meanActivations(results []organ.Result) map[string]float32 {
	out := make(map[string]float32, len(results))
	for _, r := range results {
		if len(r.Activations) == 0 {
			out[r.OrganID] = 0
			continue
		}
		var sum float32
		for _, v := range r.Activations {
			sum += v
		}
		out[r.OrganID] = sum / float32(len(r.Activations))
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// #endregion helpers
