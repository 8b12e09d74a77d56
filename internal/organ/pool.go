package organ

// #region imports
import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// #endregion

// #region config

// PoolConfig holds tuning knobs for per-cycle processor queries.
type PoolConfig struct {
	QueryTimeout time.Duration // per-processor deadline within a cycle
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		QueryTimeout: 2 * time.Second,
	}
}

// #endregion config

// #region pool

// Pool fans a span out to every registered processor and collects all
// results before returning. A processor error or timeout degrades to
// coherence 0 with empty activations for that processor only; the cycle
// never aborts.
type Pool struct {
	procs  []Processor // sorted by ID for deterministic iteration
	config PoolConfig
}

// NewPool creates a pool over the given processors. Duplicate IDs are
// rejected so the coupling matrix index stays unambiguous.
func NewPool(procs []Processor, config PoolConfig) (*Pool, error) {
	seen := make(map[string]bool, len(procs))
	for _, p := range procs {
		if seen[p.ID()] {
			return nil, fmt.Errorf("duplicate processor id %q", p.ID())
		}
		seen[p.ID()] = true
	}
	sorted := make([]Processor, len(procs))
	copy(sorted, procs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })
	return &Pool{procs: sorted, config: config}, nil
}

// IDs returns the sorted processor registry.
func (p *Pool) IDs() []string {
	ids := make([]string, len(p.procs))
	for i, proc := range p.procs {
		ids[i] = proc.ID()
	}
	return ids
}

// Size returns the processor count.
func (p *Pool) Size() int {
	return len(p.procs)
}

// ProcessorIDs collects the IDs of a processor slice, in input order.
// Callers that need the registry before building a pool use this.
func ProcessorIDs(procs []Processor) []string {
	ids := make([]string, len(procs))
	for i, p := range procs {
		ids[i] = p.ID()
	}
	return ids
}

// #endregion pool

// #region query-cycle

// QueryCycle queries all processors concurrently for one cycle and
// returns one Result per processor, ordered by processor ID. All results
// are collected before returning, so no partial-cycle decisions.
func (p *Pool) QueryCycle(ctx context.Context, span Span, cycle int) []Result {
	results := make([]Result, len(p.procs))

	g, gctx := errgroup.WithContext(ctx)
	for i, proc := range p.procs {
		i, proc := i, proc
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, p.config.QueryTimeout)
			defer cancel()

			res, err := proc.Process(qctx, span, cycle)
			if err != nil {
				log.Printf("[ORGAN] %s failed on cycle %d: %v (degrading to zero coherence)",
					proc.ID(), cycle, err)
				results[i] = Result{OrganID: proc.ID(), Coherence: 0, Activations: nil}
				return nil
			}
			res.OrganID = proc.ID()
			results[i] = res
			return nil
		})
	}
	// Workers never return errors; Wait is for fan-in only.
	_ = g.Wait()

	return results
}

// #endregion query-cycle
