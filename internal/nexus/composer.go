package nexus

// #region imports
import (
	"log"
	"math"
	"sort"

	"github.com/axo-lotto/felt/go-pipeline/internal/coupling"
	"github.com/axo-lotto/felt/go-pipeline/internal/organ"
)

// #endregion

// #region types

// Nexus is a detected coalition of processors whose activations overlap
// above the coupling-weighted threshold. Created fresh each turn, never
// persisted.
type Nexus struct {
	Members              []string // sorted processor IDs
	SharedAtoms          []string // sorted atom IDs
	IntersectionStrength float32
	Readiness            float32 // [0, 1]
}

// Config holds composer tuning knobs. ActivationThreshold is highly
// sensitive (two orders of magnitude change materially alters coalition
// count), so it is configuration, never a constant.
type Config struct {
	ActivationThreshold float32 // min activation for an atom to count as shared
	AdaptiveRetries     int     // threshold-halving retries before giving up
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ActivationThreshold: 0.3,
		AdaptiveRetries:     1,
	}
}

// #endregion types

// #region composer

// Composer detects coalitions from per-processor activation maps and the
// learned coupling matrix.
type Composer struct {
	config Config
}

// NewComposer creates a composer.
func NewComposer(config Config) *Composer {
	return &Composer{config: config}
}

// Compose groups transitively-connected overlapping processor pairs into
// coalitions, sorted by readiness descending. An empty result is a
// normal, frequent outcome; the caller falls through to the pattern
// store. When the first pass finds nothing, the threshold is temporarily
// halved up to AdaptiveRetries times.
//
// Identical activation maps and coupling matrix always yield the
// identical nexus list.
func (c *Composer) Compose(results []organ.Result, m *coupling.Matrix) []Nexus {
	threshold := c.config.ActivationThreshold
	for attempt := 0; ; attempt++ {
		nexuses := c.composeAt(results, m, threshold)
		if len(nexuses) > 0 {
			return nexuses
		}
		if attempt >= c.config.AdaptiveRetries {
			return nil
		}
		threshold /= 2
		log.Printf("[NEXUS] no coalition at threshold %.4f, retrying at %.4f", threshold*2, threshold)
	}
}

func (c *Composer) composeAt(results []organ.Result, m *coupling.Matrix, threshold float32) []Nexus {
	// Deterministic iteration: results arrive sorted by organ ID from the
	// pool, but sort defensively since idempotence is a contract.
	sorted := make([]organ.Result, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrganID < sorted[j].OrganID })

	type edge struct {
		a, b    int
		overlap float32
		atoms   []string
	}
	var edges []edge

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			atoms, raw := sharedOverlap(sorted[i].Activations, sorted[j].Activations, threshold)
			if len(atoms) == 0 {
				continue
			}
			w := m.Weight(sorted[i].OrganID, sorted[j].OrganID)
			edges = append(edges, edge{a: i, b: j, overlap: raw * w, atoms: atoms})
		}
	}
	if len(edges) == 0 {
		return nil
	}

	// Union-find over processors to group transitively-connected pairs.
	parent := make([]int, len(sorted))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}
	for _, e := range edges {
		union(e.a, e.b)
	}

	type coalition struct {
		members  map[int]bool
		atoms    map[string]bool
		strength float32
	}
	coalitions := make(map[int]*coalition)
	for _, e := range edges {
		root := find(e.a)
		co, ok := coalitions[root]
		if !ok {
			co = &coalition{members: make(map[int]bool), atoms: make(map[string]bool)}
			coalitions[root] = co
		}
		co.members[e.a] = true
		co.members[e.b] = true
		for _, atom := range e.atoms {
			co.atoms[atom] = true
		}
		co.strength += e.overlap
	}

	nexuses := make([]Nexus, 0, len(coalitions))
	for _, co := range coalitions {
		members := make([]string, 0, len(co.members))
		for idx := range co.members {
			members = append(members, sorted[idx].OrganID)
		}
		sort.Strings(members)

		atoms := make([]string, 0, len(co.atoms))
		for a := range co.atoms {
			atoms = append(atoms, a)
		}
		sort.Strings(atoms)

		nexuses = append(nexuses, Nexus{
			Members:              members,
			SharedAtoms:          atoms,
			IntersectionStrength: co.strength,
			Readiness:            readiness(co.strength, len(members)),
		})
	}

	sort.Slice(nexuses, func(i, j int) bool {
		if nexuses[i].Readiness != nexuses[j].Readiness {
			return nexuses[i].Readiness > nexuses[j].Readiness
		}
		return nexuses[i].Members[0] < nexuses[j].Members[0]
	})

	log.Printf("[NEXUS] %d coalition(s) at threshold %.4f, best readiness %.3f",
		len(nexuses), threshold, nexuses[0].Readiness)
	return nexuses
}

// #endregion composer

// #region helpers

// sharedOverlap returns the atoms active above threshold in both maps
// and the summed min-activation overlap.
func sharedOverlap(a, b map[string]float32, threshold float32) ([]string, float32) {
	var atoms []string
	var sum float32
	for atom, va := range a {
		vb, ok := b[atom]
		if !ok || va < threshold || vb < threshold {
			continue
		}
		atoms = append(atoms, atom)
		if va < vb {
			sum += va
		} else {
			sum += vb
		}
	}
	sort.Strings(atoms)
	return atoms, sum
}

// readiness saturates with intersection strength, with diminishing
// returns per additional member: (1 − e^−s) · (1 − 0.5^(members−1)).
func readiness(strength float32, members int) float32 {
	if members < 2 || strength <= 0 {
		return 0
	}
	sat := 1 - float32(math.Exp(-float64(strength)))
	memberFactor := 1 - float32(math.Pow(0.5, float64(members-1)))
	r := sat * memberFactor
	if r > 1 {
		r = 1
	}
	return r
}

// #endregion helpers
