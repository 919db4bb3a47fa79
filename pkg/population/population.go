// Package population implements the ordered collection of Individuals a
// Driver operates on, plus the iteration counter and stall bookkeeping
// used by halt criteria (spec.md section 3).
package population

import "github.com/gemfony/optevo/pkg/individual"

// Population owns its Individuals exclusively; workers receive clones and
// return clones, never a reference into the Population (spec.md section 5).
type Population struct {
	Individuals []*individual.Individual
	Iteration   uint32
	BestKnown   float64
	NStalls     uint32
	Maximize    bool

	// RNGState carries the driving algorithm's RNG stream position
	// across a checkpoint save/restore, for algorithms implementing
	// algorithm.RNGStateful. Unused by algorithms that don't.
	RNGState []byte

	bestKnownSet bool
}

// New constructs an empty population for minimization unless maximize.
func New(maximize bool) *Population {
	return &Population{Maximize: maximize}
}

// Better reports whether a is a strict improvement over b given the
// population's optimization direction.
func (p *Population) Better(a, b float64) bool {
	if p.Maximize {
		return a > b
	}

	return a < b
}

// Best returns the best (by fitness, honoring Maximize) clean individual
// currently in the population, and whether one was found.
func (p *Population) Best() (*individual.Individual, bool) {
	var best *individual.Individual

	for _, ind := range p.Individuals {
		if ind.Dirty {
			continue
		}

		if best == nil || p.Better(ind.Fitness, best.Fitness) {
			best = ind
		}
	}

	return best, best != nil
}

// UpdateStalls refreshes BestKnown/NStalls from the current population's
// best individual. Called once per iteration by the Driver after
// cycle_logic returns.
func (p *Population) UpdateStalls() {
	best, ok := p.Best()
	if !ok {
		return
	}

	if !p.bestKnownSet || p.Better(best.Fitness, p.BestKnown) {
		p.BestKnown = best.Fitness
		p.bestKnownSet = true
		p.NStalls = 0
	} else {
		p.NStalls++
	}
}
