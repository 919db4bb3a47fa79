// Package pso implements Particle Swarm Optimization (spec.md section
// 4.4.2): n_neighborhoods groups of n_members particles each, updated by
// a velocity/position rule blending personal, neighborhood-local, and
// global best-known positions.
package pso

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/gemfony/optevo/pkg/broker"
	"github.com/gemfony/optevo/pkg/executor"
	"github.com/gemfony/optevo/pkg/gene"
	"github.com/gemfony/optevo/pkg/individual"
	"github.com/gemfony/optevo/pkg/param"
	"github.com/gemfony/optevo/pkg/population"
	"github.com/gemfony/optevo/pkg/rng"
)

// UpdateRule selects the velocity-update formula.
type UpdateRule int

const (
	// Classic drops the inertia (c_v*v) term but keeps stochastic
	// per-term scaling factors r1, r2, r3.
	Classic UpdateRule = iota
	// Linear keeps the inertia term but replaces the stochastic factors
	// with fixed scalar blends, trading exploration for a deterministic,
	// reproducible trajectory.
	Linear
)

// Algorithm implements algorithm.OptimizationAlgorithm for PSO.
type Algorithm struct {
	Template       *param.Tree
	Obj            individual.Objective
	Exec           executor.Executor
	RNG            *rng.Stream
	NNeighborhoods int
	NMembers       int
	CLocal         float64
	CGlobal        float64
	CVelocity      float64
	UpdateRule     UpdateRule
	// GeneKind selects which gene kind carries the search-space
	// coordinates; PSO conventionally operates over a bounded space, so
	// this defaults to gene.ConstrainedFloat64 when left zero-valued...
	// except zero-valued Kind is gene.Bool, so New always sets it
	// explicitly.
	GeneKind gene.Kind

	globalBest    []float64
	globalBestFit float64
	globalBestSet bool
}

// New constructs a PSO algorithm over n_neighborhoods x n_members
// particles moving through the ConstrainedFloat64 coordinates of
// template.
func New(template *param.Tree, obj individual.Objective, exec executor.Executor, r *rng.Stream, nNeighborhoods, nMembers int, cLocal, cGlobal, cVelocity float64, rule UpdateRule) *Algorithm {
	return &Algorithm{
		Template: template, Obj: obj, Exec: exec, RNG: r,
		NNeighborhoods: nNeighborhoods, NMembers: nMembers,
		CLocal: cLocal, CGlobal: cGlobal, CVelocity: cVelocity,
		UpdateRule: rule, GeneKind: gene.ConstrainedFloat64,
	}
}

func (a *Algorithm) dim() int { return param.Count(a.Template, a.GeneKind) }

func (a *Algorithm) position(tree *param.Tree) []float64 {
	return param.StreamlineFlat(tree, a.GeneKind)
}

// Init scatters n_neighborhoods*n_members particles uniformly over the
// template's declared init ranges, with zero initial velocity.
func (a *Algorithm) Init(ctx context.Context, pop *population.Population) error {
	total := a.NNeighborhoods * a.NMembers
	pop.Individuals = make([]*individual.Individual, total)

	dim := a.dim()

	for i := 0; i < total; i++ {
		tree := a.Template.Clone()
		param.RandomInit(tree, a.RNG)

		ind := individual.New(tree, individual.Traits{
			Kind: individual.TraitPSO,
			PSO: individual.PSOTraits{
				NeighborhoodID: i / a.NMembers,
				Velocity:       make([]float64, dim),
			},
		})
		pop.Individuals[i] = ind
	}

	positions := make([]executor.Status, total)
	if _, err := a.Exec.WorkOn(ctx, pop.Individuals, positions); err != nil {
		return err
	}

	for _, ind := range pop.Individuals {
		a.seedPersonalBest(ind)
		a.updateGlobalBest(pop, ind)
	}

	return nil
}

func (a *Algorithm) seedPersonalBest(ind *individual.Individual) {
	pos := a.position(ind.Tree)
	ind.Traits.PSO.PersonalBest = pos
	ind.Traits.PSO.PersonalBestFit = ind.Fitness
}

func (a *Algorithm) updateGlobalBest(pop *population.Population, ind *individual.Individual) {
	if !a.globalBestSet || pop.Better(ind.Fitness, a.globalBestFit) {
		a.globalBest = append([]float64(nil), a.position(ind.Tree)...)
		a.globalBestFit = ind.Fitness
		a.globalBestSet = true
	}
}

// oldItemsSource is implemented by executor.BrokerExecutor. CycleLogic
// type-asserts a.Exec against it since the generic executor.Executor
// interface carries no notion of late, stale-tagged returns.
type oldItemsSource interface {
	DrainOldItems() []broker.Item
}

// localBest returns the best position within ind's neighborhood,
// including ind itself.
func (a *Algorithm) localBest(pop *population.Population, ind *individual.Individual) []float64 {
	best := ind
	bestPos := ind.Traits.PSO.PersonalBest

	for _, other := range pop.Individuals {
		if other.Traits.PSO.NeighborhoodID != ind.Traits.PSO.NeighborhoodID {
			continue
		}

		if other.Traits.PSO.PersonalBest == nil {
			continue
		}

		if pop.Better(other.Traits.PSO.PersonalBestFit, best.Traits.PSO.PersonalBestFit) {
			best = other
			bestPos = other.Traits.PSO.PersonalBest
		}
	}

	return bestPos
}

// CycleLogic updates every particle's velocity and position from its
// personal/local/global bests, then re-evaluates. Particles still
// Unprocessed when the executor returns Partial are stragglers; a
// broker executor's old_items sink is drained and any late return
// naming a straggler's position stands in for it, per spec.md section
// 4.4.2, before best-tracking runs.
func (a *Algorithm) CycleLogic(ctx context.Context, pop *population.Population) error {
	for _, ind := range pop.Individuals {
		if err := individual.EnsureKind(ind, individual.TraitPSO); err != nil {
			return err
		}

		x := a.position(ind.Tree)
		p := ind.Traits.PSO.PersonalBest
		l := a.localBest(pop, ind)
		g := a.globalBest

		v := a.updateVelocity(ind.Traits.PSO.Velocity, x, p, l, g)
		ind.Traits.PSO.Velocity = v

		newPos := append([]float64(nil), x...)
		floats.Add(newPos, v)

		if err := param.AssignFlat(ind.Tree, a.GeneKind, newPos); err != nil {
			return fmt.Errorf("pso: assign position: %w", err)
		}

		ind.Dirty = true
	}

	positions := make([]executor.Status, len(pop.Individuals))

	completeness, err := a.Exec.WorkOn(ctx, pop.Individuals, positions)
	if err != nil {
		return err
	}

	stragglers := make(map[int]*individual.Individual)

	for i, ind := range pop.Individuals {
		if completeness == executor.Partial && positions[i] == executor.Unprocessed {
			// Didn't return within this call's deadline: keep the
			// particle's prior personal best and exclude it from this
			// iteration's global-best sweep unless a late return
			// harvested below stands in for it.
			stragglers[i] = ind
			continue
		}

		if pop.Better(ind.Fitness, ind.Traits.PSO.PersonalBestFit) || ind.Traits.PSO.PersonalBest == nil {
			a.seedPersonalBest(ind)
		}

		a.updateGlobalBest(pop, ind)
	}

	if src, ok := a.Exec.(oldItemsSource); ok {
		a.harvestOldItems(pop, src.DrainOldItems(), stragglers)
	}

	return nil
}

// harvestOldItems folds late returns tagged with an iteration older
// than the current one into stragglers — particles still Unprocessed
// this cycle — as direct replacements (spec.md section 4.4.2: a late
// return stands in for a member that hasn't yet returned, provided its
// neighborhood still holds fewer than NMembers completed members).
// pop.Individuals keeps the same particles at the same slots every
// cycle (unlike EA, which rebuilds the slice each iteration), so a late
// item's Tag.Position can be trusted to name the straggler it replaces.
func (a *Algorithm) harvestOldItems(pop *population.Population, late []broker.Item, stragglers map[int]*individual.Individual) {
	for _, it := range late {
		straggler, isStraggler := stragglers[it.Tag.Position]
		if !isStraggler {
			continue
		}

		if a.neighborhoodCompleted(pop, stragglers, straggler.Traits.PSO.NeighborhoodID) >= a.NMembers {
			continue
		}

		ind := it.Individual
		pop.Individuals[it.Tag.Position] = ind
		delete(stragglers, it.Tag.Position)

		if pop.Better(ind.Fitness, ind.Traits.PSO.PersonalBestFit) || ind.Traits.PSO.PersonalBest == nil {
			a.seedPersonalBest(ind)
		}

		a.updateGlobalBest(pop, ind)
	}
}

// neighborhoodCompleted counts the members of neighborhood nid that
// already have this cycle's result (i.e. are not still listed as
// stragglers).
func (a *Algorithm) neighborhoodCompleted(pop *population.Population, stragglers map[int]*individual.Individual, nid int) int {
	completed := 0

	for i, ind := range pop.Individuals {
		if ind.Traits.PSO.NeighborhoodID != nid {
			continue
		}

		if _, pending := stragglers[i]; pending {
			continue
		}

		completed++
	}

	return completed
}

// pullTerm returns coeff*(target-x), the pull of one attractor (personal
// best, local best, or global best) on the current position.
func pullTerm(target, x []float64, coeff float64) []float64 {
	term := append([]float64(nil), target...)
	floats.Sub(term, x)
	floats.Scale(coeff, term)

	return term
}

func (a *Algorithm) updateVelocity(v, x, p, l, g []float64) []float64 {
	switch a.UpdateRule {
	case Classic:
		r1, r2, r3 := a.RNG.Float64(), a.RNG.Float64(), a.RNG.Float64()

		out := pullTerm(p, x, a.CLocal*r1)
		floats.Add(out, pullTerm(l, x, a.CLocal*r2))
		floats.Add(out, pullTerm(g, x, a.CGlobal*r3))

		return out
	case Linear:
		out := append([]float64(nil), v...)
		floats.Scale(a.CVelocity, out)
		floats.Add(out, pullTerm(p, x, a.CLocal))
		floats.Add(out, pullTerm(l, x, a.CLocal))
		floats.Add(out, pullTerm(g, x, a.CGlobal))

		return out
	default:
		return make([]float64, len(x))
	}
}

// Finalize only checks that a global best was recorded: the global best
// is tracked incrementally and pop.BestKnown already reflects it via
// UpdateStalls.
func (a *Algorithm) Finalize(pop *population.Population) error {
	if !a.globalBestSet {
		return fmt.Errorf("pso: no global best found")
	}

	return nil
}

// RNGState captures a.RNG's position for checkpoint restart.
func (a *Algorithm) RNGState() ([]byte, error) {
	return a.RNG.MarshalBinary()
}

// SetRNGState restores a.RNG's position from a checkpoint.
func (a *Algorithm) SetRNGState(data []byte) error {
	return a.RNG.UnmarshalBinary(data)
}
