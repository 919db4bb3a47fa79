// Package ea implements the Evolutionary Algorithm of spec.md section
// 4.4.1: mu parents followed by lambda children, recombined, adapted,
// evaluated, and selected each iteration. Recombination and selection
// schemes generalize the teacher's genetic.CrossoverMethod and
// genetic.SelectionMethod enums from fixed-alphabet permutations to
// real-valued parameter trees.
package ea

import (
	"context"
	"fmt"
	"sort"

	"github.com/gemfony/optevo/pkg/executor"
	"github.com/gemfony/optevo/pkg/individual"
	"github.com/gemfony/optevo/pkg/param"
	"github.com/gemfony/optevo/pkg/population"
	"github.com/gemfony/optevo/pkg/rng"
)

// Recombination selects how a child's parameters are built from parents.
type Recombination int

const (
	// Default copies one parent, chosen uniformly at random.
	Default Recombination = iota
	// Random picks each gene independently from either parent.
	Random
	// Value weights parent choice by relative fitness.
	Value
)

// Sorting selects the mu-selection scheme applied after evaluation.
type Sorting int

const (
	// MuPlusNu selects the best mu of mu+lambda.
	MuPlusNu Sorting = iota
	// MuCommaNu selects the best mu of lambda only (requires lambda >= mu).
	MuCommaNu
	// MuNuPretain is MuCommaNu but the current-best parent always survives.
	MuNuPretain
)

// Algorithm implements algorithm.OptimizationAlgorithm for the EA.
type Algorithm struct {
	Template      *param.Tree
	Obj           individual.Objective
	Exec          executor.Executor
	RNG           *rng.Stream
	NParents      int
	NChildren     int
	Recombination Recombination
	Sorting       Sorting
}

// New constructs an EA algorithm with mu=nParents, lambda=nChildren.
func New(template *param.Tree, obj individual.Objective, exec executor.Executor, r *rng.Stream, nParents, nChildren int, recomb Recombination, sorting Sorting) *Algorithm {
	return &Algorithm{
		Template: template, Obj: obj, Exec: exec, RNG: r,
		NParents: nParents, NChildren: nChildren,
		Recombination: recomb, Sorting: sorting,
	}
}

func newIndividual(template *param.Tree, isParent bool, nParents int) *individual.Individual {
	return individual.New(template.Clone(), individual.Traits{
		Kind: individual.TraitEA,
		EA:   individual.EATraits{IsParent: isParent, NParents: nParents},
	})
}

// Init clones the template to size mu+lambda, randomly initializing every
// member (parents included, so generation 0 is not a degenerate copy of
// the template).
func (a *Algorithm) Init(ctx context.Context, pop *population.Population) error {
	total := a.NParents + a.NChildren
	pop.Individuals = make([]*individual.Individual, total)

	for i := 0; i < total; i++ {
		ind := newIndividual(a.Template, i < a.NParents, a.NParents)
		param.RandomInit(ind.Tree, a.RNG)
		pop.Individuals[i] = ind
	}

	positions := make([]executor.Status, total)

	_, err := a.Exec.WorkOn(ctx, pop.Individuals, positions)

	return err
}

func (a *Algorithm) parents(pop *population.Population) []*individual.Individual {
	return pop.Individuals[:a.NParents]
}

func (a *Algorithm) children(pop *population.Population) []*individual.Individual {
	return pop.Individuals[a.NParents:]
}

// CycleLogic runs one EA generation: recombine, adapt, evaluate, sort,
// select.
func (a *Algorithm) CycleLogic(ctx context.Context, pop *population.Population) error {
	parents := a.parents(pop)
	children := a.children(pop)

	for i, child := range children {
		p1, p2 := a.pickParents(parents)
		a.recombine(child, p1, p2)
		child.Adapt(a.RNG)
		child.Traits.EA.IsParent = false
		_ = i
	}

	positions := make([]executor.Status, len(pop.Individuals))
	for i, ind := range pop.Individuals {
		if !ind.Dirty {
			positions[i] = executor.Processed
		}
	}

	completeness, err := a.Exec.WorkOn(ctx, pop.Individuals, positions)
	if err != nil {
		return err
	}

	// A partial broker return leaves some children stale-dirty; they are
	// simply excluded from selection below since sort-by-fitness on a
	// dirty individual's last-cached (pre-adaptation) value would be
	// meaningless. They remain in pop.Individuals for next iteration's
	// evaluate phase to pick back up, per spec.md section 5.
	candidates := a.selectionCandidates(pop, positions, completeness)

	a.sortByFitness(candidates, pop.Maximize)

	selected := a.selectSurvivors(candidates, pop)

	newPop := make([]*individual.Individual, 0, a.NParents+a.NChildren)
	for _, ind := range selected {
		ind.Traits.EA.IsParent = true
		newPop = append(newPop, ind)
	}

	for len(newPop) < a.NParents {
		// Only reachable if selectSurvivors under-filled due to an
		// undersized candidate pool (e.g. heavy broker partial-return
		// attrition); pad with clones of the best parent to keep
		// population size invariant.
		newPop = append(newPop, newPop[0].Clone())
	}

	parentsOut := newPop[:a.NParents]

	childrenOut := make([]*individual.Individual, a.NChildren)
	for i := range childrenOut {
		childrenOut[i] = newIndividual(a.Template, false, a.NParents)
	}

	pop.Individuals = append(append([]*individual.Individual(nil), parentsOut...), childrenOut...)

	return nil
}

func (a *Algorithm) selectionCandidates(pop *population.Population, positions []executor.Status, completeness executor.Completeness) []*individual.Individual {
	candidates := make([]*individual.Individual, 0, len(pop.Individuals))

	for i, ind := range pop.Individuals {
		if ind.Dirty {
			continue
		}

		if completeness == executor.Partial && positions[i] == executor.Unprocessed {
			continue
		}

		candidates = append(candidates, ind)
	}

	return candidates
}

func (a *Algorithm) pickParents(parents []*individual.Individual) (*individual.Individual, *individual.Individual) {
	i := a.RNG.IntN(len(parents))
	j := a.RNG.IntN(len(parents))

	return parents[i], parents[j]
}

func (a *Algorithm) recombine(child, p1, p2 *individual.Individual) {
	switch a.Recombination {
	case Default:
		src := p1
		if a.RNG.Float64() < 0.5 {
			src = p2
		}

		child.Tree = src.Tree.Clone()
	case Random:
		// Per-gene parent pick: genes don't carry stable cross-parent
		// identity outside their leaf, so mergeRandom matches genes by
		// their position inside each leaf and picks the source parent
		// independently for every gene.
		child.Tree = p1.Tree.Clone()
		mergeRandom(child.Tree, p2.Tree, a.RNG)
	case Value:
		src := p1
		if weightedPick(p1.Fitness, p2.Fitness, a.RNG) {
			src = p2
		}

		child.Tree = src.Tree.Clone()
	}
}

// mergeRandom walks dst and src leaf-for-leaf (trees share shape by
// construction, both cloned from the same template) and, for each gene
// position inside a leaf, keeps dst's gene or overwrites it with src's,
// chosen uniformly and independently per gene.
func mergeRandom(dst, src *param.Tree, r *rng.Stream) {
	mergeNode(dst.Root, src.Root, r)
}

func mergeNode(dst, src param.Node, r *rng.Stream) {
	switch d := dst.(type) {
	case *param.Leaf:
		s, ok := src.(*param.Leaf)
		if !ok {
			return
		}

		for i := range d.Genes {
			if i < len(s.Genes) && r.Float64() < 0.5 {
				d.Genes[i] = s.Genes[i]
			}
		}
	case *param.Set:
		s, ok := src.(*param.Set)
		if !ok {
			return
		}

		for i := range d.Children {
			if i < len(s.Children) {
				mergeNode(d.Children[i], s.Children[i], r)
			}
		}
	}
}

func weightedPick(f1, f2 float64, r *rng.Stream) bool {
	total := f1 + f2
	if total == 0 {
		return r.Float64() < 0.5
	}

	return r.Float64() < f2/total
}

func (a *Algorithm) sortByFitness(individuals []*individual.Individual, maximize bool) {
	sort.SliceStable(individuals, func(i, j int) bool {
		fi, fj := individuals[i].Fitness, individuals[j].Fitness
		if fi == fj {
			return tieBreak(individuals[i], individuals[j])
		}

		if maximize {
			return fi > fj
		}

		return fi < fj
	})
}

// tieBreak implements "older generation index wins, then positional
// index": parents (generation-older) sort before children, and ties
// within the same role keep their existing relative order (SliceStable).
func tieBreak(a, b *individual.Individual) bool {
	if a.Traits.EA.IsParent != b.Traits.EA.IsParent {
		return a.Traits.EA.IsParent
	}

	return false
}

func (a *Algorithm) selectSurvivors(sorted []*individual.Individual, pop *population.Population) []*individual.Individual {
	switch a.Sorting {
	case MuPlusNu:
		return topN(sorted, a.NParents)
	case MuCommaNu:
		lambdaOnly := filterNonParents(sorted)
		return topN(lambdaOnly, a.NParents)
	case MuNuPretain:
		lambdaOnly := filterNonParents(sorted)
		best := bestParent(sorted)

		survivors := topN(lambdaOnly, a.NParents-1)
		if best != nil {
			survivors = append(survivors, best)
		}

		return survivors
	default:
		return topN(sorted, a.NParents)
	}
}

func topN(individuals []*individual.Individual, n int) []*individual.Individual {
	if n > len(individuals) {
		n = len(individuals)
	}

	return append([]*individual.Individual(nil), individuals[:n]...)
}

func filterNonParents(individuals []*individual.Individual) []*individual.Individual {
	out := make([]*individual.Individual, 0, len(individuals))

	for _, ind := range individuals {
		if !ind.Traits.EA.IsParent {
			out = append(out, ind)
		}
	}

	return out
}

func bestParent(sorted []*individual.Individual) *individual.Individual {
	for _, ind := range sorted {
		if ind.Traits.EA.IsParent {
			return ind
		}
	}

	return nil
}

// Finalize only checks that the Population is non-empty: it already holds
// the final parents.
func (a *Algorithm) Finalize(pop *population.Population) error {
	if len(pop.Individuals) == 0 {
		return fmt.Errorf("ea: empty population at finalize")
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
