// Package individual implements one candidate solution: a Parameter tree
// plus cached fitness, a dirty flag, and algorithm-specific traits
// (spec.md section 4.3).
package individual

import (
	"fmt"

	"github.com/gemfony/optevo/pkg/errs"
	"github.com/gemfony/optevo/pkg/param"
	"github.com/gemfony/optevo/pkg/rng"
)

// TraitKind selects which of the three algorithm-specific trait structs
// on Traits is populated.
type TraitKind int

const (
	TraitEA TraitKind = iota
	TraitPSO
	TraitGD
)

// EATraits carries the EA-specific per-individual state.
type EATraits struct {
	IsParent bool
	NParents int
}

// PSOTraits carries the PSO-specific per-individual state. Position and
// velocity are kept as flat float64 vectors parallel to the tree's
// Float64/ConstrainedFloat64 streamline order.
type PSOTraits struct {
	NeighborhoodID     int
	PersonalBest       []float64
	PersonalBestFit    float64
	Velocity           []float64
	PositionSuppressed bool
}

// GDTraits carries the GD-specific per-individual state.
type GDTraits struct {
	PositionInDescent int // 0 = parent, 1..d = child perturbed along dimension PositionInDescent-1
}

// Traits is a tagged variant chosen by the owning algorithm at setup and
// not changed thereafter.
type Traits struct {
	Kind TraitKind
	EA   EATraits
	PSO  PSOTraits
	GD   GDTraits
}

// Objective evaluates a Parameter tree and returns its fitness. User
// objectives are the external collaborator named in spec.md section 1;
// pkg/objective ships a handful of reference implementations.
type Objective func(tree *param.Tree) (float64, error)

// Individual is one candidate solution.
type Individual struct {
	Tree    *param.Tree
	Fitness float64
	Dirty   bool
	Traits  Traits
}

// New constructs a dirty individual over tree with the given traits.
func New(tree *param.Tree, traits Traits) *Individual {
	return &Individual{Tree: tree, Dirty: true, Traits: traits}
}

// Evaluate computes Fitness via obj when Dirty, idempotently returning the
// cached value otherwise. On objective failure the individual remains
// dirty and the call fails with ErrEvaluationFailed.
func (ind *Individual) Evaluate(obj Objective) (fitness float64, err error) {
	if !ind.Dirty {
		return ind.Fitness, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: objective panicked: %v", errs.ErrEvaluationFailed, r)
		}
	}()

	f, err := obj(ind.Tree)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrEvaluationFailed, err)
	}

	if isNonFinite(f) {
		return 0, fmt.Errorf("%w: objective returned non-finite value %v", errs.ErrEvaluationFailed, f)
	}

	ind.Fitness = f
	ind.Dirty = false

	return f, nil
}

func isNonFinite(f float64) bool { return f != f || f > maxFinite || f < -maxFinite }

const maxFinite = 1.7976931348623157e+308

// Adapt mutates the tree via AdaptAll and marks the individual dirty.
func (ind *Individual) Adapt(r *rng.Stream) {
	param.AdaptAll(ind.Tree, r)
	ind.Dirty = true
}

// Command selects the operation Process performs, mirroring the
// remote-worker entry point of spec.md section 4.3.
type Command int

const (
	CmdAdapt Command = iota
	CmdEvaluate
	CmdAdaptAndEvaluate
)

// Process is the remote-worker entry point. On CmdEvaluate against a
// clean individual it returns immediately. If Dirty remains true after
// Process completes, the driver must treat the item as unprocessed.
func (ind *Individual) Process(cmd Command, r *rng.Stream, obj Objective) error {
	switch cmd {
	case CmdAdapt:
		ind.Adapt(r)
		return nil
	case CmdEvaluate:
		if !ind.Dirty {
			return nil
		}

		_, err := ind.Evaluate(obj)
		return err
	case CmdAdaptAndEvaluate:
		ind.Adapt(r)
		_, err := ind.Evaluate(obj)

		return err
	default:
		return fmt.Errorf("individual: unknown command %d", cmd)
	}
}

// Clone returns a deep, independently-mutable copy.
func (ind *Individual) Clone() *Individual {
	c := &Individual{
		Tree:    ind.Tree.Clone(),
		Fitness: ind.Fitness,
		Dirty:   ind.Dirty,
		Traits:  ind.Traits,
	}

	if ind.Traits.PSO.PersonalBest != nil {
		c.Traits.PSO.PersonalBest = append([]float64(nil), ind.Traits.PSO.PersonalBest...)
	}

	if ind.Traits.PSO.Velocity != nil {
		c.Traits.PSO.Velocity = append([]float64(nil), ind.Traits.PSO.Velocity...)
	}

	return c
}

// EnsureKind returns an ErrConfig-wrapped error if the individual's
// traits are not of the expected kind, so algorithm code fails fast
// rather than silently reading a zero-valued trait struct.
func EnsureKind(ind *Individual, want TraitKind) error {
	if ind.Traits.Kind != want {
		return fmt.Errorf("%w: expected trait kind %d, got %d", errs.ErrConfig, want, ind.Traits.Kind)
	}

	return nil
}
