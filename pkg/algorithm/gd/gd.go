// Package gd implements finite-difference Gradient Descent (spec.md
// section 4.4.3): k independent starting points, each stepped along a
// numerically estimated gradient every iteration.
package gd

import (
	"context"
	"fmt"

	"github.com/gemfony/optevo/pkg/executor"
	"github.com/gemfony/optevo/pkg/gene"
	"github.com/gemfony/optevo/pkg/individual"
	"github.com/gemfony/optevo/pkg/param"
	"github.com/gemfony/optevo/pkg/population"
	"github.com/gemfony/optevo/pkg/rng"
)

// Algorithm implements algorithm.OptimizationAlgorithm for finite
// difference descent, grounded on pa-m-optimize's line-search step
// shape (evaluate a probe, estimate a local derivative, take a bounded
// step) generalized from one dimension to a parameter vector.
type Algorithm struct {
	Template        *param.Tree
	Obj             individual.Objective
	Exec            executor.Executor
	RNG             *rng.Stream
	NStartingPoints int
	FiniteStep      float64
	StepSize        float64
	GeneKind        gene.Kind

	// dim is the number of GeneKind coordinates in Template, set by
	// Init; each parent gets dim probe children per cycle.
	dim int
}

// New constructs a GD algorithm over k starting points, each moving
// through the ConstrainedFloat64 coordinates of template.
func New(template *param.Tree, obj individual.Objective, exec executor.Executor, r *rng.Stream, nStartingPoints int, finiteStep, stepSize float64) *Algorithm {
	return &Algorithm{
		Template: template, Obj: obj, Exec: exec, RNG: r,
		NStartingPoints: nStartingPoints, FiniteStep: finiteStep, StepSize: stepSize,
		GeneKind: gene.ConstrainedFloat64,
	}
}

// Init seeds k randomly-placed parents; per-dimension probe children are
// (re)built fresh every CycleLogic call, so Init only needs the parents.
func (a *Algorithm) Init(ctx context.Context, pop *population.Population) error {
	a.dim = param.Count(a.Template, a.GeneKind)

	pop.Individuals = make([]*individual.Individual, a.NStartingPoints)

	for i := 0; i < a.NStartingPoints; i++ {
		tree := a.Template.Clone()
		param.RandomInit(tree, a.RNG)

		pop.Individuals[i] = individual.New(tree, individual.Traits{
			Kind: individual.TraitGD,
			GD:   individual.GDTraits{PositionInDescent: 0},
		})
	}

	positions := make([]executor.Status, a.NStartingPoints)
	_, err := a.Exec.WorkOn(ctx, pop.Individuals, positions)

	return err
}

// CycleLogic, per starting point: probes each dimension by FiniteStep,
// estimates the gradient from the resulting fitness deltas, and steps
// the parent by -StepSize*gradient (or +StepSize*gradient when
// maximizing).
func (a *Algorithm) CycleLogic(ctx context.Context, pop *population.Population) error {
	parents := pop.Individuals[:a.NStartingPoints]

	probes := make([]*individual.Individual, 0, a.NStartingPoints*a.dim)
	probeOwner := make([]int, 0, cap(probes))
	probeDim := make([]int, 0, cap(probes))

	for pi, parent := range parents {
		base := a.position(parent.Tree)

		for d := 0; d < a.dim; d++ {
			probePos := append([]float64(nil), base...)
			probePos[d] += a.FiniteStep

			tree := a.Template.Clone()
			if err := param.AssignFlat(tree, a.GeneKind, probePos); err != nil {
				return fmt.Errorf("gd: assign probe: %w", err)
			}

			probe := individual.New(tree, individual.Traits{
				Kind: individual.TraitGD,
				GD:   individual.GDTraits{PositionInDescent: d + 1},
			})

			probes = append(probes, probe)
			probeOwner = append(probeOwner, pi)
			probeDim = append(probeDim, d)
		}
	}

	batch := append(append([]*individual.Individual(nil), parents...), probes...)
	batchPositions := make([]executor.Status, len(batch))

	if _, err := a.Exec.WorkOn(ctx, batch, batchPositions); err != nil {
		return err
	}

	gradients := make([][]float64, a.NStartingPoints)
	for i := range gradients {
		gradients[i] = make([]float64, a.dim)
	}

	for i, probe := range probes {
		pi, d := probeOwner[i], probeDim[i]
		if probe.Dirty || parents[pi].Dirty {
			continue
		}

		gradients[pi][d] = (probe.Fitness - parents[pi].Fitness) / a.FiniteStep
	}

	for pi, parent := range parents {
		if parent.Dirty {
			continue
		}

		pos := a.position(parent.Tree)
		for d := 0; d < a.dim; d++ {
			if pop.Maximize {
				pos[d] += a.StepSize * gradients[pi][d]
			} else {
				pos[d] -= a.StepSize * gradients[pi][d]
			}
		}

		if err := param.AssignFlat(parent.Tree, a.GeneKind, pos); err != nil {
			return fmt.Errorf("gd: assign step: %w", err)
		}

		parent.Dirty = true
	}

	finalPositions := make([]executor.Status, len(parents))
	_, err := a.Exec.WorkOn(ctx, parents, finalPositions)

	return err
}

func (a *Algorithm) position(tree *param.Tree) []float64 {
	return param.StreamlineFlat(tree, a.GeneKind)
}

// Finalize only checks that pop.Individuals is non-empty: it already
// holds the k final positions.
func (a *Algorithm) Finalize(pop *population.Population) error {
	if len(pop.Individuals) == 0 {
		return fmt.Errorf("gd: empty population at finalize")
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
