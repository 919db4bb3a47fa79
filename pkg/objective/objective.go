// Package objective ships a handful of reference objective functions
// used by tests and examples to exercise the executor/algorithm contract
// end-to-end. Real objectives are the external collaborator named in
// spec.md section 1; these are not meant to be exhaustive.
package objective

import (
	"github.com/gemfony/optevo/pkg/gene"
	"github.com/gemfony/optevo/pkg/individual"
	"github.com/gemfony/optevo/pkg/param"
)

// floats reads a tree's search-space coordinates. Reference objectives
// are built against gene.ConstrainedFloat64, the kind pkg/algorithm/pso
// and pkg/algorithm/gd fix their position/velocity vectors to.
func floats(tree *param.Tree) []float64 {
	return param.StreamlineFlat(tree, gene.ConstrainedFloat64)
}

// Sphere computes f(x) = sum(x_i^2), the canonical unimodal minimization
// test function used in end-to-end scenario 1 of spec.md section 8.
func Sphere(tree *param.Tree) (float64, error) {
	sum := 0.0
	for _, x := range floats(tree) {
		sum += x * x
	}

	return sum, nil
}

// Rosenbrock computes the 2D Rosenbrock "banana" function, used in
// end-to-end scenario 3.
func Rosenbrock(tree *param.Tree) (float64, error) {
	xs := floats(tree)
	if len(xs) < 2 {
		return 0, nil
	}

	x, y := xs[0], xs[1]

	return (1-x)*(1-x) + 100*(y-x*x)*(y-x*x), nil
}

// Quadratic computes f(x,y) = (x-3)^2 + (y+1)^2, used in end-to-end
// scenario 4.
func Quadratic(tree *param.Tree) (float64, error) {
	xs := floats(tree)
	if len(xs) < 2 {
		return 0, nil
	}

	x, y := xs[0], xs[1]

	return (x-3)*(x-3) + (y+1)*(y+1), nil
}

var _ individual.Objective = Sphere
