// Package adaptor implements the per-gene self-adaptive mutation operator
// (spec.md section 4.1): a small record carrying an adaption probability
// and, for Gaussian adaptors on numeric kinds, a self-adapting step size.
package adaptor

import (
	"fmt"
	"math"

	"github.com/gemfony/optevo/pkg/errs"
	"github.com/gemfony/optevo/pkg/gene"
	"github.com/gemfony/optevo/pkg/rng"
)

// Adaptor carries the mutation parameters shared by every gene in one
// Parameter collection.
type Adaptor struct {
	P float64 // adaption probability, in [0,1]

	Sigma      float64 // current step size
	SigmaSigma float64 // meta-step
	SigmaMin   float64
	SigmaMax   float64
	Tau        uint32 // adaption threshold; 0 disables step-size self-adaption

	Calls uint64 // call counter c
}

// New constructs a Gaussian adaptor and validates its invariants.
func New(p, sigma, sigmaSigma, sigmaMin, sigmaMax float64, tau uint32) (*Adaptor, error) {
	a := &Adaptor{P: p, Sigma: sigma, SigmaSigma: sigmaSigma, SigmaMin: sigmaMin, SigmaMax: sigmaMax, Tau: tau}
	if err := a.validate(); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Adaptor) validate() error {
	if a.P < 0 || a.P > 1 {
		return fmt.Errorf("%w: adaption probability %v not in [0,1]", errs.ErrAdaptorMisconfigured, a.P)
	}

	if a.SigmaMin > a.SigmaMax {
		return fmt.Errorf("%w: sigma_min %v > sigma_max %v", errs.ErrAdaptorMisconfigured, a.SigmaMin, a.SigmaMax)
	}

	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}

// maybeUpdateSigma increments the call counter and, when the counter lands
// on a multiple of Tau, applies the log-normal self-adaption step to Sigma.
// It returns nothing; Adapt and AdaptVector gate the actual gene
// perturbation on a separate u<p draw.
func (a *Adaptor) maybeUpdateSigma(r *rng.Stream) {
	a.Calls++

	if a.Tau != 0 && a.Calls%uint64(a.Tau) == 0 {
		a.Sigma *= math.Exp(r.Normal(0, a.SigmaSigma))
		a.Sigma = clamp(a.Sigma, a.SigmaMin, a.SigmaMax)
	}
}

// Adapt perturbs one gene in place, per spec.md section 4.1:
//  1. draw u ~ U(0,1); if u >= p, return without mutation.
//  2. increment c; on c mod tau == 0, update sigma.
//  3. perturb the gene according to its kind.
func (a *Adaptor) Adapt(r *rng.Stream, g *gene.Gene) {
	if r.Float64() >= a.P {
		return
	}

	a.maybeUpdateSigma(r)
	a.perturb(r, g)
}

func (a *Adaptor) perturb(r *rng.Stream, g *gene.Gene) {
	switch g.Kind {
	case gene.Bool:
		g.BoolVal = !g.BoolVal
	case gene.Int32:
		g.Int32Val += int32(r.Normal(0, a.Sigma))
	case gene.Float64:
		g.Float64Val += r.Normal(0, a.Sigma)
	case gene.ConstrainedFloat64:
		g.SetInternal(g.Internal + r.Normal(0, a.Sigma))
	}
}

// AdaptVector applies Adapt to every gene in genes using the same sigma
// sequence (spec.md section 4.1, adapt_vector): the vector length is
// announced first so implementations may scale sigma by 1/sqrt(n), and
// any sigma meta-update triggered by the call-counter fires at most once
// for the whole vector rather than once per gene.
func (a *Adaptor) AdaptVector(r *rng.Stream, genes []gene.Gene) {
	if len(genes) == 0 {
		return
	}

	n := float64(len(genes))
	saved := a.Sigma
	a.Sigma = saved / math.Sqrt(n)

	metaUpdated := false

	for i := range genes {
		if r.Float64() >= a.P {
			continue
		}

		if !metaUpdated {
			a.maybeUpdateSigma(r)
			metaUpdated = true
		} else {
			a.Calls++
		}

		a.perturb(r, &genes[i])
	}

	// restore the unscaled sigma, preserving whatever the meta-update
	// (if any) left it at, scaled back up.
	if metaUpdated {
		saved = a.Sigma * math.Sqrt(n)
	}

	a.Sigma = saved
}

