package individual

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemfony/optevo/pkg/adaptor"
	"github.com/gemfony/optevo/pkg/errs"
	"github.com/gemfony/optevo/pkg/gene"
	"github.com/gemfony/optevo/pkg/param"
	"github.com/gemfony/optevo/pkg/rng"
)

func newTestTree(t *testing.T) *param.Tree {
	t.Helper()

	a, err := adaptor.New(1, 1, 0.1, 0.001, 10, 0)
	require.NoError(t, err)

	leaf := param.NewLeaf([]gene.Gene{gene.NewConstrainedFloat64(1, -5, 5), gene.NewConstrainedFloat64(2, -5, 5)}, a, -5, 5)

	return &param.Tree{Root: leaf}
}

func sumObjective(tree *param.Tree) (float64, error) {
	sum := 0.0
	for _, v := range param.StreamlineFlat(tree, gene.ConstrainedFloat64) {
		sum += v
	}

	return sum, nil
}

func TestNewIsDirty(t *testing.T) {
	ind := New(newTestTree(t), Traits{Kind: TraitEA})
	assert.True(t, ind.Dirty)
}

func TestEvaluateClearsDirty(t *testing.T) {
	ind := New(newTestTree(t), Traits{Kind: TraitEA})

	f, err := ind.Evaluate(sumObjective)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, f, 1e-9)
	assert.False(t, ind.Dirty)
}

func TestEvaluateIsIdempotentWhenClean(t *testing.T) {
	ind := New(newTestTree(t), Traits{Kind: TraitEA})

	_, err := ind.Evaluate(sumObjective)
	require.NoError(t, err)

	calls := 0
	f, err := ind.Evaluate(func(tree *param.Tree) (float64, error) {
		calls++
		return 99, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
	assert.InDelta(t, 3.0, f, 1e-9)
}

func TestEvaluatePropagatesObjectiveError(t *testing.T) {
	ind := New(newTestTree(t), Traits{Kind: TraitEA})

	_, err := ind.Evaluate(func(tree *param.Tree) (float64, error) {
		return 0, errors.New("boom")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrEvaluationFailed)
	assert.True(t, ind.Dirty)
}

func TestEvaluateRejectsNonFinite(t *testing.T) {
	ind := New(newTestTree(t), Traits{Kind: TraitEA})

	_, err := ind.Evaluate(func(tree *param.Tree) (float64, error) {
		return 1.0 / zero(), nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrEvaluationFailed)
}

func zero() float64 { return 0 }

func TestEvaluateRecoversPanic(t *testing.T) {
	ind := New(newTestTree(t), Traits{Kind: TraitEA})

	_, err := ind.Evaluate(func(tree *param.Tree) (float64, error) {
		panic("kaboom")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrEvaluationFailed)
}

func TestAdaptMarksDirty(t *testing.T) {
	ind := New(newTestTree(t), Traits{Kind: TraitEA})
	_, _ = ind.Evaluate(sumObjective)

	ind.Adapt(rng.New(1))

	assert.True(t, ind.Dirty)
}

func TestProcessAdaptAndEvaluate(t *testing.T) {
	ind := New(newTestTree(t), Traits{Kind: TraitEA})

	err := ind.Process(CmdAdaptAndEvaluate, rng.New(2), sumObjective)
	require.NoError(t, err)
	assert.False(t, ind.Dirty)
}

func TestProcessEvaluateOnCleanIsNoOp(t *testing.T) {
	ind := New(newTestTree(t), Traits{Kind: TraitEA})
	_, _ = ind.Evaluate(sumObjective)

	called := false
	err := ind.Process(CmdEvaluate, rng.New(1), func(tree *param.Tree) (float64, error) {
		called = true
		return 0, nil
	})

	require.NoError(t, err)
	assert.False(t, called)
}

func TestCloneIsIndependent(t *testing.T) {
	ind := New(newTestTree(t), Traits{Kind: TraitPSO, PSO: PSOTraits{Velocity: []float64{1, 2}, PersonalBest: []float64{3, 4}}})
	c := ind.Clone()

	c.Traits.PSO.Velocity[0] = 99

	assert.Equal(t, 1.0, ind.Traits.PSO.Velocity[0])
	assert.Equal(t, 99.0, c.Traits.PSO.Velocity[0])
}

func TestEnsureKind(t *testing.T) {
	ind := New(newTestTree(t), Traits{Kind: TraitEA})

	assert.NoError(t, EnsureKind(ind, TraitEA))
	assert.ErrorIs(t, EnsureKind(ind, TraitPSO), errs.ErrConfig)
}
