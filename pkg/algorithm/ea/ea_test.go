package ea

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemfony/optevo/pkg/adaptor"
	"github.com/gemfony/optevo/pkg/executor"
	"github.com/gemfony/optevo/pkg/gene"
	"github.com/gemfony/optevo/pkg/param"
	"github.com/gemfony/optevo/pkg/population"
	"github.com/gemfony/optevo/pkg/rng"
)

func sphereTemplate(t *testing.T) *param.Tree {
	t.Helper()

	ad, err := adaptor.New(0.5, 1, 0.1, 0.001, 10, 5)
	require.NoError(t, err)

	leaf := param.NewLeaf([]gene.Gene{
		gene.NewConstrainedFloat64(0, -5, 5),
		gene.NewConstrainedFloat64(0, -5, 5),
	}, ad, -5, 5)

	return &param.Tree{Root: leaf}
}

func sphereObj(tree *param.Tree) (float64, error) {
	vals := param.StreamlineFlat(tree, gene.ConstrainedFloat64)
	sum := 0.0

	for _, v := range vals {
		sum += v * v
	}

	return sum, nil
}

func newTestEA(t *testing.T, sorting Sorting, nParents, nChildren int) (*Algorithm, *population.Population) {
	t.Helper()

	exec := executor.NewSerial(sphereObj)
	r := rng.New(1)

	alg := New(sphereTemplate(t), sphereObj, exec, r, nParents, nChildren, Default, sorting)
	pop := population.New(false)

	return alg, pop
}

func TestRNGStateRoundTripsThroughSetRNGState(t *testing.T) {
	alg, pop := newTestEA(t, MuPlusNu, 4, 6)
	require.NoError(t, alg.Init(context.Background(), pop))

	state, err := alg.RNGState()
	require.NoError(t, err)

	fresh := New(sphereTemplate(t), sphereObj, executor.NewSerial(sphereObj), rng.New(999), 4, 6, Default, MuPlusNu)
	require.NoError(t, fresh.SetRNGState(state))

	alg.RNG.IntN(1000)
	fresh.RNG.IntN(1000)

	restate, err := alg.RNGState()
	require.NoError(t, err)

	freshState, err := fresh.RNGState()
	require.NoError(t, err)
	assert.Equal(t, restate, freshState)
}

func TestInitSeedsMuPlusLambdaAndEvaluates(t *testing.T) {
	alg, pop := newTestEA(t, MuPlusNu, 3, 6)

	require.NoError(t, alg.Init(context.Background(), pop))

	assert.Len(t, pop.Individuals, 9)

	for _, ind := range pop.Individuals {
		assert.False(t, ind.Dirty)
	}
}

func TestCycleLogicPreservesPopulationSize(t *testing.T) {
	alg, pop := newTestEA(t, MuPlusNu, 3, 6)
	require.NoError(t, alg.Init(context.Background(), pop))

	require.NoError(t, alg.CycleLogic(context.Background(), pop))

	assert.Len(t, pop.Individuals, 9)
	for i, ind := range pop.Individuals {
		if i < 3 {
			assert.True(t, ind.Traits.EA.IsParent)
		} else {
			assert.False(t, ind.Traits.EA.IsParent)
		}
	}
}

func TestCycleLogicKeepsOnlyImprovingOrEqualParentsUnderMuPlusNu(t *testing.T) {
	alg, pop := newTestEA(t, MuPlusNu, 3, 6)
	require.NoError(t, alg.Init(context.Background(), pop))

	bestBefore, ok := pop.Best()
	require.True(t, ok)
	before := bestBefore.Fitness

	for i := 0; i < 5; i++ {
		require.NoError(t, alg.CycleLogic(context.Background(), pop))
	}

	bestAfter, ok := pop.Best()
	require.True(t, ok)
	assert.LessOrEqual(t, bestAfter.Fitness, before)
}

func TestMuCommaNuRequiresLambdaFromChildrenOnly(t *testing.T) {
	alg, pop := newTestEA(t, MuCommaNu, 2, 4)
	require.NoError(t, alg.Init(context.Background(), pop))
	require.NoError(t, alg.CycleLogic(context.Background(), pop))

	assert.Len(t, pop.Individuals, 6)
}

func TestMuNuPretainKeepsBestParent(t *testing.T) {
	alg, pop := newTestEA(t, MuNuPretain, 2, 4)
	require.NoError(t, alg.Init(context.Background(), pop))
	require.NoError(t, alg.CycleLogic(context.Background(), pop))

	assert.Len(t, pop.Individuals, 6)
}

func TestFinalizeErrorsOnEmptyPopulation(t *testing.T) {
	alg, pop := newTestEA(t, MuPlusNu, 2, 4)
	assert.Error(t, alg.Finalize(pop))
}

func TestFinalizeAcceptsNonEmptyPopulation(t *testing.T) {
	alg, pop := newTestEA(t, MuPlusNu, 2, 4)
	require.NoError(t, alg.Init(context.Background(), pop))
	assert.NoError(t, alg.Finalize(pop))
}

func TestTieBreakPrefersParent(t *testing.T) {
	alg, pop := newTestEA(t, MuPlusNu, 2, 4)
	require.NoError(t, alg.Init(context.Background(), pop))

	pop.Individuals[0].Fitness = 1
	pop.Individuals[2].Fitness = 1
	pop.Individuals[0].Traits.EA.IsParent = true
	pop.Individuals[2].Traits.EA.IsParent = false

	assert.True(t, tieBreak(pop.Individuals[0], pop.Individuals[2]))
	assert.False(t, tieBreak(pop.Individuals[2], pop.Individuals[0]))
}
