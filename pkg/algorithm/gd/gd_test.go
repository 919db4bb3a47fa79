package gd

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

	ad, err := adaptor.New(0.5, 1, 0.1, 0.001, 10, 0)
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

func newTestGD(t *testing.T) (*Algorithm, *population.Population) {
	t.Helper()

	exec := executor.NewSerial(sphereObj)
	r := rng.New(3)

	alg := New(sphereTemplate(t), sphereObj, exec, r, 4, 1e-4, 0.1)
	pop := population.New(false)

	return alg, pop
}

func TestRNGStateRoundTripsThroughSetRNGState(t *testing.T) {
	alg, pop := newTestGD(t)
	require.NoError(t, alg.Init(context.Background(), pop))

	state, err := alg.RNGState()
	require.NoError(t, err)

	fresh := New(sphereTemplate(t), sphereObj, executor.NewSerial(sphereObj), rng.New(999), 4, 1e-4, 0.1)
	require.NoError(t, fresh.SetRNGState(state))

	alg.RNG.IntN(1000)
	fresh.RNG.IntN(1000)

	restate, err := alg.RNGState()
	require.NoError(t, err)

	freshState, err := fresh.RNGState()
	require.NoError(t, err)
	assert.Equal(t, restate, freshState)
}

func TestInitSeedsKStartingPoints(t *testing.T) {
	alg, pop := newTestGD(t)

	require.NoError(t, alg.Init(context.Background(), pop))
	require.Len(t, pop.Individuals, 4)

	for _, ind := range pop.Individuals {
		assert.False(t, ind.Dirty)
	}
}

func TestCycleLogicDescendsTowardMinimum(t *testing.T) {
	alg, pop := newTestGD(t)
	require.NoError(t, alg.Init(context.Background(), pop))

	fitnessBefore := make([]float64, len(pop.Individuals))
	for i, ind := range pop.Individuals {
		fitnessBefore[i] = ind.Fitness
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, alg.CycleLogic(context.Background(), pop))
	}

	for i, ind := range pop.Individuals {
		assert.False(t, ind.Dirty)
		assert.LessOrEqual(t, ind.Fitness, fitnessBefore[i]+1e-6)
	}
}

func TestCycleLogicLeavesPopulationSizeAtK(t *testing.T) {
	alg, pop := newTestGD(t)
	require.NoError(t, alg.Init(context.Background(), pop))
	require.NoError(t, alg.CycleLogic(context.Background(), pop))

	assert.Len(t, pop.Individuals, 4)
}

func TestFinalizeErrorsOnEmptyPopulation(t *testing.T) {
	alg, pop := newTestGD(t)
	assert.Error(t, alg.Finalize(pop))
}

func TestFinalizeSucceedsAfterInit(t *testing.T) {
	alg, pop := newTestGD(t)
	require.NoError(t, alg.Init(context.Background(), pop))
	assert.NoError(t, alg.Finalize(pop))
}

func TestMaximizeStepsOppositeDirection(t *testing.T) {
	exec := executor.NewSerial(sphereObj)
	r := rng.New(9)

	alg := New(sphereTemplate(t), sphereObj, exec, r, 1, 1e-4, 0.1)
	pop := population.New(true)

	require.NoError(t, alg.Init(context.Background(), pop))
	before := pop.Individuals[0].Fitness

	require.NoError(t, alg.CycleLogic(context.Background(), pop))
	after := pop.Individuals[0].Fitness

	assert.GreaterOrEqual(t, after, before-1e-6)
}
