package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemfony/optevo/pkg/adaptor"
	"github.com/gemfony/optevo/pkg/checkpoint"
	"github.com/gemfony/optevo/pkg/config"
	"github.com/gemfony/optevo/pkg/gene"
	"github.com/gemfony/optevo/pkg/objective"
	"github.com/gemfony/optevo/pkg/param"
)

func flatTemplate(t *testing.T, dims int, lo, hi float64) *param.Tree {
	t.Helper()

	span := hi - lo
	ad, err := adaptor.New(0.5, span*0.1, 0.08, span*0.0001, span, 5)
	require.NoError(t, err)

	genes := make([]gene.Gene, dims)
	for i := range genes {
		genes[i] = gene.NewConstrainedFloat64((lo+hi)/2, lo, hi)
	}

	return &param.Tree{Root: param.NewLeaf(genes, ad, lo, hi)}
}

// Scenario 1: Sphere/EA/serial.
func TestSphereEASerialConverges(t *testing.T) {
	cfg := config.Default()
	cfg.Global.MaxIterations = 200
	cfg.Global.Seed = 1
	cfg.Executor.Mode = config.ModeSerial
	cfg.EA.PopSize = 30
	cfg.EA.NParents = 5
	cfg.EA.Recombination = "default"
	cfg.EA.Sorting = "comma"

	require.NoError(t, cfg.Validate())

	r := &Runner{Cfg: cfg, Which: EA, Template: flatTemplate(t, 10, -5, 5), Obj: objective.Sphere}

	pop, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, pop.BestKnown, 1e-6)
}

// Scenario 2: Sphere/EA/threaded must reproduce (1) bit-for-bit, since
// RNG draws happen on the single algorithm-owned stream before any
// executor fan-out, independent of worker count.
func TestSphereEASerialAndThreadedAreReproducible(t *testing.T) {
	build := func(mode config.ExecutorMode) *Runner {
		cfg := config.Default()
		cfg.Global.MaxIterations = 200
		cfg.Global.Seed = 1
		cfg.Executor.Mode = mode
		cfg.Executor.NThreads = 4
		cfg.EA.PopSize = 30
		cfg.EA.NParents = 5
		cfg.EA.Recombination = "default"
		cfg.EA.Sorting = "comma"

		return &Runner{Cfg: cfg, Which: EA, Template: flatTemplate(t, 10, -5, 5), Obj: objective.Sphere}
	}

	serialPop, err := build(config.ModeSerial).Run(context.Background())
	require.NoError(t, err)

	threadedPop, err := build(config.ModeThreaded).Run(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, serialPop.BestKnown, threadedPop.BestKnown, 1e-15)
}

// Scenario 3: Rosenbrock/PSO.
func TestRosenbrockPSOConverges(t *testing.T) {
	cfg := config.Default()
	cfg.Global.MaxIterations = 500
	cfg.Global.Seed = 2
	cfg.Executor.Mode = config.ModeSerial
	cfg.PSO.NNeighborhoods = 5
	cfg.PSO.NMembers = 10
	cfg.PSO.UpdateRule = "linear"

	r := &Runner{Cfg: cfg, Which: PSO, Template: flatTemplate(t, 2, -2, 2), Obj: objective.Rosenbrock}

	pop, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, pop.BestKnown, 1e-3)
}

// Scenario 4: Quadratic/GD.
func TestQuadraticGDConvergesNearMinimum(t *testing.T) {
	cfg := config.Default()
	cfg.Global.MaxIterations = 100
	cfg.Global.Seed = 3
	cfg.Executor.Mode = config.ModeSerial
	cfg.GD.NStartingPoints = 1
	cfg.GD.FiniteStep = 1e-3
	cfg.GD.StepSize = 0.1

	r := &Runner{Cfg: cfg, Which: GD, Template: flatTemplate(t, 2, -5, 5), Obj: objective.Quadratic}

	pop, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, pop.Individuals, 1)

	coords := param.StreamlineFlat(pop.Individuals[0].Tree, gene.ConstrainedFloat64)
	require.Len(t, coords, 2)
	assert.InDelta(t, 3.0, coords[0], 1e-3)
	assert.InDelta(t, -1.0, coords[1], 1e-3)
}

// Scenario 5 (broker mode): an EA run through the broker executor with
// INCOMPLETE_RETURN and in-process workers completes without error.
func TestBrokerModeRunCompletesWithInProcessWorkers(t *testing.T) {
	cfg := config.Default()
	cfg.Global.MaxIterations = 2
	cfg.Global.Seed = 4
	cfg.Executor.Mode = config.ModeBroker
	cfg.Executor.NThreads = 1
	cfg.Executor.SRM = config.Incomplete
	cfg.Executor.WaitFactor = 1.2
	cfg.EA.PopSize = 6
	cfg.EA.NParents = 2
	cfg.EA.Recombination = "default"
	cfg.EA.Sorting = "plus"

	r := &Runner{Cfg: cfg, Which: EA, Template: flatTemplate(t, 3, -5, 5), Obj: objective.Sphere}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The in-process broker workers spun up by buildBrokerExecutor are
	// fast and reliable, so this exercises the "well-behaved swarm"
	// path end-to-end; pkg/executor's own broker_test.go exercises the
	// dead-worker timeout/Partial branch directly against a Broker.
	_, err := r.Run(ctx)
	require.NoError(t, err)
}

// Scenario 6: run sphere/EA for 100 iterations with checkpoint_interval
// 10; "kill" at iteration 90, restart from that checkpoint, and confirm
// iteration 91 onward reproduces the uninterrupted run's trajectory.
func TestCheckpointRestartReproducesTrajectory(t *testing.T) {
	dir := t.TempDir()

	baseCfg := func() config.Config {
		cfg := config.Default()
		cfg.Global.MaxIterations = 100
		cfg.Global.Seed = 5
		cfg.Global.CheckpointInterval = 10
		cfg.Executor.Mode = config.ModeSerial
		cfg.EA.PopSize = 20
		cfg.EA.NParents = 4
		cfg.EA.Recombination = "default"
		cfg.EA.Sorting = "plus"

		return cfg
	}

	full := &Runner{
		Cfg: baseCfg(), Which: EA, Template: flatTemplate(t, 5, -5, 5), Obj: objective.Sphere,
		CheckpointDir: dir, CheckpointBase: "full.ckpt",
	}

	fullPop, err := full.Run(context.Background())
	require.NoError(t, err)

	// "Kill" a second run after iteration 90 by capping MaxIterations at
	// 90; its periodic checkpointer has already written the iteration-90
	// file, the same one a real restart would pick up.
	toNinety := baseCfg()
	toNinety.Global.MaxIterations = 90

	killed := &Runner{
		Cfg: toNinety, Which: EA, Template: flatTemplate(t, 5, -5, 5), Obj: objective.Sphere,
		CheckpointDir: dir, CheckpointBase: "killed.ckpt",
	}

	pop90, err := killed.Run(context.Background())
	require.NoError(t, err)

	ckptPath, err := checkpoint.New(dir, "killed.ckpt", checkpoint.Structured).Save(pop90, 90)
	require.NoError(t, err)

	// Resume from the iteration-90 checkpoint for the remaining 10
	// iterations, using the same seed as the uninterrupted run so the
	// algorithm-owned RNG stream replays identically.
	resumeCfg := baseCfg()

	resumed := &Runner{
		Cfg: resumeCfg, Which: EA, Template: flatTemplate(t, 5, -5, 5), Obj: objective.Sphere,
		CheckpointDir: dir, CheckpointBase: "resumed.ckpt",
	}

	resumedPop, err := resumed.Resume(context.Background(), ckptPath, checkpoint.Structured)
	require.NoError(t, err)

	assert.Equal(t, fullPop.Iteration, resumedPop.Iteration)
	assert.InDelta(t, fullPop.BestKnown, resumedPop.BestKnown, 1e-12)

	fullCoords := param.StreamlineFlat(fullPop.Individuals[0].Tree, gene.ConstrainedFloat64)
	resumedCoords := param.StreamlineFlat(resumedPop.Individuals[0].Tree, gene.ConstrainedFloat64)
	require.Len(t, resumedCoords, len(fullCoords))

	for i := range fullCoords {
		assert.InDelta(t, fullCoords[i], resumedCoords[i], 1e-12)
	}
}
