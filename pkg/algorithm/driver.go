// Package algorithm implements the driver loop shared by EA, PSO, and GD
// (spec.md section 4.4), plus the OptimizationAlgorithm interface each of
// pkg/algorithm/ea, pkg/algorithm/pso, and pkg/algorithm/gd implements.
package algorithm

import (
	"context"
	"time"

	"github.com/gemfony/optevo/pkg/checkpoint"
	"github.com/gemfony/optevo/pkg/population"
)

// OptimizationAlgorithm is the state machine a Driver cycles through.
// Implementations own no concurrency of their own: any fan-out happens
// inside the Executor they're handed at construction, and the Driver
// never calls two of these methods concurrently.
type OptimizationAlgorithm interface {
	// Init seeds pop with the algorithm's initial individuals.
	Init(ctx context.Context, pop *population.Population) error
	// CycleLogic runs one iteration: adapt/evaluate/select as appropriate,
	// mutating pop in place.
	CycleLogic(ctx context.Context, pop *population.Population) error
	// Finalize runs once after the halt criterion fires.
	Finalize(pop *population.Population) error
}

// RNGStateful is implemented by algorithms whose RNG stream position
// must survive a checkpoint restart so that a resumed run replays the
// exact remaining draw sequence of the uninterrupted one, instead of
// reseeding. All of pkg/algorithm/ea, pso, and gd implement it.
type RNGStateful interface {
	RNGState() ([]byte, error)
	SetRNGState(data []byte) error
}

// StopCriteria bundles the OR-combined halt conditions of spec.md
// section 4.4: iteration/wall-clock bounds, an external stop flag, and a
// user-defined quality threshold.
type StopCriteria struct {
	MaxIterations  uint32
	MaxDuration    time.Duration
	QualityReached func(bestKnown float64, maximize bool) bool
	externalStop   chan struct{}
}

// NewStopCriteria constructs a StopCriteria with an externally
// triggerable stop channel.
func NewStopCriteria() *StopCriteria {
	return &StopCriteria{externalStop: make(chan struct{})}
}

// Stop requests halt at the next iteration boundary. Safe to call from
// any goroutine; cancellation is cooperative and takes effect only
// between iterations, never mid-batch (spec.md section 5).
func (s *StopCriteria) Stop() {
	select {
	case <-s.externalStop:
	default:
		close(s.externalStop)
	}
}

func (s *StopCriteria) externallyStopped() bool {
	select {
	case <-s.externalStop:
		return true
	default:
		return false
	}
}

// Progress is emitted every ReportInterval iterations.
type Progress struct {
	Iteration uint32
	BestKnown float64
	Elapsed   time.Duration
}

// Driver runs the shared EA/PSO/GD loop of spec.md section 4.4 against
// one OptimizationAlgorithm implementation.
type Driver struct {
	Algorithm          OptimizationAlgorithm
	Population         *population.Population
	Stop               *StopCriteria
	ReportInterval     uint32
	CheckpointInterval uint32
	Checkpointer       *checkpoint.Checkpointer
	OnProgress         func(Progress)

	// SkipInit resumes from a Population already populated by a
	// checkpoint restore, per spec.md section 4.7's restart scenario,
	// instead of calling Algorithm.Init to seed a fresh one.
	SkipInit bool
}

// Run executes init, the cycle loop, and finalize until a halt criterion
// fires. It returns only an error; the best fitness found is left in the
// Population.
func (d *Driver) Run(ctx context.Context) error {
	if !d.SkipInit {
		if err := d.Algorithm.Init(ctx, d.Population); err != nil {
			return err
		}
	}

	start := time.Now()

	for !d.halt(start) {
		if ctx.Err() != nil {
			break
		}

		d.Population.Iteration++

		if err := d.Algorithm.CycleLogic(ctx, d.Population); err != nil {
			return err
		}

		d.Population.UpdateStalls()

		if d.ReportInterval != 0 && d.Population.Iteration%d.ReportInterval == 0 {
			d.emitProgress(start)
		}

		if d.CheckpointInterval != 0 && d.Checkpointer != nil && d.Population.Iteration%d.CheckpointInterval == 0 {
			if err := d.snapshotRNGState(); err != nil {
				return err
			}

			if _, err := d.Checkpointer.Save(d.Population, int(d.Population.Iteration)); err != nil {
				return err
			}
		}
	}

	if d.Checkpointer != nil {
		if err := d.snapshotRNGState(); err != nil {
			return err
		}

		if _, err := d.Checkpointer.Save(d.Population, -1); err != nil {
			return err
		}
	}

	return d.Algorithm.Finalize(d.Population)
}

// snapshotRNGState copies the algorithm's current RNG stream position
// onto the Population about to be checkpointed, so a restart replays
// the remaining draw sequence exactly instead of reseeding.
func (d *Driver) snapshotRNGState() error {
	stateful, ok := d.Algorithm.(RNGStateful)
	if !ok {
		return nil
	}

	state, err := stateful.RNGState()
	if err != nil {
		return err
	}

	d.Population.RNGState = state

	return nil
}

func (d *Driver) halt(start time.Time) bool {
	if d.Stop.MaxIterations != 0 && d.Population.Iteration >= d.Stop.MaxIterations {
		return true
	}

	if d.Stop.MaxDuration != 0 && time.Since(start) >= d.Stop.MaxDuration {
		return true
	}

	if d.Stop.externallyStopped() {
		return true
	}

	if d.Stop.QualityReached != nil && d.Stop.QualityReached(d.Population.BestKnown, d.Population.Maximize) {
		return true
	}

	return false
}

func (d *Driver) emitProgress(start time.Time) {
	if d.OnProgress == nil {
		return
	}

	d.OnProgress(Progress{
		Iteration: d.Population.Iteration,
		BestKnown: d.Population.BestKnown,
		Elapsed:   time.Since(start),
	})
}
