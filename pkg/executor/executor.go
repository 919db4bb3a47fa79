// Package executor abstracts "evaluate this batch" behind one interface
// with three implementations: serial, thread-pool, and broker-mediated
// (spec.md section 4.5). Executors preserve batch order; each position's
// Status tells the caller whether that item came back in time.
package executor

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/gemfony/optevo/pkg/errs"
	"github.com/gemfony/optevo/pkg/individual"
	"golang.org/x/sync/errgroup"
)

// Status marks whether a batch position was returned in time.
type Status int

const (
	Unprocessed Status = iota
	Processed
)

// Completeness reports whether every submitted item came back.
type Completeness int

const (
	All Completeness = iota
	Partial
)

// Executor turns a batch of dirty Individuals into evaluated ones.
type Executor interface {
	WorkOn(ctx context.Context, batch []*individual.Individual, positions []Status) (Completeness, error)
}

// Serial processes every item in the caller's goroutine. Always returns All.
type Serial struct {
	Obj individual.Objective
}

// NewSerial constructs a Serial executor evaluating with obj.
func NewSerial(obj individual.Objective) *Serial { return &Serial{Obj: obj} }

func (s *Serial) WorkOn(ctx context.Context, batch []*individual.Individual, positions []Status) (Completeness, error) {
	for i, ind := range batch {
		if positions[i] == Processed {
			continue
		}

		if ctx.Err() != nil {
			return Partial, ctx.Err()
		}

		if _, err := ind.Evaluate(s.Obj); err != nil {
			// Evaluation errors are localized to the item: the individual
			// stays dirty and the position stays Unprocessed.
			continue
		}

		positions[i] = Processed
	}

	return All, nil
}

// ThreadPool schedules each item on a bounded worker pool sized to
// hardware concurrency by default, joining before returning. Grounded on
// genetic.ParallelEvaluator's jobs/results channel pair, generalized to
// the Status/Completeness contract shared with the broker executor, and
// using errgroup so a panicking evaluator surfaces as ErrEvaluationFailed
// for its item rather than crashing the pool.
type ThreadPool struct {
	Obj     individual.Objective
	Workers int
}

// NewThreadPool constructs a ThreadPool executor with the given worker
// count (0 = runtime.NumCPU()).
func NewThreadPool(obj individual.Objective, workers int) *ThreadPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &ThreadPool{Obj: obj, Workers: workers}
}

func (tp *ThreadPool) WorkOn(ctx context.Context, batch []*individual.Individual, positions []Status) (Completeness, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tp.Workers)

	var mu sync.Mutex

	for i := range batch {
		if positions[i] == Processed {
			continue
		}

		idx := i

		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: worker panic: %v", errs.ErrEvaluationFailed, r)
				}
			}()

			if gctx.Err() != nil {
				return gctx.Err()
			}

			if _, evalErr := batch[idx].Evaluate(tp.Obj); evalErr != nil {
				// localized per-item failure: the position stays Unprocessed
				return nil
			}

			mu.Lock()
			positions[idx] = Processed
			mu.Unlock()

			return nil
		})
	}

	err := g.Wait()

	for _, s := range positions {
		if s == Unprocessed {
			return Partial, err
		}
	}

	return All, err
}
