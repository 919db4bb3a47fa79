package executor

import (
	"context"
	"sync"
	"time"

	"github.com/gemfony/optevo/pkg/broker"
	"github.com/gemfony/optevo/pkg/individual"
)

// SubmissionReturnMode selects a BrokerExecutor's timeout behavior when a
// submitted batch doesn't come back in full (spec.md section 4.6).
type SubmissionReturnMode int

const (
	// ExpectFullReturn blocks until every submitted item is returned,
	// never timing out.
	ExpectFullReturn SubmissionReturnMode = iota
	// IncompleteReturn waits up to wait_factor*T, then proceeds with
	// whatever has been returned, leaving the rest Unprocessed.
	IncompleteReturn
	// ResubmitAfterTimeout is IncompleteReturn, but re-submits the
	// missing items (up to MaxResubmissions times) before giving up.
	ResubmitAfterTimeout
)

// BrokerExecutor evaluates a batch by submitting every item through a
// Broker port and collecting results put back by out-of-process (or
// in-process simulated) workers. T, the timeout baseline of spec.md
// section 4.6, is the duration of the single most recently completed
// WorkOn call; per the resolved open question (see DESIGN.md), this is
// a fresh per-iteration measurement, not a running average.
type BrokerExecutor struct {
	Broker           *broker.Broker
	Port             broker.PortID
	Mode             SubmissionReturnMode
	WaitFactor       float64
	MaxResubmissions int
	PollInterval     time.Duration

	mu           sync.Mutex
	iteration    uint32
	lastDuration time.Duration
	oldItems     []broker.Item
}

// NewBrokerExecutor constructs a broker-mediated executor submitting
// through port on b.
func NewBrokerExecutor(b *broker.Broker, port broker.PortID, mode SubmissionReturnMode, waitFactor float64, maxResubmissions int) *BrokerExecutor {
	return &BrokerExecutor{
		Broker: b, Port: port, Mode: mode,
		WaitFactor: waitFactor, MaxResubmissions: maxResubmissions,
		PollInterval: 5 * time.Millisecond,
	}
}

func (e *BrokerExecutor) nextIteration() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.iteration++

	return e.iteration
}

func (e *BrokerExecutor) deadline() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastDuration == 0 {
		return 0
	}

	return time.Duration(e.WaitFactor * float64(e.lastDuration))
}

func (e *BrokerExecutor) recordDuration(d time.Duration) {
	e.mu.Lock()
	e.lastDuration = d
	e.mu.Unlock()
}

func (e *BrokerExecutor) pushOldItem(it broker.Item) {
	e.mu.Lock()
	e.oldItems = append(e.oldItems, it)
	e.mu.Unlock()
}

// DrainOldItems returns and clears every item collected with an older
// iteration tag than the WorkOn call it arrived during (spec.md section
// 4.5's old_items sink). Algorithms that can use a late return as a
// replacement for a member that hasn't yet returned (PSO, per section
// 4.4.2) call this after WorkOn; algorithms that don't care can ignore
// it, in which case the items accumulate until the next drain.
func (e *BrokerExecutor) DrainOldItems() []broker.Item {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := e.oldItems
	e.oldItems = nil

	return items
}

func (e *BrokerExecutor) WorkOn(ctx context.Context, batch []*individual.Individual, positions []Status) (Completeness, error) {
	iteration := e.nextIteration()

	pending := make(map[int]struct{})

	for i, ind := range batch {
		if positions[i] == Processed {
			continue
		}

		if err := e.Broker.Submit(ctx, e.Port, broker.Item{
			Tag:        broker.Tag{Iteration: iteration, Position: i},
			Individual: ind,
		}); err != nil {
			return Partial, err
		}

		pending[i] = struct{}{}
	}

	if len(pending) == 0 {
		return All, nil
	}

	start := time.Now()

	resubmissions := 0

	for {
		deadline := e.effectiveDeadline()

		completed, timedOut, err := e.collectUntil(ctx, iteration, batch, positions, pending, deadline)
		if err != nil {
			return Partial, err
		}

		_ = completed

		if len(pending) == 0 {
			e.recordDuration(time.Since(start))
			return All, nil
		}

		if !timedOut {
			// ctx was cancelled without a full collection; treat as partial.
			e.recordDuration(time.Since(start))
			return Partial, ctx.Err()
		}

		switch e.Mode {
		case ExpectFullReturn:
			// No deadline is ever set in this mode (effectiveDeadline
			// returns 0), so collectUntil never reports a timeout here;
			// this branch exists only to document that invariant.
			continue
		case IncompleteReturn:
			e.recordDuration(time.Since(start))
			return Partial, nil
		case ResubmitAfterTimeout:
			if resubmissions >= e.MaxResubmissions {
				e.recordDuration(time.Since(start))
				return Partial, nil
			}

			resubmissions++

			for i := range pending {
				if err := e.Broker.Submit(ctx, e.Port, broker.Item{
					Tag:        broker.Tag{Iteration: iteration, Position: i},
					Individual: batch[i],
				}); err != nil {
					return Partial, err
				}
			}
		}
	}
}

func (e *BrokerExecutor) effectiveDeadline() time.Duration {
	if e.Mode == ExpectFullReturn {
		return 0
	}

	return e.deadline()
}

// collectUntil drains returned items until pending is empty, the
// deadline elapses, or ctx is done. Items tagged with an iteration older
// than the caller's current one are routed to the old_items sink
// (spec.md section 4.5) instead of the batch: a late return from a
// prior, already-abandoned submission whose position has since been
// resubmitted or reassigned to a different individual entirely.
func (e *BrokerExecutor) collectUntil(ctx context.Context, iteration uint32, batch []*individual.Individual, positions []Status, pending map[int]struct{}, deadline time.Duration) (completed int, timedOut bool, err error) {
	var deadlineCh <-chan time.Time

	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()

		deadlineCh = timer.C
	}

	for len(pending) > 0 {
		items := e.Broker.Collect(e.Port)

		for _, it := range items {
			if it.Tag.Iteration != iteration {
				if it.Tag.Iteration < iteration {
					e.pushOldItem(it)
				}

				continue
			}

			if _, want := pending[it.Tag.Position]; !want {
				continue
			}

			batch[it.Tag.Position] = it.Individual
			positions[it.Tag.Position] = Processed
			delete(pending, it.Tag.Position)
			completed++
		}

		if len(pending) == 0 {
			return completed, false, nil
		}

		if len(items) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return completed, false, ctx.Err()
		case <-deadlineCh:
			return completed, true, nil
		case <-time.After(e.pollInterval()):
		}
	}

	return completed, false, nil
}

func (e *BrokerExecutor) pollInterval() time.Duration {
	if e.PollInterval <= 0 {
		return 5 * time.Millisecond
	}

	return e.PollInterval
}
