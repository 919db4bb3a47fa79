package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemfony/optevo/pkg/broker"
	"github.com/gemfony/optevo/pkg/individual"
)

// fakeWorker drains fetched items from the broker and immediately puts
// them back, marking the underlying individual clean.
func fakeWorker(ctx context.Context, b *broker.Broker) {
	for {
		id, it, err := b.Fetch(ctx)
		if err != nil {
			return
		}

		it.Individual.Dirty = false
		it.Individual.Fitness = 1

		_ = b.Put(ctx, id, it)
	}
}

func brokerBatch(n int) []*individual.Individual {
	batch := make([]*individual.Individual, n)
	for i := range batch {
		batch[i] = &individual.Individual{Dirty: true}
	}

	return batch
}

func TestBrokerExecutorExpectFullReturnWaitsForEveryItem(t *testing.T) {
	b := broker.New()
	port := b.Register(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go fakeWorker(ctx, b)

	exec := NewBrokerExecutor(b, port, ExpectFullReturn, 2, 0)

	batch := brokerBatch(5)
	positions := make([]Status, 5)

	completeness, err := exec.WorkOn(context.Background(), batch, positions)
	require.NoError(t, err)
	assert.Equal(t, All, completeness)

	for _, s := range positions {
		assert.Equal(t, Processed, s)
	}
}

func TestBrokerExecutorIncompleteReturnTimesOutOnSecondCall(t *testing.T) {
	b := broker.New()
	port := b.Register(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go fakeWorker(ctx, b)

	exec := NewBrokerExecutor(b, port, IncompleteReturn, 1.5, 0)
	exec.PollInterval = time.Millisecond

	// First call establishes a baseline duration T.
	batch := brokerBatch(3)
	positions := make([]Status, 3)

	_, err := exec.WorkOn(context.Background(), batch, positions)
	require.NoError(t, err)

	// Stop the worker so the second call's submissions go unanswered and
	// the wait_factor*T deadline fires.
	cancel()
	time.Sleep(5 * time.Millisecond)

	batch2 := brokerBatch(2)
	positions2 := make([]Status, 2)

	completeness, err := exec.WorkOn(context.Background(), batch2, positions2)
	require.NoError(t, err)
	assert.Equal(t, Partial, completeness)
}

func TestBrokerExecutorResubmitAfterTimeoutRetriesThenGivesUp(t *testing.T) {
	b := broker.New()
	port := b.Register(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go fakeWorker(ctx, b)

	exec := NewBrokerExecutor(b, port, ResubmitAfterTimeout, 1.5, 2)
	exec.PollInterval = time.Millisecond

	batch := brokerBatch(3)
	positions := make([]Status, 3)

	_, err := exec.WorkOn(context.Background(), batch, positions)
	require.NoError(t, err)

	cancel()
	time.Sleep(5 * time.Millisecond)

	batch2 := brokerBatch(2)
	positions2 := make([]Status, 2)

	completeness, err := exec.WorkOn(context.Background(), batch2, positions2)
	require.NoError(t, err)
	assert.Equal(t, Partial, completeness)
}

func TestBrokerExecutorSkipsAlreadyProcessedPositions(t *testing.T) {
	b := broker.New()
	port := b.Register(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go fakeWorker(ctx, b)

	exec := NewBrokerExecutor(b, port, ExpectFullReturn, 2, 0)

	batch := brokerBatch(2)
	positions := []Status{Processed, Unprocessed}

	completeness, err := exec.WorkOn(context.Background(), batch, positions)
	require.NoError(t, err)
	assert.Equal(t, All, completeness)
	assert.Equal(t, Processed, positions[0])
	assert.Equal(t, Processed, positions[1])
}

func TestBrokerExecutorEmptyPendingReturnsAllImmediately(t *testing.T) {
	b := broker.New()
	port := b.Register(8)

	exec := NewBrokerExecutor(b, port, ExpectFullReturn, 2, 0)

	batch := brokerBatch(1)
	positions := []Status{Processed}

	completeness, err := exec.WorkOn(context.Background(), batch, positions)
	require.NoError(t, err)
	assert.Equal(t, All, completeness)
}
