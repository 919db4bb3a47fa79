package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemfony/optevo/pkg/individual"
)

func TestRegisterUnregister(t *testing.T) {
	b := New()
	id := b.Register(4)

	assert.Len(t, b.order, 1)

	b.Unregister(id)
	assert.Len(t, b.order, 0)
}

func TestSubmitFetchRoundTrip(t *testing.T) {
	b := New()
	id := b.Register(4)

	ctx := context.Background()
	it := Item{Tag: Tag{Iteration: 1, Position: 0}, Individual: &individual.Individual{}}

	require.NoError(t, b.Submit(ctx, id, it))

	gotID, gotItem, err := b.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, it.Tag, gotItem.Tag)
}

func TestFetchRoundRobinsAcrossPorts(t *testing.T) {
	b := New()
	id1 := b.Register(4)
	id2 := b.Register(4)

	ctx := context.Background()

	require.NoError(t, b.Submit(ctx, id1, Item{Tag: Tag{Position: 1}}))
	require.NoError(t, b.Submit(ctx, id2, Item{Tag: Tag{Position: 2}}))

	seen := map[PortID]bool{}

	for i := 0; i < 2; i++ {
		id, _, err := b.Fetch(ctx)
		require.NoError(t, err)
		seen[id] = true
	}

	assert.True(t, seen[id1])
	assert.True(t, seen[id2])
}

func TestPutCollect(t *testing.T) {
	b := New()
	id := b.Register(4)

	ctx := context.Background()
	it := Item{Tag: Tag{Position: 1}, Individual: &individual.Individual{}}

	require.NoError(t, b.Put(ctx, id, it))

	items := b.Collect(id)
	require.Len(t, items, 1)
	assert.Equal(t, it.Tag, items[0].Tag)
}

func TestPutToMissingPortIsLost(t *testing.T) {
	b := New()

	err := b.Put(context.Background(), PortID("nope"), Item{})
	assert.NoError(t, err)
}

func TestSubmitToMissingPortErrors(t *testing.T) {
	b := New()
	err := b.Submit(context.Background(), PortID("nope"), Item{})
	assert.Error(t, err)
}

func TestFetchBlocksUntilSubmit(t *testing.T) {
	b := New()
	id := b.Register(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = b.Submit(context.Background(), id, Item{Tag: Tag{Position: 9}})
	}()

	_, item, err := b.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, item.Tag.Position)
}

func TestFetchRespectsContextCancellation(t *testing.T) {
	b := New()
	b.Register(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := b.Fetch(ctx)
	assert.Error(t, err)
}
