// Package broker implements the buffer-port subsystem of spec.md section
// 4.6: a set of bounded queue pairs, one per submission site, that match
// submission sites to worker consumers polling round-robin across all
// registered ports.
package broker

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/gemfony/optevo/pkg/individual"
)

// PortID identifies a submission site so returns route back to the
// correct submitter.
type PortID string

// NewPortID mints a fresh, globally unique port identifier.
func NewPortID() PortID { return PortID(uuid.NewString()) }

// Tag correlates a submitted Item with the iteration and batch position
// it belongs to, so late returns can be told apart from current ones.
type Tag struct {
	Iteration uint32
	Position  int
}

// Item is one unit of work flowing through a BufferPort: an Individual
// plus the Tag assigned to it at submit time.
type Item struct {
	Tag        Tag
	Individual *individual.Individual
}

// BufferPort is a pair of bounded queues owned by the Broker: ToWorker
// carries submitted items out to consumers, FromWorker carries completed
// items back to the submitter.
type BufferPort struct {
	ToWorker   chan Item
	FromWorker chan Item
}

func newBufferPort(capacity int) *BufferPort {
	return &BufferPort{
		ToWorker:   make(chan Item, capacity),
		FromWorker: make(chan Item, capacity),
	}
}

// Broker owns the set of buffer ports and round-robins consumer Fetch
// calls across them. A submitted item is delivered to exactly one worker
// at a time; resubmission is the submitter's choice, never the broker's.
type Broker struct {
	mu    sync.Mutex
	ports map[PortID]*BufferPort
	order []PortID
	next  int

	closed bool
}

// New constructs an empty Broker.
func New() *Broker {
	return &Broker{ports: make(map[PortID]*BufferPort)}
}

// Register allocates a new buffer port with the given per-queue capacity
// and returns its identity.
func (b *Broker) Register(capacity int) PortID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := NewPortID()
	b.ports[id] = newBufferPort(capacity)
	b.order = append(b.order, id)

	return id
}

// Unregister removes a port. Consumer shutdown drains in-flight items
// back to FromWorker when possible (handled by the caller, which still
// holds references to items it popped from ToWorker); items already
// queued in ToWorker with no port left to return to are lost, matching
// spec.md section 4.6's "or marks them lost".
func (b *Broker) Unregister(id PortID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.ports, id)

	for i, pid := range b.order {
		if pid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Submit enqueues it on port id's ToWorker queue, blocking until capacity
// is available or ctx is done.
func (b *Broker) Submit(ctx context.Context, id PortID, it Item) error {
	port, err := b.portFor(id)
	if err != nil {
		return err
	}

	select {
	case port.ToWorker <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch polls ToWorker across every registered port in round-robin order
// and returns the first available item, along with the port it came
// from so Put can route the result back. Blocks until an item is
// available or ctx is done.
func (b *Broker) Fetch(ctx context.Context) (PortID, Item, error) {
	for {
		id, it, ok := b.tryFetchOnce()
		if ok {
			return id, it, nil
		}

		select {
		case <-ctx.Done():
			return "", Item{}, ctx.Err()
		default:
		}

		// No port had anything ready on this sweep; block on every
		// registered port's channel (or ctx) until one delivers, rather
		// than busy-spinning.
		b.mu.Lock()
		ports := append([]PortID(nil), b.order...)
		b.mu.Unlock()

		if len(ports) == 0 {
			select {
			case <-ctx.Done():
				return "", Item{}, ctx.Err()
			default:
				continue
			}
		}

		if id, it, ok := b.blockOnAny(ctx, ports); ok {
			return id, it, nil
		}

		if ctx.Err() != nil {
			return "", Item{}, ctx.Err()
		}
	}
}

func (b *Broker) tryFetchOnce() (PortID, Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.order)
	if n == 0 {
		return "", Item{}, false
	}

	for i := 0; i < n; i++ {
		idx := (b.next + i) % n
		id := b.order[idx]

		port, ok := b.ports[id]
		if !ok {
			continue
		}

		select {
		case it := <-port.ToWorker:
			b.next = (idx + 1) % n
			return id, it, true
		default:
		}
	}

	return "", Item{}, false
}

// blockOnAny blocks until any of the given ports' ToWorker channels
// delivers an item, or ctx is done, selecting over all of them at once.
func (b *Broker) blockOnAny(ctx context.Context, ports []PortID) (PortID, Item, bool) {
	b.mu.Lock()
	chans := make([]*BufferPort, 0, len(ports))
	ids := make([]PortID, 0, len(ports))

	for _, id := range ports {
		if p, ok := b.ports[id]; ok {
			chans = append(chans, p)
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	if len(chans) == 0 {
		return "", Item{}, false
	}

	// Single-port fast path avoids reflection-based select entirely.
	if len(chans) == 1 {
		select {
		case it := <-chans[0].ToWorker:
			return ids[0], it, true
		case <-ctx.Done():
			return "", Item{}, false
		}
	}

	return selectMany(ctx, ids, chans)
}

// selectMany blocks on whichever of chans' ToWorker channels becomes
// ready first, via reflect.Select since the channel count is dynamic.
func selectMany(ctx context.Context, ids []PortID, chans []*BufferPort) (PortID, Item, bool) {
	cases := make([]reflect.SelectCase, 0, len(chans)+1)
	for _, p := range chans {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(p.ToWorker)})
	}

	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

	chosen, recv, ok := reflect.Select(cases)
	if chosen == len(chans) || !ok {
		return "", Item{}, false
	}

	return ids[chosen], recv.Interface().(Item), true
}

func (b *Broker) portFor(id PortID) (*BufferPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	port, ok := b.ports[id]
	if !ok {
		return nil, fmt.Errorf("broker: unknown port %s", id)
	}

	return port, nil
}

// Put routes a completed item back to the originating port's FromWorker
// queue. Returning an item to a position already marked Processed is the
// caller's concern (executor-level resubmission race), not the broker's;
// the broker always accepts the put so long as the port still exists.
func (b *Broker) Put(ctx context.Context, id PortID, it Item) error {
	port, err := b.portFor(id)
	if err != nil {
		// A valid port no longer exists (consumer shutdown raced with a
		// worker finishing); the item is lost, matching section 4.6.
		return nil
	}

	select {
	case port.FromWorker <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Collect drains every currently-available item from port id's
// FromWorker queue without blocking.
func (b *Broker) Collect(id PortID) []Item {
	port, err := b.portFor(id)
	if err != nil {
		return nil
	}

	var items []Item

	for {
		select {
		case it := <-port.FromWorker:
			items = append(items, it)
		default:
			return items
		}
	}
}
