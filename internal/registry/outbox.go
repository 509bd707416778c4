package registry

import (
	"sync"

	"github.com/vovakirdan/taskchat/internal/proto"
)

// DefaultOutboxSize is used when a non-positive size is configured.
const DefaultOutboxSize = 64

// Outbox is a bounded FIFO of envelopes waiting to be written to one connection.
// When full, the oldest pending envelope is dropped so producers never block.
type Outbox struct {
	mu      sync.Mutex
	items   []*proto.Envelope
	size    int
	closed  bool
	dropped uint64

	ready chan struct{}
	done  chan struct{}
}

// NewOutbox creates an outbox holding at most size envelopes.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		items: make([]*proto.Envelope, 0, size),
		size:  size,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends env. It reports whether the oldest pending envelope was evicted to make room.
// Pushing to a closed outbox is a no-op.
func (o *Outbox) Push(env *proto.Envelope) (droppedOldest bool) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if len(o.items) >= o.size {
		o.items[0] = nil
		o.items = o.items[1:]
		o.dropped++
		droppedOldest = true
	}
	o.items = append(o.items, env)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return droppedOldest
}

// Pop removes and returns the oldest envelope, if any.
func (o *Outbox) Pop() (*proto.Envelope, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.items) == 0 {
		return nil, false
	}
	env := o.items[0]
	o.items[0] = nil
	o.items = o.items[1:]
	return env, true
}

// Ready is signalled after a push. Consumers drain with Pop until it reports empty.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Done is closed once the outbox is closed.
func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Close discards pending envelopes and wakes consumers. Safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	o.items = nil
	close(o.done)
}

// Len returns the number of pending envelopes.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

// Dropped returns how many envelopes were evicted because the outbox was full.
func (o *Outbox) Dropped() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
