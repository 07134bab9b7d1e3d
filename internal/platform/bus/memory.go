package bus

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// MemoryBus is an in-process Bus for tests and local mode. In a multi-node
// deployment it must be replaced by the redis or NATS backend.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[uint64]memorySub
	seq  atomic.Uint64
}

type memorySub struct {
	nodeID  string
	handler Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[uint64]memorySub)}
}

func (b *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	b.mu.RLock()
	handlers := make([]memorySub, 0, len(b.subs))
	for _, s := range b.subs {
		handlers = append(handlers, s)
	}
	b.mu.RUnlock()

	for _, s := range handlers {
		if s.nodeID == env.NodeID {
			continue
		}
		s.handler(env)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, nodeID string, handler Handler) (io.Closer, error) {
	id := b.seq.Add(1)
	b.mu.Lock()
	b.subs[id] = memorySub{nodeID: nodeID, handler: handler}
	b.mu.Unlock()
	return &memoryCloser{bus: b, id: id}, nil
}

type memoryCloser struct {
	bus *MemoryBus
	id  uint64
}

func (c *memoryCloser) Close() error {
	c.bus.mu.Lock()
	delete(c.bus.subs, c.id)
	c.bus.mu.Unlock()
	return nil
}
