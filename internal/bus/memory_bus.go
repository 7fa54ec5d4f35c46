package bus

import (
	"context"
	"sync"

	"github.com/yungbote/pathsync/internal/pkg/logger"
)

// memoryBus is the single-process implementation used when no Redis is
// configured, and by tests.
type memoryBus struct {
	log *logger.Logger

	mu         sync.RWMutex
	forwarders []func(Message)
	closed     bool
}

func NewMemoryBus(log *logger.Logger) Bus {
	return &memoryBus{log: log.With("component", "MemoryBus")}
}

func (b *memoryBus) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, fn := range b.forwarders {
		fn(msg)
	}
	return nil
}

func (b *memoryBus) StartForwarder(ctx context.Context, onMsg func(Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forwarders = append(b.forwarders, func(m Message) {
		if ctx.Err() != nil {
			return
		}
		onMsg(m)
	})
	return nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.forwarders = nil
	return nil
}
