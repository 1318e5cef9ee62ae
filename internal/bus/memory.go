package bus

import (
	"context"
	"sync"
)

// MemoryBroker connects relays living in one process.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[*MemoryBus][]chan *Message
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*MemoryBus][]chan *Message)}
}

// Attach returns a Bus for one relay instance.
func (m *MemoryBroker) Attach(instanceID string) *MemoryBus {
	return &MemoryBus{broker: m, instance: instanceID}
}

type MemoryBus struct {
	broker   *MemoryBroker
	instance string
}

func (b *MemoryBus) Publish(ctx context.Context, roomID string, frame []byte) error {
	msg := &Message{Origin: b.instance, RoomID: roomID, Frame: append([]byte(nil), frame...)}

	b.broker.mu.RLock()
	defer b.broker.mu.RUnlock()
	for bus, chans := range b.broker.subs {
		if bus == b {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- msg:
			default:
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan *Message, error) {
	ch := make(chan *Message, 256)

	b.broker.mu.Lock()
	b.broker.subs[b] = append(b.broker.subs[b], ch)
	b.broker.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.detach()
	}()
	return ch, nil
}

func (b *MemoryBus) detach() {
	b.broker.mu.Lock()
	defer b.broker.mu.Unlock()
	for _, ch := range b.broker.subs[b] {
		close(ch)
	}
	delete(b.broker.subs, b)
}

func (b *MemoryBus) Close() error {
	b.detach()
	return nil
}
