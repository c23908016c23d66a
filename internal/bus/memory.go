package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBus is an in-process Bus used by tests and single-binary deployments.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan []byte
	nextID int
	closed bool
}

// NewMemoryBus builds an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]chan []byte)}
}

// Publish marshals v and fans it out to current subscribers of topic.
func (b *MemoryBus) Publish(_ context.Context, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: marshal for %s: %w", topic, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus: closed")
	}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- data:
		default:
			// Slow consumer: drop rather than block the publisher.
		}
	}
	return nil
}

// Subscribe registers a consumer channel for topic.
func (b *MemoryBus) Subscribe(_ context.Context, topic string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, fmt.Errorf("bus: closed")
	}

	id := b.nextID
	b.nextID++
	ch := make(chan []byte, 64)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan []byte)
	}
	b.subs[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[topic][id]; ok {
			delete(b.subs[topic], id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// Close tears down every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
		delete(b.subs, topic)
	}
	return nil
}
