package realtime

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a broker after Close.
var ErrClosed = errors.New("realtime: broker closed")

// MemoryBroker fans changes out to in-process subscribers.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*Subscription]struct{})}
}

// Publish delivers change to every matching subscription.
func (b *MemoryBroker) Publish(ctx context.Context, change Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs {
		sub.deliver(change)
	}
	return nil
}

// Subscribe registers a filtered subscription.
func (b *MemoryBroker) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	var sub *Subscription
	sub = newSubscription(filter, func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	})
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Len returns the number of live subscriptions.
func (b *MemoryBroker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close tears down every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
