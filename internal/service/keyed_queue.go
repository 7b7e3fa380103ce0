package service

import (
	"context"
	"sync"
)

// KeyedQueue serializes work per key. Establish and Close for the same user
// run in submission order; different users never block each other.
type KeyedQueue struct {
	mu     sync.Mutex
	chains map[string]chan struct{}
}

func NewKeyedQueue() *KeyedQueue {
	return &KeyedQueue{chains: map[string]chan struct{}{}}
}

func (q *KeyedQueue) Run(ctx context.Context, key string, fn func(context.Context) error) error {
	q.mu.Lock()
	previous := q.chains[key]
	next := make(chan struct{})
	q.chains[key] = next
	q.mu.Unlock()

	release := func() {
		close(next)
		q.mu.Lock()
		if q.chains[key] == next {
			delete(q.chains, key)
		}
		q.mu.Unlock()
	}

	if previous != nil {
		select {
		case <-previous:
		case <-ctx.Done():
			// A waiter that gives up still owns a link in the chain.
			// Hand it off so successors keep waiting for the running
			// work instead of blocking forever on this link.
			go func() {
				<-previous
				release()
			}()
			return ctx.Err()
		}
	}

	defer release()
	return fn(ctx)
}
