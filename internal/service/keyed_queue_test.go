package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedQueueSerializesSameKey(t *testing.T) {
	queue := NewKeyedQueue()
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	running := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			err := queue.Run(ctx, "user-1", func(context.Context) error {
				mu.Lock()
				running++
				if running > 1 {
					t.Errorf("overlapping execution for the same key")
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				running--
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("run: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(order) != 8 {
		t.Fatalf("expected 8 completions, got %d", len(order))
	}
}

func TestKeyedQueueKeysAreIndependent(t *testing.T) {
	queue := NewKeyedQueue()
	ctx := context.Background()

	blocker := make(chan struct{})
	started := make(chan struct{})
	go queue.Run(ctx, "user-1", func(context.Context) error {
		close(started)
		<-blocker
		return nil
	})
	<-started
	defer close(blocker)

	done := make(chan struct{})
	go func() {
		queue.Run(ctx, "user-2", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("work for a different key was blocked")
	}
}

func TestKeyedQueueHonorsContextWhileWaiting(t *testing.T) {
	queue := NewKeyedQueue()

	blocker := make(chan struct{})
	started := make(chan struct{})
	go queue.Run(context.Background(), "user-1", func(context.Context) error {
		close(started)
		<-blocker
		return nil
	})
	<-started
	defer close(blocker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := queue.Run(ctx, "user-1", func(context.Context) error {
		t.Errorf("cancelled waiter must not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestKeyedQueuePropagatesError(t *testing.T) {
	queue := NewKeyedQueue()
	want := errors.New("boom")

	err := queue.Run(context.Background(), "user-1", func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
