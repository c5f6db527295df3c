package playback

import (
	"context"
	"sync"
)

// Gate serializes operations that share a key. Waiters are admitted in
// arrival order; operations on different keys never wait on each other.
type Gate struct {
	mu     sync.Mutex
	queues map[string]*gateQueue
}

// gateQueue exists only while its key is held.
type gateQueue struct {
	waiters []chan struct{}
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{queues: make(map[string]*gateQueue)}
}

// Acquire blocks until the caller holds key or ctx is done. The returned
// release function must be called exactly once; extra calls are ignored.
func (g *Gate) Acquire(ctx context.Context, key string) (release func(), err error) {
	g.mu.Lock()
	q, held := g.queues[key]
	if !held {
		g.queues[key] = &gateQueue{}
		g.mu.Unlock()
		return g.releaser(key), nil
	}

	ready := make(chan struct{})
	q.waiters = append(q.waiters, ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return g.releaser(key), nil
	case <-ctx.Done():
		g.mu.Lock()
		removed := q.remove(ready)
		g.mu.Unlock()
		if !removed {
			// The permit was handed over while we were giving up; pass it on.
			g.release(key)
		}
		return nil, ctx.Err()
	}
}

// TryAcquire takes key only if it is free.
func (g *Gate) TryAcquire(key string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.queues[key]; held {
		return nil, false
	}
	g.queues[key] = &gateQueue{}
	return g.releaser(key), true
}

// Busy reports whether key is currently held.
func (g *Gate) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.queues[key]
	return held
}

// Waiting returns the number of operations queued behind the holder of key.
func (g *Gate) Waiting(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if q, ok := g.queues[key]; ok {
		return len(q.waiters)
	}
	return 0
}

func (g *Gate) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { g.release(key) })
	}
}

// release hands the key to the oldest waiter, or frees it.
func (g *Gate) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	q, ok := g.queues[key]
	if !ok {
		return
	}
	if len(q.waiters) == 0 {
		delete(g.queues, key)
		return
	}
	next := q.waiters[0]
	q.waiters[0] = nil
	q.waiters = q.waiters[1:]
	close(next)
}

func (q *gateQueue) remove(ch chan struct{}) bool {
	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}
