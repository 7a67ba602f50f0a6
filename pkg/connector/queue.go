// Copyright 2024-2026 Aiku AI

package connector

import "sync"

// orderedQueue runs tasks concurrently across keys while tasks sharing a key
// run one after another in submission order.
type orderedQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
	wg    sync.WaitGroup
}

func newOrderedQueue() *orderedQueue {
	return &orderedQueue{tails: make(map[string]chan struct{})}
}

func (q *orderedQueue) Go(key string, fn func()) {
	done := make(chan struct{})
	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = done
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if prev != nil {
			<-prev
		}
		defer func() {
			close(done)
			q.mu.Lock()
			if q.tails[key] == done {
				delete(q.tails, key)
			}
			q.mu.Unlock()
		}()
		fn()
	}()
}

// Wait blocks until every submitted task has finished.
func (q *orderedQueue) Wait() {
	q.wg.Wait()
}
