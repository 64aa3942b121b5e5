// Package workpool provides the shared host-side task pool used by the
// dispatcher for per-key parallelism inside a batch and for backgrounding
// asynchronous GETs.
package workpool

import (
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("workpool: pool closed")

// Pool runs submitted tasks on a fixed set of worker goroutines.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New starts a pool of workers goroutines.
func New(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{tasks: make(chan func(), workers*4)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit enqueues a task, blocking while the queue is full.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.tasks <- task
	p.mu.Unlock()
	return nil
}

// Run executes fn(0..n-1) on the pool and waits for all of them.
func (p *Pool) Run(n int, fn func(i int)) error {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		if err := p.Submit(func() {
			defer wg.Done()
			fn(i)
		}); err != nil {
			// Undo the remaining adds; i tasks are already in flight.
			for j := i; j < n; j++ {
				wg.Done()
			}
			wg.Wait()
			return err
		}
	}
	wg.Wait()
	return nil
}

// Future is a handle to a backgrounded task.
type Future struct {
	done chan struct{}
}

// SubmitFuture enqueues a task and returns a handle that resolves when the
// task finishes.
func (p *Pool) SubmitFuture(task func()) (*Future, error) {
	f := &Future{done: make(chan struct{})}
	err := p.Submit(func() {
		defer close(f.done)
		task()
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Wait blocks until the task finishes. Safe to call from multiple
// goroutines; subsequent calls return immediately.
func (f *Future) Wait() {
	<-f.done
}

// Done reports whether the task has finished without blocking.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Close stops accepting tasks and waits for in-flight ones.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
