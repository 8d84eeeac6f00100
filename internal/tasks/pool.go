// Package tasks runs slow work (model calls, ledger writes) off the
// update-dispatch path on a fixed pool of workers.
package tasks

import (
	"context"
	"fmt"
	"sync"
)

type Task func(ctx context.Context)

// Pool is a fixed set of workers draining a buffered channel. Submit
// blocks once the buffer is full, which back-pressures the dispatcher
// instead of growing unbounded goroutines.
type Pool struct {
	tasks     chan Task
	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

func NewPool(workers, buffer int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		tasks:  make(chan Task, buffer),
		closed: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task(context.Background())
		case <-p.closed:
			return
		}
	}
}

// Submit enqueues a task. It fails once the pool is stopped or the
// caller's context expires while the buffer is full.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-p.closed:
		return fmt.Errorf("pool is stopped")
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return fmt.Errorf("pool is stopped")
	}
}

// Stop prevents new submissions and waits for the workers to exit.
// Buffered tasks that have not started are dropped.
func (p *Pool) Stop() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}
