// Package worker runs short background tasks on a bounded number of
// goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/dmitrijs2005/hivenode/internal/logging"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Observer is told about every finished task.
type Observer func(task string, err error)

// Task is one unit of background work.
type Task func(ctx context.Context) error

type Pool struct {
	sem     *semaphore.Weighted
	ctx     context.Context
	observe Observer
	log     logging.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool runs at most size tasks at a time under ctx. Tasks still queued
// when ctx is cancelled are dropped.
func NewPool(ctx context.Context, size int, observe Observer, log logging.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if observe == nil {
		observe = func(string, error) {}
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(size)),
		ctx:     ctx,
		observe: observe,
		log:     log.With("module", "worker"),
	}
}

// Submit queues fn under name and returns immediately.
func (p *Pool) Submit(name string, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.wg.Add(1)
	go p.run(name, fn)
	return nil
}

func (p *Pool) run(name string, fn Task) {
	defer p.wg.Done()
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		p.log.Warn(p.ctx, "task dropped", "task", name, "error", err)
		p.observe(name, err)
		return
	}
	defer p.sem.Release(1)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error(p.ctx, "task panic", "task", name, "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("task panic: %v", r)
			}
		}()
		return fn(p.ctx)
	}()
	if err != nil {
		p.log.Warn(p.ctx, "task failed", "task", name, "error", err)
	}
	p.observe(name, err)
}

// Close stops accepting tasks and waits for the submitted ones.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
