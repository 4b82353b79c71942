// Package dispatch runs submitted work on a fixed set of goroutines, off the
// caller's request path.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/suPer8Hu/chat-agents/internal/logger"
)

var ErrClosed = errors.New("dispatch: pool closed")

// Task is one unit of work. ctx is the pool's context, not the submitter's.
type Task func(ctx context.Context)

// PanicHandler receives whatever a task panicked with.
type PanicHandler func(recovered any, stack []byte)

// Pool is a bounded worker pool. A panicking task is recovered, reported to
// the panic handler, and the worker keeps going.
type Pool struct {
	ctx     context.Context
	tasks   chan Task
	onPanic PanicHandler
	log     *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(ctx context.Context, workers, queue int, onPanic PanicHandler, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{
		ctx:     ctx,
		tasks:   make(chan Task, queue),
		onPanic: onPanic,
		log:     logger.OrNop(log).With("component", "dispatch.Pool"),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work(i)
	}
	return p
}

// Submit queues t, blocking while the queue is full. It fails when ctx ends
// first or the pool is closed.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for queued tasks to finish.
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

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		p.run(id, t)
	}
}

func (p *Pool) run(id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			p.log.Error("task panic", "worker", id, "panic", r)
			if p.onPanic != nil {
				p.onPanic(r, stack)
			}
		}
	}()
	t(p.ctx)
}
