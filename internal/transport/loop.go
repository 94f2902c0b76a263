package transport

import (
	"context"
	"errors"
	"sync"
)

var ErrLoopClosed = errors.New("transport: event loop closed")

// Loop runs posted tasks one at a time on the goroutine that calls Run.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func NewLoop(queue int) *Loop {
	if queue <= 0 {
		queue = 64
	}
	return &Loop{
		tasks: make(chan func(), queue),
		done:  make(chan struct{}),
	}
}

// Post queues fn. It returns false once the loop is closed. A task for
// which Post returned true always runs, on Run or on Close.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending.Add(1)
	l.mu.Unlock()
	defer l.pending.Done()

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes tasks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Close stops accepting tasks and runs whatever is still queued on the
// calling goroutine, including tasks from Posts racing with Close.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	l.mu.Unlock()

	settled := make(chan struct{})
	go func() {
		l.pending.Wait()
		close(settled)
	}()
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-settled:
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		default:
			return
		}
	}
}
