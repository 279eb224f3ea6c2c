// Package poll runs a function on a fixed period until stopped.
package poll

import (
	"context"
	"sync"
	"time"
)

// Task is one periodic job. Ticks never overlap: a slow fn delays the next
// tick instead of running concurrently with it.
type Task struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start runs fn every interval until the task is stopped or parent is done.
// fn receives a context that is cancelled when the task stops, so results of
// an in-flight call can be discarded by checking ctx.Err().
func Start(parent context.Context, interval time.Duration, fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.run(interval, fn)
	return t
}

func (t *Task) run(interval time.Duration, fn func(ctx context.Context)) {
	defer close(t.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if t.ctx.Err() != nil {
				return
			}
			fn(t.ctx)
		}
	}
}

// Stop cancels the task without waiting. It is safe to call more than once
// and from inside fn.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.once.Do(t.cancel)
}

// Wait blocks until the task goroutine has exited. It must not be called
// from inside fn.
func (t *Task) Wait() {
	if t == nil {
		return
	}
	<-t.done
}

// Done is closed once the task goroutine has exited
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Stopped reports whether Stop was called or the parent context ended
func (t *Task) Stopped() bool {
	return t == nil || t.ctx.Err() != nil
}
