// Package timerq gives each connection a single-writer queue for timer
// callbacks: a timer fire posts a unit of work onto the queue instead of
// running the policy hook on the timer goroutine directly, so policy
// code for one connection never races with itself and the fast path
// (write/receive) never blocks on a callback.
package timerq

import (
	"sync"
	"time"
)

// Queue is a per-connection single-writer worker that runs posted
// callbacks strictly one at a time, in post order.
type Queue struct {
	ch   chan func()
	done chan struct{}
	wg   sync.WaitGroup
}

// New starts a Queue's worker goroutine.
func New() *Queue {
	q := &Queue{
		ch:   make(chan func(), 32),
		done: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case fn := <-q.ch:
			fn()
		case <-q.done:
			return
		}
	}
}

// Post enqueues fn to run on the worker goroutine. Post is a no-op once
// Close has been called.
func (q *Queue) Post(fn func()) {
	select {
	case q.ch <- fn:
	case <-q.done:
	}
}

// Close stops the worker after any in-flight callback returns. Close does
// not drain callbacks still queued behind the in-flight one.
func (q *Queue) Close() {
	close(q.done)
	q.wg.Wait()
}

// Timer is a restartable, cancellable timer whose callback always runs on
// its owning Queue. Stopping a Timer whose callback is currently queued or
// running blocks until that callback has returned.
type Timer struct {
	queue *Queue
	fn    func()

	mu     sync.Mutex
	timer  *time.Timer
	active bool
	inHook sync.WaitGroup
}

// NewTimer creates a Timer bound to queue; fn runs on queue's worker
// goroutine each time the timer fires while active.
func NewTimer(queue *Queue, fn func()) *Timer {
	return &Timer{queue: queue, fn: fn}
}

// Restart (re)arms the timer to fire after d, cancelling any pending fire.
func (t *Timer) Restart(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.active = true
	t.timer = time.AfterFunc(d, t.onFire)
}

func (t *Timer) onFire() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	// raised before the lock drops so Stop can never observe active ==
	// false without also seeing this fire on the counter it waits on.
	t.inHook.Add(1)
	t.mu.Unlock()

	t.queue.Post(func() {
		defer t.inHook.Done()
		t.fn()
	})
}

// Stop disarms the timer and waits for any callback already queued or
// running to finish before returning.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.active = false
	t.mu.Unlock()
	t.inHook.Wait()
}
