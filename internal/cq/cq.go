// Package cq implements a simple concurrent queue.
//
// Producers running on their own goroutines push values one at a time
// and a single consumer receives everything queued so far as a batch,
// preserving the order in which each producer pushed.
package cq

import "sync"

type Queue[T any] struct {
	done  chan struct{}
	close sync.Once

	add chan T
	get chan []T
}

func New[T any]() *Queue[T] {
	q := Queue[T]{
		done: make(chan struct{}),
		add:  make(chan T),
		get:  make(chan []T),
	}
	go q.run()

	return &q
}

// Stop stops the queue. Pending values are discarded and subsequent
// calls to Push return false.
func (q *Queue[T]) Stop() {
	q.close.Do(func() {
		close(q.done)
	})
}

// Done is closed when the queue is stopped.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Push adds v to the queue, blocking only until the queue's internal
// goroutine accepts it. It returns false if the queue has been
// stopped.
func (q *Queue[T]) Push(v T) bool {
	select {
	case <-q.done:
		return false
	case q.add <- v:
		return true
	}
}

// Get returns a channel that yields every value queued since the
// previous receive.
func (q *Queue[T]) Get() <-chan []T {
	return q.get
}

// TryGet returns the values queued so far without blocking.
func (q *Queue[T]) TryGet() []T {
	select {
	case s := <-q.get:
		return s
	default:
		return nil
	}
}

func (q *Queue[T]) run() {
	var s []T
	var get chan []T

	for {
		select {
		case <-q.done:
			return

		case v := <-q.add:
			s = append(s, v)
			get = q.get

		case get <- s:
			s = nil
			get = nil
		}
	}
}
