package client

import "sync"

// unboundedQueue decouples a single producer from a slow consumer. Items
// leave out in push order. Closing the input drains the buffer first; stop
// discards it.
type unboundedQueue[T any] struct {
	in   chan T
	out  chan T
	done chan struct{}

	stopOnce    sync.Once
	closeInOnce sync.Once
}

func newUnboundedQueue[T any]() *unboundedQueue[T] {
	q := &unboundedQueue[T]{
		in:   make(chan T),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *unboundedQueue[T]) run() {
	defer close(q.out)
	var buf []T
	in := q.in
	for {
		if in == nil && len(buf) == 0 {
			return
		}
		var (
			out  chan T
			head T
		)
		if len(buf) > 0 {
			out = q.out
			head = buf[0]
		}
		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, v)
		case out <- head:
			var zero T
			buf[0] = zero
			buf = buf[1:]
		case <-q.done:
			return
		}
	}
}

// push reports false once the queue is stopped. Only the producer calls it.
func (q *unboundedQueue[T]) push(v T) bool {
	select {
	case q.in <- v:
		return true
	case <-q.done:
		return false
	}
}

func (q *unboundedQueue[T]) closeInput() {
	q.closeInOnce.Do(func() { close(q.in) })
}

func (q *unboundedQueue[T]) stop() {
	q.stopOnce.Do(func() { close(q.done) })
}

func (q *unboundedQueue[T]) output() <-chan T {
	return q.out
}
