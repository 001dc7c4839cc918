package task

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// mpscQueue is an unbounded lock-free multi-producer single-consumer queue.
// Producers append with CAS on the tail, a single consumer goroutine moves the values
// into an unbuffered channel.
//
// Items pushed by one goroutine are received in push order. Items pushed concurrently by
// different goroutines are ordered by which CAS succeeds first.
type mpscQueue[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan T
	closed   atomic.Bool
	consumer sync.WaitGroup

	mu   sync.Mutex
	cond *sync.Cond
}

func newQueue[T any]() *mpscQueue[T] {
	sentinel := &node[T]{}

	q := &mpscQueue[T]{
		out: make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push appends value. It returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *mpscQueue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	n := &node[T]{value: value}

	var backoff uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// may fail if another producer already moved the tail forward
				q.tail.CompareAndSwap(tail, n)
				q.signal()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// exponential backoff under contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// signal wakes the consumer. The lock is taken so the signal cannot fall between the
// consumer's emptiness check and its Wait.
func (q *mpscQueue[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume moves values from the list into the output channel until the queue is closed and drained
func (q *mpscQueue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	var zero T
	for {
		drained := true
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			drained = false

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = zero // let the gc collect the value
		}

		if drained && q.closed.Load() {
			return
		}

		if drained {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel the values are delivered on. It is closed after Close once all
// pushed values were received.
func (q *mpscQueue[T]) Recv() <-chan T {
	return q.out
}

// Close prevents further pushes. Values already pushed are still delivered.
func (q *mpscQueue[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// Len returns the number of queued values. O(n), only meant for debugging and tests.
func (q *mpscQueue[T]) Len() int {
	count := 0
	for current := q.head.Load().next.Load(); current != nil; current = current.next.Load() {
		count++
	}
	return count
}
