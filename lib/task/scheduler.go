package task

import (
	"context"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Scheduler runs task bodies on a bounded pool of worker goroutines and delivers their
// completions on a Loop.
//
// Bodies start in submission order: submissions go through a FIFO dispatch queue, and a
// single dispatcher acquires a worker slot for each task before starting the next one.
type Scheduler struct {
	loop     *Loop
	sem      *semaphore.Weighted
	dispatch *mpscQueue[*Task]

	// mu orders Submit against Stop so no task is pushed after the dispatch queue closed
	mu         sync.RWMutex
	stopped    bool
	dispatched chan struct{}
	bodies     sync.WaitGroup
}

// NewScheduler creates a scheduler delivering completions on loop. workers <= 0 uses GOMAXPROCS.
func NewScheduler(loop *Loop, workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	s := &Scheduler{
		loop:       loop,
		sem:        semaphore.NewWeighted(int64(workers)),
		dispatch:   newQueue[*Task](),
		dispatched: make(chan struct{}),
	}
	go s.dispatcher()
	return s
}

// Loop returns the loop the scheduler delivers completions on
func (s *Scheduler) Loop() *Loop {
	return s.loop
}

func (s *Scheduler) dispatcher() {
	defer close(s.dispatched)

	for t := range s.dispatch.Recv() {
		// Acquire is FIFO and never fails with a background context
		_ = s.sem.Acquire(context.Background(), 1)
		t.setState(StateRunning)
		s.bodies.Add(1)
		go func(t *Task) {
			defer s.bodies.Done()
			defer s.sem.Release(1)
			t.execute()
		}(t)
	}
}

// Stop rejects further submissions, waits until every queued body has been started and
// every running body has returned. Completions are still delivered by the loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.dispatch.Close()
	s.mu.Unlock()

	<-s.dispatched
	s.bodies.Wait()
}

// Submit runs body on a worker goroutine and then done, with the body's results, on the
// loop goroutine. keeper (may be nil) is retained until done has returned.
//
// A panicking body is recovered and done receives the zero R and a *PanicError.
// If the scheduler is stopped, body is skipped and done receives ErrStopped.
//
// Thread-safety: Submit can be called from any goroutine.
func Submit[R any](s *Scheduler, keeper Keeper, body func() (R, error), done func(R, error)) *Task {
	t := newTask()
	if keeper != nil {
		keeper.Retain()
	}
	s.loop.ref()
	tasksSubmitted.Inc()

	complete := func(result R, err error) {
		s.loop.deliver(func() {
			defer t.setState(StateCompleted)
			defer tasksCompleted.Inc()
			if keeper != nil {
				defer keeper.Release()
			}
			if done != nil {
				done(result, err)
			}
		})
	}

	t.execute = func() {
		start := time.Now()
		result, err := runBody(body)
		bodyDuration.UpdateDuration(start)
		complete(result, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped || !s.dispatch.Push(t) {
		var zero R
		complete(zero, ErrStopped)
	}
	return t
}

// SubmitErr is Submit for bodies that only return an error
func SubmitErr(s *Scheduler, keeper Keeper, body func() error, done func(error)) *Task {
	return Submit(s, keeper, func() (struct{}, error) {
		return struct{}{}, body()
	}, func(_ struct{}, err error) {
		if done != nil {
			done(err)
		}
	})
}

func runBody[R any](body func() (R, error)) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			result, err = zero, newPanicError(r)
			log.Warningf("task body panicked: %v", r)
		}
	}()
	return body()
}
