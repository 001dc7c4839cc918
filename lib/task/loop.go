package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("task")

// Loop is the caller's thread: the goroutine that calls Run receives every completion.
//
// The loop counts outstanding work. Every submitted task (and every Post) holds one
// reference until its completion was delivered, and Run returns once the count is zero.
type Loop struct {
	completions *mpscQueue[func()]
	refs        atomic.Int64

	onFatal func(*PanicError)

	mu     sync.Mutex
	panics []error
}

// NewLoop creates a loop. onFatal is called on the loop goroutine for every panicking
// completion. If nil, the panic is logged and collected, and Run returns all collected
// panics joined.
func NewLoop(onFatal func(*PanicError)) *Loop {
	l := &Loop{completions: newQueue[func()]()}
	if onFatal == nil {
		onFatal = l.collect
	}
	l.onFatal = onFatal
	return l
}

func (l *Loop) collect(pe *PanicError) {
	log.Errorf("completion panicked: %v\n%s", pe.Value, pe.Stack)
	l.mu.Lock()
	l.panics = append(l.panics, pe)
	l.mu.Unlock()
}

// Post queues fn for execution on the loop goroutine. The loop stays alive until fn ran.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (l *Loop) Post(fn func()) {
	l.refs.Add(1)
	l.completions.Push(fn)
}

// ref keeps the loop alive for a task whose completion is not queued yet
func (l *Loop) ref() {
	l.refs.Add(1)
}

// deliver queues the completion of a task that already holds a reference
func (l *Loop) deliver(fn func()) {
	l.completions.Push(fn)
}

// Outstanding returns the number of completions that have not been delivered yet
func (l *Loop) Outstanding() int64 {
	return l.refs.Load()
}

// Run delivers completions one at a time on the calling goroutine until no work is
// outstanding or ctx is done. A panicking completion is recovered and reported to the
// fatal handler; delivery continues with the next completion.
//
// Run must not be called concurrently.
func (l *Loop) Run(ctx context.Context) error {
	for l.refs.Load() > 0 {
		select {
		case fn, ok := <-l.completions.Recv():
			if !ok {
				return errors.Join(ErrStopped, l.takePanics())
			}
			l.run(fn)
		case <-ctx.Done():
			return errors.Join(ctx.Err(), l.takePanics())
		}
	}
	return l.takePanics()
}

func (l *Loop) run(fn func()) {
	defer l.refs.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			completionPanics.Inc()
			l.onFatal(newPanicError(r))
		}
	}()
	fn()
}

func (l *Loop) takePanics() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := errors.Join(l.panics...)
	l.panics = nil
	return err
}

// Close stops the loop's internal queue. Completions that are still outstanding are dropped.
func (l *Loop) Close() {
	l.completions.Close()
}
