package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingKeeper struct {
	retained atomic.Int64
	released atomic.Int64
}

func (k *countingKeeper) Retain()  { k.retained.Add(1) }
func (k *countingKeeper) Release() { k.released.Add(1) }

func newTestScheduler(t *testing.T, workers int) (*Loop, *Scheduler) {
	t.Helper()
	loop := NewLoop(nil)
	s := NewScheduler(loop, workers)
	t.Cleanup(func() {
		s.Stop()
		loop.Close()
	})
	return loop, s
}

func run(t *testing.T, loop *Loop) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := loop.Run(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "loop did not drain")
	return err
}

func TestRunWithoutTasks(t *testing.T) {
	loop, _ := newTestScheduler(t, 1)
	assert.NoError(t, run(t, loop))
}

func TestCompletionReceivesBodyResult(t *testing.T) {
	loop, s := newTestScheduler(t, 4)

	bodyErr := errors.New("body failed")
	var gotValue string
	var gotErr error

	Submit(s, nil, func() (string, error) {
		return "partial", bodyErr
	}, func(v string, err error) {
		gotValue, gotErr = v, err
	})

	require.NoError(t, run(t, loop))
	assert.Equal(t, "partial", gotValue)
	assert.Same(t, bodyErr, gotErr)
}

func TestBodiesStartInSubmissionOrder(t *testing.T) {
	loop, s := newTestScheduler(t, 1)

	var mu sync.Mutex
	var started []int
	var completed []int

	for i := 0; i < 50; i++ {
		i := i
		Submit(s, nil, func() (int, error) {
			mu.Lock()
			started = append(started, i)
			mu.Unlock()
			return i, nil
		}, func(v int, _ error) {
			// completions run on the loop goroutine only, no lock needed
			completed = append(completed, v)
		})
	}

	require.NoError(t, run(t, loop))
	require.Len(t, started, 50)
	for i, v := range started {
		assert.Equal(t, i, v)
	}
	assert.Len(t, completed, 50)
}

func TestWorkerLimit(t *testing.T) {
	loop, s := newTestScheduler(t, 2)

	var running, maxRunning atomic.Int64
	for i := 0; i < 20; i++ {
		SubmitErr(s, nil, func() error {
			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
			return nil
		}, nil)
	}

	require.NoError(t, run(t, loop))
	assert.LessOrEqual(t, maxRunning.Load(), int64(2))
}

func TestKeeperRetainedUntilCompletion(t *testing.T) {
	loop, s := newTestScheduler(t, 4)
	keeper := &countingKeeper{}

	const n = 10
	for i := 0; i < n; i++ {
		SubmitErr(s, keeper, func() error { return nil }, func(error) {
			// the releasing of this task happens after this completion returns
			assert.Less(t, keeper.released.Load(), keeper.retained.Load())
		})
	}
	assert.Equal(t, int64(n), keeper.retained.Load())

	require.NoError(t, run(t, loop))
	assert.Equal(t, int64(n), keeper.released.Load())
}

func TestBodyPanic(t *testing.T) {
	loop, s := newTestScheduler(t, 1)

	var gotErr error
	Submit(s, nil, func() (int, error) {
		panic("boom")
	}, func(v int, err error) {
		assert.Zero(t, v)
		gotErr = err
	})

	require.NoError(t, run(t, loop))

	var pe *PanicError
	require.ErrorAs(t, gotErr, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestCompletionPanicDoesNotStopLoop(t *testing.T) {
	loop, s := newTestScheduler(t, 1)
	keeper := &countingKeeper{}

	delivered := 0
	SubmitErr(s, keeper, func() error { return nil }, func(error) {
		panic("completion failed")
	})
	SubmitErr(s, keeper, func() error { return nil }, func(error) {
		delivered++
	})

	err := run(t, loop)

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "completion failed", pe.Value)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, int64(2), keeper.released.Load(), "a panicking completion still releases its keeper")
}

func TestCustomFatalHandler(t *testing.T) {
	var reported []*PanicError
	loop := NewLoop(func(pe *PanicError) {
		reported = append(reported, pe)
	})
	s := NewScheduler(loop, 1)
	defer loop.Close()
	defer s.Stop()

	SubmitErr(s, nil, func() error { return nil }, func(error) {
		panic(errors.New("wrapped"))
	})

	require.NoError(t, run(t, loop))
	require.Len(t, reported, 1)
	assert.EqualError(t, reported[0].Unwrap(), "wrapped")
}

func TestSubmitAfterStop(t *testing.T) {
	loop, s := newTestScheduler(t, 1)
	s.Stop()

	called := false
	var gotErr error
	SubmitErr(s, nil, func() error {
		called = true
		return nil
	}, func(err error) {
		gotErr = err
	})

	require.NoError(t, run(t, loop))
	assert.False(t, called)
	assert.ErrorIs(t, gotErr, ErrStopped)
}

func TestTaskStates(t *testing.T) {
	loop, s := newTestScheduler(t, 1)

	release := make(chan struct{})
	var tk *Task
	tk = SubmitErr(s, nil, func() error {
		<-release
		return nil
	}, func(error) {
		assert.Equal(t, StateRunning, tk.State())
	})

	require.Eventually(t, func() bool { return tk.State() == StateRunning }, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, run(t, loop))
	assert.Equal(t, StateCompleted, tk.State())
	assert.Equal(t, "completed", tk.State().String())
	assert.NotZero(t, tk.ID())
}

func TestRunHonoursContext(t *testing.T) {
	loop, s := newTestScheduler(t, 1)

	release := make(chan struct{})
	SubmitErr(s, nil, func() error {
		<-release
		return nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, loop.Run(ctx), context.DeadlineExceeded)
	assert.Equal(t, int64(1), loop.Outstanding())

	// the task is still outstanding and a second Run delivers it
	close(release)
	require.NoError(t, run(t, loop))
	assert.Zero(t, loop.Outstanding())
}

func TestPost(t *testing.T) {
	loop, _ := newTestScheduler(t, 1)

	ran := false
	loop.Post(func() { ran = true })

	require.NoError(t, run(t, loop))
	assert.True(t, ran)
}

func TestMetrics(t *testing.T) {
	loop, s := newTestScheduler(t, 1)

	submitted := tasksSubmitted.Get()
	completed := tasksCompleted.Get()

	for i := 0; i < 3; i++ {
		SubmitErr(s, nil, func() error { return nil }, nil)
	}
	require.NoError(t, run(t, loop))

	assert.Equal(t, submitted+3, tasksSubmitted.Get())
	assert.Equal(t, completed+3, tasksCompleted.Get())
}
