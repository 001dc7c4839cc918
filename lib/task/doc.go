// Package task runs blocking work off the caller's goroutine and hands the results back to it.
//
// The model has two halves:
//
//   - Loop: the caller's thread. Whoever calls Loop.Run receives every completion, one at a
//     time, so completion callbacks never run concurrently with each other. Run returns once
//     no submitted task is outstanding, which makes the loop the process keep-alive: as long
//     as a task is in flight, Run keeps going.
//
//   - Scheduler: a bounded pool of worker goroutines (golang.org/x/sync/semaphore). Task bodies
//     run on the workers and start in submission order. When a body returns, its results are
//     queued on the loop (through a lock-free MPSC queue) and delivered to the completion
//     verbatim.
//
// Failure handling:
//
//   - A panicking body is recovered; the completion receives a *PanicError.
//   - A panicking completion is recovered, wrapped in a *PanicError and reported to the loop's
//     fatal handler. By default it is logged and collected, and Run returns the collected
//     panics. The loop continues with the next completion.
//
// Liveness: Submit retains the task's Keeper before the task is queued and releases it after
// the completion ran (even if it panicked).
//
// Example:
//
//	loop := task.NewLoop(nil)
//	sched := task.NewScheduler(loop, 4)
//	defer sched.Stop()
//
//	task.Submit(sched, nil, func() ([]byte, error) {
//		return engine.Get(key)
//	}, func(value []byte, err error) {
//		fmt.Println(string(value), err)
//	})
//
//	if err := loop.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package task
