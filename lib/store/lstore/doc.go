// Package lstore implements the asynchronous store handle: one engine connection whose
// operations run as tasks of a task.Scheduler.
//
// Every operation of a Handle (and of its Cursors) returns immediately. The body runs on a
// worker goroutine, the completion runs on the scheduler's loop and receives the body's
// result together with a *store.Error (or nil). Bodies of one handle start in submission
// order, completions can arrive in any order.
//
// Key Features:
//   - Point and bulk record operations (Get, Set, Add, Replace, Remove, GetBulk)
//   - Indexed writes that keep secondary index records consistent with a primary record
//     (AddIndexed, ReplaceIndexed, RemoveIndexed, see package index)
//   - Cursors with jump and step in both directions, plus Each and Scan helpers
//   - Named locks stored in the engine (see package lockmgr)
//
// Implementation Details:
//
//   - Keep-alive: every task retains the handle from its submission until its completion
//     was delivered. Close waits for all retained tasks before it closes the engine, so
//     work submitted before Close still runs. The wait does not occupy a worker, the last
//     released task submits the shutdown.
//
//   - Write Gate: plain writes share a read lock, indexed writes that need a transaction
//     take it exclusively. An engine transaction therefore never picks up an unrelated
//     write that ran concurrently on another worker. Reads are not gated.
//
//   - Lifecycle: a handle is closed, open or closing. Operations on a handle that is not
//     open complete with store.KindInvalidArgument ("database is closed") without running
//     a task. Opening an open handle is a no-op.
//
// Usage Example:
//
//	loop := task.NewLoop(nil)
//	sched := task.NewScheduler(loop, 4)
//	defer sched.Stop()
//
//	h := lstore.Open(sched, func() db.Engine { return poly.NewPolyDB() }, "users.kct",
//	    db.OWriter|db.OCreate, nil)
//
//	h.AddIndexed([]byte("user:2"), []byte("bob"), index.Map{"email:bob@x.com": []byte("user:2")},
//	    func(err error) {
//	        var e *store.Error
//	        if errors.As(err, &e) && e.Kind == store.KindIndexConflict {
//	            fmt.Println("taken:", e.Conflicts)
//	        }
//	        h.Close(nil)
//	    })
//
//	if err := loop.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package lstore
