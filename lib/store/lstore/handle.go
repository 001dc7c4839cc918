package lstore

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/ValentinKolb/ikv/lib/lockmgr"
	"github.com/ValentinKolb/ikv/lib/store"
	"github.com/ValentinKolb/ikv/lib/task"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("store")

type handleState uint8

const (
	stateClosed  handleState = iota // no engine connection
	stateOpen                       // open (or an open is in flight)
	stateClosing                    // Close or CloseSync was called, new operations fail
)

// Handle owns one engine connection and exposes its operations as tasks.
//
// Every operation returns immediately. Its body runs on a worker of the scheduler and
// its completion is delivered on the scheduler's loop with an error of type *store.Error
// (or nil). Operations on a handle that is not open fail with store.KindInvalidArgument.
//
// Thread-safety: all methods can be called from any goroutine, completions always run
// on the loop goroutine.
type Handle struct {
	sched  *task.Scheduler
	engine db.Engine
	locks  lockmgr.ILockManager

	// mu guards the lifecycle fields below
	mu      sync.Mutex
	state   handleState
	path    string
	ready   chan struct{} // closed once the engine open finished
	live    int           // tasks retained on the handle
	held    bool          // the engine is open
	closing func(error)   // pending async Close, runs once live drops to zero

	// gate keeps transactional writes exclusive against plain writes
	gate   sync.RWMutex
	bodies sync.WaitGroup // bodies admitted while the handle was open

	cursors    *xsync.MapOf[uint64, *Cursor]
	nextCursor atomic.Uint64

	keepLocks atomic.Bool
}

// New creates a closed handle around the engine built by factory.
func New(sched *task.Scheduler, factory store.DBFactory) *Handle {
	engine := factory()
	h := &Handle{
		sched:   sched,
		engine:  engine,
		locks:   lockmgr.NewLockManager(engine),
		cursors: xsync.NewMapOf[uint64, *Cursor](),
	}
	return h
}

// Open creates a handle and opens it, see Handle.Open.
func Open(sched *task.Scheduler, factory store.DBFactory, path string, mode db.Mode, done func(error)) *Handle {
	h := New(sched, factory)
	h.Open(path, mode, done)
	return h
}

// errClosed is returned for operations on a handle that is not open
func errClosed() *store.Error {
	return store.NewError(store.KindInvalidArgument, "database is closed")
}

// --------------------------------------------------------------------------
// Keep-alive
// --------------------------------------------------------------------------

// admission is the task.Keeper of the tasks of a handle. The handle is retained when a
// task is admitted (see admit), so Retain has nothing left to do. A pending Close starts
// the shutdown once the last task released the handle.
type admission Handle

func (a *admission) Retain() {}

func (a *admission) Release() {
	a.mu.Lock()
	a.live--
	var done func(error)
	if a.live == 0 && a.closing != nil {
		done, a.closing = a.closing, nil
	}
	a.mu.Unlock()

	if done != nil {
		(*Handle)(a).startShutdown(done)
	}
}

// --------------------------------------------------------------------------
// Task plumbing
// --------------------------------------------------------------------------

// admit retains the handle for a task about to be submitted and returns the ready channel
// of the current open. It returns false if the handle is not open. Admitted bodies always
// run, even if the handle starts closing before they get a worker.
func (h *Handle) admit() (chan struct{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateOpen {
		return nil, false
	}
	h.live++
	h.bodies.Add(1)
	return h.ready, true
}

// opened reports whether the engine open succeeded
func (h *Handle) opened() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.held
}

// submit runs body against the engine as a task retained on the handle and hands the
// translated result to done. If the handle is not open, done is posted with errClosed
// without submitting a task.
func submit[R any](h *Handle, op string, body func(engine db.Engine) (R, error), done func(R, error)) {
	metrics.GetOrCreateCounter(`ikv_store_operations_total{op="` + op + `"}`).Inc()

	ready, ok := h.admit()
	if !ok {
		h.sched.Loop().Post(func() {
			if done != nil {
				var zero R
				done(zero, errClosed())
			}
		})
		return
	}

	// the body does not run on a stopped scheduler
	var leave sync.Once
	task.Submit(h.sched, (*admission)(h), func() (R, error) {
		defer leave.Do(h.bodies.Done)
		<-ready
		if !h.opened() {
			var zero R
			return zero, errClosed()
		}
		return body(h.engine)
	}, func(result R, err error) {
		leave.Do(h.bodies.Done)
		if done != nil {
			done(result, store.AsError(err))
		}
	})
}

// submitErr is submit for operations without a result
func submitErr(h *Handle, op string, body func(engine db.Engine) error, done func(error)) {
	submit(h, op, func(engine db.Engine) (struct{}, error) {
		return struct{}{}, body(engine)
	}, func(_ struct{}, err error) {
		if done != nil {
			done(err)
		}
	})
}

// write runs fn under the shared write gate
func (h *Handle) write(fn func() error) error {
	h.gate.RLock()
	defer h.gate.RUnlock()
	return fn()
}

// writeExclusive runs fn under the exclusive write gate
func (h *Handle) writeExclusive(fn func() error) error {
	h.gate.Lock()
	defer h.gate.Unlock()
	return fn()
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Open opens the engine at path. The mode flags are passed to the engine unchanged.
// Opening a handle that is already open succeeds without touching the engine.
//
// Operations submitted after Open wait for the engine open to finish. If it fails they
// fail with "database is closed".
func (h *Handle) Open(path string, mode db.Mode, done func(error)) {
	h.mu.Lock()
	switch h.state {
	case stateOpen:
		h.mu.Unlock()
		log.Debugf("handle for %s is already open", path)
		h.sched.Loop().Post(func() {
			if done != nil {
				done(nil)
			}
		})
		return
	case stateClosing:
		h.mu.Unlock()
		h.sched.Loop().Post(func() {
			if done != nil {
				done(errClosed())
			}
		})
		return
	}

	ready := make(chan struct{})
	h.state, h.path, h.ready = stateOpen, path, ready
	h.live++
	h.mu.Unlock()

	task.SubmitErr(h.sched, (*admission)(h), func() error {
		defer close(ready)
		err := h.engine.Open(path, mode)
		h.mu.Lock()
		defer h.mu.Unlock()
		if err != nil {
			log.Warningf("failed to open %s: %v", path, err)
			if h.state == stateOpen {
				h.state = stateClosed
			}
			return err
		}
		h.held = true
		return nil
	}, func(err error) {
		if done != nil {
			done(store.AsError(err))
		}
	})
}

// beginClose moves an open handle to closing and returns the ready channel of its open.
// onIdle (may be nil) is stored as the pending async Close.
func (h *Handle) beginClose(onIdle func(error)) (ready chan struct{}, idle bool, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != stateOpen {
		return nil, false, false
	}
	h.state = stateClosing
	if onIdle != nil && h.live > 0 {
		h.closing = onIdle
		return h.ready, false, true
	}
	return h.ready, h.live == 0, true
}

// Close closes the handle. New operations fail immediately, operations submitted before
// still run. The engine is closed once every task retained on the handle has had its
// completion delivered, so Close must be followed by running the loop.
func (h *Handle) Close(done func(error)) {
	finish := func(err error) {
		if done != nil {
			done(store.AsError(err))
		}
	}

	_, idle, ok := h.beginClose(finish)
	if !ok {
		h.sched.Loop().Post(func() { finish(errClosed()) })
		return
	}
	if idle {
		h.startShutdown(finish)
	}
}

// startShutdown closes the engine in a task. It is not retained on the handle.
func (h *Handle) startShutdown(done func(error)) {
	task.SubmitErr(h.sched, nil, func() error {
		h.bodies.Wait()
		return h.shutdown()
	}, done)
}

// CloseSync closes the handle on the calling goroutine. It waits for the bodies admitted
// before the call, not for their completions.
func (h *Handle) CloseSync() error {
	ready, _, ok := h.beginClose(nil)
	if !ok {
		return errClosed()
	}
	<-ready
	h.bodies.Wait()
	return store.AsError(h.shutdown())
}

// shutdown invalidates all cursors, releases the locks acquired through the handle and
// closes the engine.
func (h *Handle) shutdown() error {
	h.cursors.Range(func(_ uint64, c *Cursor) bool {
		c.invalidate()
		return true
	})

	h.mu.Lock()
	held := h.held
	h.mu.Unlock()

	var errs []error
	if held && !h.keepLocks.Load() && len(h.locks.Held()) > 0 {
		if err := h.locks.ReleaseAll(); err != nil {
			log.Warningf("failed to release locks of %s: %v", h.path, err)
			errs = append(errs, err)
		}
	}
	if held {
		errs = append(errs, h.engine.Close())
	}

	h.mu.Lock()
	h.state, h.ready, h.held = stateClosed, nil, false
	h.mu.Unlock()

	return errors.Join(errs...)
}

// Path returns the path of the last Open
func (h *Handle) Path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.path
}

// KeepLocksOnClose makes closing the handle leave the locks acquired through it in place.
// They stay held until released or expired.
func (h *Handle) KeepLocksOnClose(keep bool) {
	h.keepLocks.Store(keep)
}

// IsOpen reports whether the handle accepts operations
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateOpen
}

// --------------------------------------------------------------------------
// Record Operations
// --------------------------------------------------------------------------

// Get delivers a copy of the value of key. A missing key is store.KindNotFound.
func (h *Handle) Get(key []byte, done func(value []byte, err error)) {
	submit(h, "get", func(engine db.Engine) ([]byte, error) {
		return engine.Get(key)
	}, done)
}

// Set inserts or overwrites the record of key.
func (h *Handle) Set(key, value []byte, done func(error)) {
	submitErr(h, "set", func(engine db.Engine) error {
		return h.write(func() error { return engine.Set(key, value) })
	}, done)
}

// Add inserts the record of key. An existing record is store.KindDuplicateKey.
func (h *Handle) Add(key, value []byte, done func(error)) {
	submitErr(h, "add", func(engine db.Engine) error {
		return h.write(func() error { return engine.Add(key, value) })
	}, done)
}

// Replace overwrites the record of key. A missing record is store.KindNotFound.
func (h *Handle) Replace(key, value []byte, done func(error)) {
	submitErr(h, "replace", func(engine db.Engine) error {
		return h.write(func() error { return engine.Replace(key, value) })
	}, done)
}

// Remove deletes the record of key. A missing record is store.KindNotFound.
func (h *Handle) Remove(key []byte, done func(error)) {
	submitErr(h, "remove", func(engine db.Engine) error {
		return h.write(func() error { return engine.Remove(key) })
	}, done)
}

// GetBulk delivers the records found for keys. Missing keys are absent from the result.
func (h *Handle) GetBulk(keys [][]byte, atomic bool, done func(records map[string][]byte, err error)) {
	submit(h, "get_bulk", func(engine db.Engine) (map[string][]byte, error) {
		return engine.GetBulk(keys, atomic)
	}, done)
}

// Synchronize flushes the engine to durable storage.
func (h *Handle) Synchronize(hard bool, done func(error)) {
	submitErr(h, "synchronize", func(engine db.Engine) error {
		return h.write(func() error { return engine.Synchronize(hard) })
	}, done)
}

// Info delivers information about the engine.
func (h *Handle) Info(done func(info db.DatabaseInfo, err error)) {
	submit(h, "info", func(engine db.Engine) (db.DatabaseInfo, error) {
		return engine.Info(), nil
	}, done)
}
