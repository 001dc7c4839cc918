// Package store provides the shared vocabulary of the store handles: the error taxonomy
// delivered to every completion and the translation of engine failures into it.
//
// Key Components:
//
//   - Error System: A structured error reporting mechanism. Every failure delivered to a
//     completion is an *Error with a Kind (NotFound, DuplicateKey, IndexConflict, ...) and
//     a message. IndexConflict errors additionally carry the ConflictMap of the failed
//     indexing pass. Errors support errors.Is against the sentinels (ErrNotFound, ...),
//     which match on the kind only.
//
//   - Translate: Maps engine status codes (db.Status), recovered panics (*task.PanicError)
//     and scheduler failures (task.ErrStopped) onto the kinds. An *Error passes through.
//
//   - ParseMode: Converts the classic mode strings ("r", "r+", "w+", "a+") into engine
//     open flags.
//
//   - DBFactory: A function type that abstracts the creation of the underlying db.Engine,
//     providing dependency injection of the storage backend.
//
// Implementations:
//
//	- Local Store (lstore): The asynchronous handle over a single embedded engine,
//	  including indexed writes, cursors and record-backed locks.
//	  Available in the "github.com/ValentinKolb/ikv/lib/store/lstore" package.
//
//	- Index (index): The synchronous secondary index protocol used by lstore.
//	  Available in the "github.com/ValentinKolb/ikv/lib/store/index" package.
package store
