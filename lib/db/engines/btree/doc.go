// Package btree implements an ordered key-value engine (db.Engine) on top of an
// in-memory b-tree (github.com/google/btree).
//
// The engine is opened with a path in the style of Kyoto Cabinet's tree databases:
//
//   - "+" opens a memory-only tree. Nothing is persisted.
//   - Any other path (conventionally ending in ".kct") is used as a snapshot file. The tree
//     is loaded from the file on Open and written back on Synchronize and Close (and after
//     every update if OAutoSync is set). Snapshots are zstd compressed.
//
// Key Components:
//
//   - treeImpl: The engine. A single RWMutex guards the tree. Record operations, visitor
//     passes (AcceptBulk) and bulk reads each run under the lock and are therefore atomic.
//
//   - Transactions: BeginTransaction acquires a one-slot semaphore, so transactions are
//     exclusive and a second BeginTransaction blocks until the running one has ended.
//     While a transaction is running, the previous state of every key touched for the
//     first time is kept in an undo log. Rollback replays the undo log.
//
//   - Repository locking: file-backed trees are locked with flock(2). Writers take an
//     exclusive lock, readers a shared one. ONoLock skips locking and OTryLock fails
//     instead of blocking.
//
//   - Cursors: cursors are built with db.NewSeekCursor on the engine's Seek method and
//     remember only the key of their current record.
package btree
