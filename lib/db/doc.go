// Package db defines the contract of an embedded ordered key-value engine.
//
// The package focuses on:
//   - A unified Engine interface for point, bulk and transactional operations
//   - Ordered iteration through a Cursor
//   - Conditional bulk mutation through a Visitor
//   - Feature discovery through capability flags
//
// Key Components:
//
//   - Engine Interface: the core interface every engine implements. It provides
//     lifecycle methods (Open, Close, Synchronize), record operations (Get, Set, Add,
//     Replace, Remove, GetBulk), transactions (BeginTransaction, EndTransaction),
//     the visitor pass (AcceptBulk), iteration (Cursor) and metadata (Info).
//
//   - Status: every engine failure is a Status (optionally wrapped in a StatusError with
//     a detail message), so callers recover the code with StatusOf or errors.As and map
//     it to their own error taxonomy.
//
//   - Mode: the open flags (OReader, OWriter, OCreate, OTruncate, OAutoTran, OAutoSync,
//     ONoLock, OTryLock, ONoRepair). They are passed to the engine unchanged, an engine
//     ignores flags that have no meaning for it.
//
//   - Visitor and Action: AcceptBulk calls the visitor once per key with the current
//     record (or found=false) and applies the returned Action: Nop, ReplaceWith or Remove.
//
//   - Cursor: a position in the key order with Jump/JumpTo, JumpBack/JumpBackTo,
//     Step/StepBack and Get. Running past either end reports StatusNoRec.
//     NewSeekCursor builds a cursor on any engine that can Seek.
//
// Note on Transactions:
//   - Transactions are exclusive per engine: a second BeginTransaction blocks until the
//     running transaction ended.
//   - While a transaction runs, every operation of the engine observes its uncommitted
//     state. Callers that need isolation from unrelated writers must serialize them
//     around the transaction themselves.
//
// Implementations live in the engines subpackages (btree, badger, poly). The shared
// conformance suite lives in the testing subpackage.
package db
