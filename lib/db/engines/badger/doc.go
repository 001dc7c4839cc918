// Package badger implements db.Engine on top of github.com/dgraph-io/badger/v4.
//
// Paths are interpreted like Kyoto Cabinet's hash databases: "-" opens an in-memory
// instance, every other path (conventionally ending in ".kch" or ".kcd") is a badger
// directory. OReader opens the directory read-only, OAutoSync enables synchronous
// writes, ONoLock bypasses badger's directory lock and OTruncate drops all records.
//
// Transactions map onto a single badger read-write transaction. While it is running
// every operation of the engine participates in it, so visitor passes see the effects
// of the main operation of an indexed write. Outside a transaction, reads use
// read-only badger transactions and writes are serialized and committed one by one.
//
// Cursors are built with db.NewSeekCursor; every Seek opens a short-lived iterator.
package badger
