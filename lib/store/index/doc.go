// Package index implements the secondary index protocol used by the store handles.
//
// An index entry is a record whose key is derived from an attribute of a primary record and
// whose value identifies the primary record (usually its key). Indexed writes keep index
// entries and primary records consistent:
//
//   - Fast path: with nothing to index and nothing to remove, the main operation (add,
//     replace or remove) runs directly on the engine.
//
//   - Transactional path: otherwise the main operation, an insert pass over the index map
//     and a removal pass over the removal set run inside one engine transaction. The passes
//     use the engine's visitor primitive (AcceptBulk):
//
//     insert pass:  absent -> insert, same value -> keep, different value -> conflict
//     removal pass: points at the primary key -> delete, absent -> keep, else -> conflict
//
//     Any conflict rolls the whole transaction back, including the main operation, and the
//     caller receives a store.Error of kind IndexConflict with the ConflictMap.
//
// Conflicts are never resolved by overwriting: an index entry that points at a different
// record belongs to that record.
//
// All functions are synchronous and expect to run on a worker goroutine. The caller must make
// sure no non-transactional write runs on the engine while an indexed write is in progress
// (lstore does this with its write gate).
package index
