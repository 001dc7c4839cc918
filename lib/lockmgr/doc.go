// Package lockmgr implements named locks stored as records of a db.Engine. It provides
// a simple way to coordinate access to shared resources between processes that open
// the same repository.
//
// The lock state lives in the engine only. The manager additionally remembers the locks
// it acquired itself (Held), so a handle can release them when it is closed.
//
// Implementation Approach:
//
//	Locks are implemented on top of the engine's atomic visitor pass (AcceptBulk).
//	The record of the lock "name" is stored under KeyPrefix+"name" and holds
//	"<owner>|<expiry>", where owner is a random UUID and expiry is a unix timestamp
//	in nanoseconds (0 never expires).
//
//	- Lock Acquisition: the visitor inserts a new record if none exists or if the
//	  existing one has expired. A record that is still valid is left untouched and
//	  the acquisition fails without an error.
//
//	- Safe Release: the visitor removes the record only if its owner matches.
//	  Releasing a lock that does not exist succeeds.
//
//	- Timeouts: an expired lock is not removed by the engine. It stays in place until
//	  the next AcquireLock takes it over, which prevents deadlocks if a client crashes.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(engine)
//
//	acquired, owner, err := locks.AcquireLock("resource:123", 30*time.Second)
//	if err != nil {
//	    // Handle error
//	}
//
//	if acquired {
//	    // Use the resource
//	    released, err := locks.ReleaseLock("resource:123", owner)
//	}
//
// Performance Impact:
//
//	AcquireLock and ReleaseLock are one atomic AcceptBulk over a single key each.
package lockmgr
