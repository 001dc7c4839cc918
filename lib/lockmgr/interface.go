package lockmgr

import "time"

// KeyPrefix is prepended to every lock name to build the key of its lock record.
const KeyPrefix = "lock:"

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock acquires the lock with the given name. A timeout > 0 makes the lock
	// expire after that duration, so another owner can take it over.
	// Return a boolean indicating whether the lock was acquired, the owner ID, and an error if any.
	AcquireLock(name string, timeout time.Duration) (ok bool, ownerID string, err error)

	// ReleaseLock releases the lock with the given name if ownerID holds it.
	// Return a boolean indicating whether the lock was released, and an error if any.
	// The method will also return true if the lock did not exist.
	ReleaseLock(name string, ownerID string) (ok bool, err error)

	// Held returns the locks acquired through this manager that were not released yet,
	// mapped to their owner IDs.
	Held() map[string]string

	// ReleaseAll releases every lock returned by Held.
	ReleaseAll() error
}
