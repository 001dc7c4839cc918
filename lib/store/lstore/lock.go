package lstore

import (
	"time"

	"github.com/ValentinKolb/ikv/lib/db"
)

type lockResult struct {
	acquired bool
	owner    string
}

// AcquireLock tries to acquire the named lock. A timeout > 0 lets the lock expire.
// acquired is false without an error if somebody else holds it. Locks still held when the
// handle is closed are released.
func (h *Handle) AcquireLock(name string, timeout time.Duration, done func(acquired bool, owner string, err error)) {
	submit(h, "acquire_lock", func(db.Engine) (lockResult, error) {
		var res lockResult
		err := h.write(func() (err error) {
			res.acquired, res.owner, err = h.locks.AcquireLock(name, timeout)
			return err
		})
		return res, err
	}, func(res lockResult, err error) {
		if done != nil {
			done(res.acquired, res.owner, err)
		}
	})
}

// ReleaseLock releases the named lock if owner holds it. Releasing a lock that does not
// exist succeeds.
func (h *Handle) ReleaseLock(name, owner string, done func(released bool, err error)) {
	submit(h, "release_lock", func(db.Engine) (bool, error) {
		var released bool
		err := h.write(func() (err error) {
			released, err = h.locks.ReleaseLock(name, owner)
			return err
		})
		return released, err
	}, done)
}
