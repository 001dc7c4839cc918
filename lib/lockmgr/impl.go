package lockmgr

import (
	"errors"
	"time"

	"github.com/ValentinKolb/ikv/lib/db"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("lockmgr")

type lockMgrImpl struct {
	engine db.Engine
	held   *xsync.MapOf[string, string]
	now    func() time.Time
}

// NewLockManager creates a new lock manager storing its locks in engine.
// The engine must be open as a writer.
func NewLockManager(engine db.Engine) ILockManager {
	return &lockMgrImpl{
		engine: engine,
		held:   xsync.NewMapOf[string, string](),
		now:    time.Now,
	}
}

func (l *lockMgrImpl) AcquireLock(name string, timeout time.Duration) (bool, string, error) {
	now := l.now()
	record := lockRecord{owner: generateOwnerID()}
	if timeout > 0 {
		record.expiry = now.Add(timeout).UnixNano()
	}

	acquired := false
	_, err := l.engine.AcceptBulk([][]byte{lockKey(name)}, func(_, value []byte, found bool) db.Action {
		if found {
			current, ok := decodeLock(value)
			if !ok || !current.expired(now) {
				return db.Nop()
			}
			log.Debugf("taking over expired lock %q from %s", name, current.owner)
		}
		acquired = true
		return db.ReplaceWith(record.encode())
	}, true)
	if err != nil {
		return false, "", err
	}
	if !acquired {
		return false, "", nil
	}

	l.held.Store(name, record.owner)
	return true, record.owner, nil
}

func (l *lockMgrImpl) ReleaseLock(name string, ownerID string) (bool, error) {
	released := true
	_, err := l.engine.AcceptBulk([][]byte{lockKey(name)}, func(_, value []byte, found bool) db.Action {
		if !found {
			return db.Nop()
		}
		if current, ok := decodeLock(value); ok && current.owner == ownerID {
			return db.Remove()
		}
		released = false
		return db.Nop()
	}, true)
	if err != nil {
		return false, err
	}

	if released {
		l.held.Compute(name, func(owner string, loaded bool) (string, bool) {
			// only forget the entry if it still belongs to this owner
			return owner, !loaded || owner == ownerID
		})
	}
	return released, nil
}

func (l *lockMgrImpl) Held() map[string]string {
	held := make(map[string]string, l.held.Size())
	l.held.Range(func(name, owner string) bool {
		held[name] = owner
		return true
	})
	return held
}

func (l *lockMgrImpl) ReleaseAll() error {
	var errs []error
	for name, owner := range l.Held() {
		ok, err := l.ReleaseLock(name, owner)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			// taken over after expiry
			l.held.Delete(name)
			log.Warningf("lock %q was no longer held by %s", name, owner)
		}
	}
	return errors.Join(errs...)
}
